// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the ReactionClaim
// model used to deduplicate reaction signals across process restarts.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-calendar-bot/internal/domain"
)

// ErrNotFound indicates that no claim exists for the given reaction key.
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates that a claim already exists for the given
// (channel_id, message_ts, reaction) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetClaim returns the existing claim for key, or ErrNotFound.
func GetClaim(ctx context.Context, db *gorm.DB, key domain.ReactionKey) (*domain.ReactionClaim, error) {
	var rec domain.ReactionClaim
	err := db.WithContext(ctx).
		Where("channel_id = ? AND message_ts = ? AND reaction = ?", key.ChannelID, key.MessageTS, key.Reaction).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateClaim inserts a claim and returns ErrDuplicate on unique violation.
func CreateClaim(ctx context.Context, db *gorm.DB, key domain.ReactionKey, userID string) (*domain.ReactionClaim, error) {
	rec := &domain.ReactionClaim{
		ID:          uuid.NewString(),
		ChannelID:   key.ChannelID,
		MessageTS:   key.MessageTS,
		Reaction:    key.Reaction,
		UserID:      userID,
		ProcessedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// ClaimReaction atomically records a claim for key if none exists yet.
// It returns true when this call won the claim, false when the signal was
// already claimed by an earlier call.
func ClaimReaction(ctx context.Context, db *gorm.DB, key domain.ReactionKey, userID string) (bool, error) {
	var won bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := GetClaim(ctx, tx, key)
		if err == nil {
			won = false
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := CreateClaim(ctx, tx, key, userID); err != nil {
			if errors.Is(err, ErrDuplicate) {
				won = false
				return nil
			}
			return err
		}
		won = true
		return nil
	})
	return won, err
}
