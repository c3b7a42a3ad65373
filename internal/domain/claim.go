// Package domain defines the core persistence and value types for the
// application. These types are used by GORM for database schema mapping and
// are shared across the repository and service layers.
package domain

import (
	"fmt"
	"time"
)

// ReactionKey identifies a single reaction signal: one emoji added to one
// message in one channel. It is the unit of deduplication for the whole
// pipeline.
type ReactionKey struct {
	ChannelID string
	MessageTS string
	Reaction  string
}

// String renders the key in its canonical "<channel>-<ts>-<reaction>" form,
// used as the claim identifier and as the dedup cache key.
func (k ReactionKey) String() string {
	return fmt.Sprintf("%s-%s-%s", k.ChannelID, k.MessageTS, k.Reaction)
}

// ReactionClaim records that a reaction signal has been processed (or is
// being processed). The unique index over (channel_id, message_ts, reaction)
// is what makes the claim transaction a check-and-set: a second writer for
// the same signal hits the constraint instead of double-processing.
type ReactionClaim struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ChannelID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_channel_ts_reaction,priority:1"`
	MessageTS   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_channel_ts_reaction,priority:2"`
	Reaction    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_channel_ts_reaction,priority:3"`
	UserID      string    `gorm:"type:TEXT NOT NULL"`
	ProcessedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (ReactionClaim) TableName() string { return "reaction_claims" }
