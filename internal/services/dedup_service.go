// Package services – DedupGate
//
// This file implements the idempotency gate in front of the pipeline. Every
// reaction signal passes through ShouldProcess exactly once; the gate answers
// whether this process should act on it. The fast path is an in-memory TTL
// cache, the slow path a transactional claim in SQLite so that restarts and
// Slack's retry storms cannot double-post calendar links.
//
// The gate fails OPEN: when the store errors or the budget elapses the signal
// is processed anyway.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-calendar-bot/internal/cache"
	"github.com/tbourn/go-calendar-bot/internal/domain"
	"github.com/tbourn/go-calendar-bot/internal/repo"
)

// DedupGate decides whether a reaction signal is new.
type DedupGate struct {
	DB    *gorm.DB
	Cache *cache.TTL[struct{}]

	// Readonly probes the store without writing a claim. The window between
	// probe and processing is an accepted race in this mode.
	Readonly bool

	// Timeout bounds the store round trip; zero means 6s.
	Timeout time.Duration
}

const defaultDedupTimeout = 6 * time.Second

// ShouldProcess reports whether the signal identified by key should be acted
// on. The first caller for a key wins; everyone after gets false. Store
// failures return true.
func (g *DedupGate) ShouldProcess(ctx context.Context, key domain.ReactionKey, userID string) bool {
	tr := otel.Tracer("services/DedupGate")
	ctx, span := tr.Start(ctx, "ShouldProcess",
		trace.WithAttributes(
			attribute.String("reaction.key", key.String()),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	cacheKey := key.String()
	if g.Cache != nil {
		if _, hit := g.Cache.Get(cacheKey); hit {
			reactionsTotal.WithLabelValues("duplicate").Inc()
			return false
		}
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = defaultDedupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	claimed, err := g.claim(ctx, key, userID)
	if err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("dedup store failed, processing anyway")
		dedupFailOpenTotal.Inc()
		return true
	}
	if !claimed {
		if g.Cache != nil {
			g.Cache.Set(cacheKey, struct{}{})
		}
		reactionsTotal.WithLabelValues("duplicate").Inc()
		return false
	}
	if g.Cache != nil {
		g.Cache.Set(cacheKey, struct{}{})
	}
	return true
}

func (g *DedupGate) claim(ctx context.Context, key domain.ReactionKey, userID string) (bool, error) {
	if g.Readonly {
		_, err := repo.GetClaim(ctx, g.DB, key)
		if err == nil {
			return false, nil
		}
		if errors.Is(err, repo.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return repo.ClaimReaction(ctx, g.DB, key, userID)
}
