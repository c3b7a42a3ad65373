// Package services – ReactionService
//
// This file is the pipeline entry point: one reaction_added event in, at most
// one of success replies / no-events notice / error notice out. The hourglass
// indicator is added as soon as a calendar reaction is recognized and removed
// on every exit path.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-calendar-bot/internal/ai"
	"github.com/tbourn/go-calendar-bot/internal/calendar"
	"github.com/tbourn/go-calendar-bot/internal/domain"
)

// ReactionEvent is the subset of a Slack reaction_added payload the pipeline
// acts on.
type ReactionEvent struct {
	Reaction  string
	UserID    string
	ChannelID string
	MessageTS string
	ItemType  string
}

// Gate decides whether a signal is new.
type Gate interface {
	ShouldProcess(ctx context.Context, key domain.ReactionKey, userID string) bool
}

// Extractor pulls events out of message text.
type Extractor interface {
	ExtractEvents(ctx context.Context, text string) ([]domain.ExtractedEvent, error)
}

// Orchestrator posts calendar links for extracted events.
type Orchestrator interface {
	Process(ctx context.Context, channelID, messageTS, originalText, permalink string, events []domain.ExtractedEvent)
}

// SlackGateway is the Slack surface the pipeline needs beyond posting.
type SlackGateway interface {
	MessagePoster
	FetchMessageText(ctx context.Context, channelID, ts string) (string, error)
	AddReaction(ctx context.Context, channelID, ts, name string) error
	RemoveReaction(ctx context.Context, channelID, ts, name string) error
	Permalink(channelID, ts string) string
}

// ReactionService wires the gate, the extractor, and the orchestrator behind
// a reaction filter.
type ReactionService struct {
	Gate         Gate
	Extractor    Extractor
	Orchestrator Orchestrator
	Slack        SlackGateway

	// CalendarReactions is the emoji allowlist that triggers the pipeline.
	CalendarReactions []string

	// ProcessingReaction is the in-progress indicator emoji.
	ProcessingReaction string

	// NoEventsReaction marks messages where extraction found nothing.
	NoEventsReaction string
}

// HandleReactionAdded runs the full pipeline for one reaction_added event.
// Non-calendar reactions and non-message items return immediately.
func (s *ReactionService) HandleReactionAdded(ctx context.Context, ev ReactionEvent) {
	tr := otel.Tracer("services/ReactionService")
	ctx, span := tr.Start(ctx, "HandleReactionAdded",
		trace.WithAttributes(
			attribute.String("reaction", ev.Reaction),
			attribute.String("channel.id", ev.ChannelID),
		),
	)
	defer span.End()

	if !s.isCalendarReaction(ev.Reaction) || ev.ItemType != "message" {
		return
	}

	logger := log.With().
		Str("channel", ev.ChannelID).
		Str("ts", ev.MessageTS).
		Str("reaction", ev.Reaction).
		Logger()
	logger.Info().Msg("calendar reaction received")

	// Indicator goes up first; every return path below takes it down.
	if err := s.Slack.AddReaction(ctx, ev.ChannelID, ev.MessageTS, s.ProcessingReaction); err != nil {
		logger.Warn().Err(err).Msg("processing indicator add failed")
	}
	defer func() {
		if err := s.Slack.RemoveReaction(ctx, ev.ChannelID, ev.MessageTS, s.ProcessingReaction); err != nil {
			logger.Warn().Err(err).Msg("processing indicator remove failed")
		}
	}()

	key := domain.ReactionKey{ChannelID: ev.ChannelID, MessageTS: ev.MessageTS, Reaction: ev.Reaction}
	if !s.Gate.ShouldProcess(ctx, key, ev.UserID) {
		logger.Info().Msg("duplicate signal, skipping")
		return
	}

	text, err := s.Slack.FetchMessageText(ctx, ev.ChannelID, ev.MessageTS)
	if err != nil {
		logger.Warn().Err(errors.Join(ErrMessageUnavailable, err)).Msg("message unavailable")
		reactionsTotal.WithLabelValues("unavailable").Inc()
		return
	}
	text = calendar.UnwrapMarkup(text)

	events, err := s.Extractor.ExtractEvents(ctx, text)
	if err != nil {
		logger.Error().Err(err).Msg("extraction failed")
		reactionsTotal.WithLabelValues("failed").Inc()
		s.postError(ctx, ev, err, logger)
		return
	}

	if len(events) == 0 {
		logger.Info().Msg("no events detected")
		reactionsTotal.WithLabelValues("no_events").Inc()
		if err := s.Slack.AddReaction(ctx, ev.ChannelID, ev.MessageTS, s.NoEventsReaction); err != nil {
			logger.Warn().Err(err).Msg("no-events reaction failed")
		}
		if err := s.Slack.PostMessage(ctx, ev.ChannelID, "予定情報を検出できませんでした。", ev.MessageTS); err != nil {
			logger.Warn().Err(err).Msg("no-events reply failed")
		}
		return
	}

	permalink := s.Slack.Permalink(ev.ChannelID, ev.MessageTS)
	s.Orchestrator.Process(ctx, ev.ChannelID, ev.MessageTS, text, permalink, events)
	reactionsTotal.WithLabelValues("processed").Inc()
	logger.Info().Int("events", len(events)).Msg("reaction processed")
}

// postError posts a category-specific notice. Raw provider errors stay in
// the logs.
func (s *ReactionService) postError(ctx context.Context, ev ReactionEvent, cause error, logger zerolog.Logger) {
	var text string
	switch {
	case errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, ErrExtractionTimeout):
		text = "エラーが発生しました: AI処理がタイムアウトしました。しばらくしてからもう一度お試しください。"
	case ai.IsOverloaded(cause) || errors.Is(cause, ErrAIOverloaded):
		text = "エラーが発生しました: AIサービスが混雑しています。しばらくしてからもう一度お試しください。"
	default:
		text = "エラーが発生しました: 予定の抽出に失敗しました。"
	}
	if err := s.Slack.PostMessage(ctx, ev.ChannelID, text, ev.MessageTS); err != nil {
		logger.Warn().Err(err).Msg("error reply failed")
	}
}

func (s *ReactionService) isCalendarReaction(name string) bool {
	for _, r := range s.CalendarReactions {
		if r == name {
			return true
		}
	}
	return false
}
