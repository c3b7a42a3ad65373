// Package services – BatchOrchestrator
//
// This file turns a batch of extracted events into threaded Slack replies
// carrying Google Calendar links. Events share one description (a summary of
// the source message plus a permalink back to it) and are posted in small
// parallel batches with per-event failure isolation.
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-calendar-bot/internal/calendar"
	"github.com/tbourn/go-calendar-bot/internal/domain"
)

// MessagePoster posts threaded replies.
type MessagePoster interface {
	PostMessage(ctx context.Context, channelID, text, threadTS string) error
}

// Summarizer supplies the shared description and fallback titles.
type Summarizer interface {
	Summarize(ctx context.Context, text string) string
	GenerateTitle(ctx context.Context, text, hint string) string
}

// credentialMarkers waive the summary length cap; messages carrying join
// credentials are kept verbatim.
var credentialMarkers = []string{"Meeting ID", "Passcode", "パスコード"}

// BatchOrchestrator posts calendar links for extracted events.
type BatchOrchestrator struct {
	Slack     MessagePoster
	Extractor Summarizer
	Encoder   *calendar.Encoder

	// MaxEvents caps how many events of one message are processed. Zero means 5.
	MaxEvents int

	// BatchSize is the parallel posting width. Zero means 3.
	BatchSize int

	// SummaryMaxRunes is the passthrough threshold for the shared description.
	// Zero means 100.
	SummaryMaxRunes int
}

const (
	defaultMaxEvents = 5
	defaultBatchSize = 3
)

// Process posts one reply per event (original order preserved within the cap)
// and a single truncation notice when events exceed the cap. Individual event
// failures produce an error reply for that event and do not stop the rest.
func (o *BatchOrchestrator) Process(ctx context.Context, channelID, messageTS, originalText, permalink string, events []domain.ExtractedEvent) {
	tr := otel.Tracer("services/BatchOrchestrator")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.Int("events", len(events)),
		),
	)
	defer span.End()

	max := o.MaxEvents
	if max <= 0 {
		max = defaultMaxEvents
	}
	if len(events) > max {
		notice := fmt.Sprintf("注意: %d件の予定が検出されましたが、処理数制限のため最初の%d件のみ処理します。", len(events), max)
		if err := o.Slack.PostMessage(ctx, channelID, notice, messageTS); err != nil {
			log.Warn().Err(err).Msg("truncation notice failed")
		}
		events = events[:max]
	}

	description := o.buildDescription(ctx, originalText, permalink)

	batch := o.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	for start := 0; start < len(events); start += batch {
		end := start + batch
		if end > len(events) {
			end = len(events)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(ev domain.ExtractedEvent) {
				defer wg.Done()
				o.processOne(ctx, channelID, messageTS, originalText, description, ev)
			}(events[i])
		}
		wg.Wait()
	}
}

// buildDescription produces the description every event shares: the original
// text (summarized when long, unless it carries meeting credentials) plus a
// permalink trailer.
func (o *BatchOrchestrator) buildDescription(ctx context.Context, originalText, permalink string) string {
	desc := originalText
	if utf8.RuneCountInString(originalText) > o.summaryMaxRunes() && !containsCredentials(originalText) {
		desc = o.Extractor.Summarize(ctx, originalText)
	}
	return desc + "\n\nSlack投稿: " + permalink
}

func (o *BatchOrchestrator) processOne(ctx context.Context, channelID, messageTS, originalText, description string, ev domain.ExtractedEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("title", ev.Title).Msg("event processing panicked")
			o.postEventError(ctx, channelID, messageTS, ev.Title, fmt.Errorf("panic: %v", r))
		}
	}()

	if ev.Title == "" {
		ev.Title = o.Extractor.GenerateTitle(ctx, originalText, ev.Date)
	}
	ev.Description = description

	url := o.Encoder.BuildURL(ev)

	title := ev.Title
	if title == "" {
		title = calendar.DefaultTitle
	}
	text := "予定を検出しました: " + title + "\n" + url
	if err := o.Slack.PostMessage(ctx, channelID, text, messageTS); err != nil {
		log.Error().Err(err).Str("title", title).Msg("event reply failed")
		o.postEventError(ctx, channelID, messageTS, title, err)
	}
}

func (o *BatchOrchestrator) postEventError(ctx context.Context, channelID, messageTS, title string, cause error) {
	if strings.TrimSpace(title) == "" {
		title = "不明"
	}
	text := fmt.Sprintf("この予定の処理中にエラーが発生しました: %s", title)
	if err := o.Slack.PostMessage(ctx, channelID, text, messageTS); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("event error reply failed")
	}
}

func (o *BatchOrchestrator) summaryMaxRunes() int {
	if o.SummaryMaxRunes > 0 {
		return o.SummaryMaxRunes
	}
	return defaultSummaryMaxRunes
}

func containsCredentials(text string) bool {
	for _, marker := range credentialMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
