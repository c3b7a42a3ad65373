// Package services – ExtractionService
//
// This file implements the AI-facing half of the pipeline: pulling structured
// events out of free-form Slack text, summarizing long messages, and the small
// auxiliary generations (titles, meeting credentials).
//
// The primary extraction path asks the model for JSON constrained by a
// response schema. When that path yields something unparseable the service
// falls back to a legacy free-text prompt and progressively looser salvage
// parsing. Parse failures end in an empty result, never an error; what does
// propagate are the conditions no fallback can fix: fatal API errors (bad
// key, rejected request), a spent wall-clock budget, and a still-overloaded
// backend after all retries.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-calendar-bot/internal/ai"
	"github.com/tbourn/go-calendar-bot/internal/cache"
	"github.com/tbourn/go-calendar-bot/internal/domain"
)

// TextGenerator is the slice of the AI client the service needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, req ai.GenerateRequest) (string, error)
}

// ExtractionService wraps the Gemini client with caching, retries, and a
// wall-clock budget.
type ExtractionService struct {
	AI    TextGenerator
	Cache *cache.TTL[string]
	Retry ai.RetryPolicy

	// Timeout bounds each public operation end to end, retries included.
	// Zero means 15s.
	Timeout time.Duration

	// MinTextRunes gates extraction; shorter inputs return no events without
	// a model call. Zero means 10.
	MinTextRunes int

	// SummaryMaxRunes is the passthrough threshold for Summarize. Zero means 100.
	SummaryMaxRunes int

	// Now supplies the prompt's current date and time.
	Now func() time.Time
}

const (
	defaultAITimeout       = 15 * time.Second
	defaultMinTextRunes    = 10
	defaultSummaryMaxRunes = 100

	// aiCacheKeyBytes caps how much of the input participates in the cache key.
	aiCacheKeyBytes = 512
)

// eventSchema constrains the primary extraction response. Only the title is
// required; everything else is best effort.
var eventSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "予定やイベントのタイトル",
			},
			"date": map[string]any{
				"type":        "string",
				"description": "予定の日付（YYYY-MM-DD形式）",
			},
			"startTime": map[string]any{
				"type":        "string",
				"description": "開始時間（HH:MM形式、24時間表記）",
			},
			"endTime": map[string]any{
				"type":        "string",
				"description": "終了時間（HH:MM形式、24時間表記）",
			},
			"location": map[string]any{
				"type":        "string",
				"description": "予定の物理的な場所（会議室、ビル名など）。URLは含めないでください。",
				"nullable":    true,
			},
			"description": map[string]any{
				"type":        "string",
				"description": "予定の詳細な説明。オンラインミーティングのURLや追加情報を含む。",
				"nullable":    true,
			},
		},
		"required": []string{"title"},
	},
}

var (
	codeFenceRE    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	bracketArrayRE = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
)

// meetingNegations mark an ExtractMeetingInfo answer as "nothing found".
var meetingNegations = []string{"not found", "none", "見つかりません"}

// ExtractEvents pulls calendar events out of text. Inputs shorter than
// MinTextRunes return an empty slice immediately. Fatal, timed-out, and
// overloaded API errors are returned (joined with the matching sentinel so
// callers can branch on it); every other failure degrades to the legacy path
// and finally to an empty slice.
func (s *ExtractionService) ExtractEvents(ctx context.Context, text string) ([]domain.ExtractedEvent, error) {
	tr := otel.Tracer("services/ExtractionService")
	ctx, span := tr.Start(ctx, "ExtractEvents",
		trace.WithAttributes(attribute.Int("text.len", len(text))),
	)
	defer span.End()

	if utf8.RuneCountInString(text) < s.minTextRunes() {
		return []domain.ExtractedEvent{}, nil
	}

	if cached, ok := s.cacheGet("extract", text); ok {
		var events []domain.ExtractedEvent
		if json.Unmarshal([]byte(cached), &events) == nil {
			return events, nil
		}
	}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	now := s.now()
	system := "あなたはテキストから予定やイベント情報を抽出するシステムです。\n" +
		"テキストから予定情報を見つけて、JSONスキーマに沿った形式でレスポンスを返してください。\n" +
		"複数の予定が含まれている場合は、それぞれを個別に抽出してください。\n" +
		"予定が見つからない場合は空の配列[]を返してください。\n\n" +
		"現在の日時は " + now.Format("2006-01-02") + " " + now.Format("15:04") + " であることを考慮してください。"
	prompt := "以下のテキストから予定やイベント情報を抽出してください：\n" + text

	var raw string
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		var genErr error
		raw, genErr = s.AI.GenerateText(ctx, ai.GenerateRequest{
			System:         system,
			Prompt:         prompt,
			Temperature:    0.2,
			TopP:           0.8,
			ResponseSchema: eventSchema,
		})
		return genErr
	})
	if err != nil {
		switch {
		case ai.IsFatal(err):
			aiCallsTotal.WithLabelValues("extract", "fatal").Inc()
			return nil, errors.Join(ErrAIAuth, err)
		case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
			// The budget is spent; the legacy call could not run either.
			aiCallsTotal.WithLabelValues("extract", "timeout").Inc()
			return nil, errors.Join(ErrExtractionTimeout, err)
		case ai.IsOverloaded(err):
			// Retries already backed off; hammering the legacy prompt at an
			// overloaded service would not help.
			aiCallsTotal.WithLabelValues("extract", "overloaded").Inc()
			return nil, errors.Join(ErrAIOverloaded, err)
		}
		log.Warn().Err(err).Msg("schema extraction failed, trying legacy prompt")
		aiCallsTotal.WithLabelValues("extract", "fallback").Inc()
		return s.extractEventsLegacy(ctx, text), nil
	}

	events, ok := parseEventArray(stripCodeFence(raw))
	if !ok {
		aiCallsTotal.WithLabelValues("extract", "fallback").Inc()
		return s.extractEventsLegacy(ctx, text), nil
	}

	aiCallsTotal.WithLabelValues("extract", "ok").Inc()
	s.cacheSetJSON("extract", text, events)
	return events, nil
}

// extractEventsLegacy retries extraction with a free-text prompt and salvage
// parsing: direct parse, fenced block, then the first bracketed array. Any
// failure returns an empty slice.
func (s *ExtractionService) extractEventsLegacy(ctx context.Context, text string) []domain.ExtractedEvent {
	now := s.now()
	prompt := "以下のテキストから予定やイベント情報を抽出してください。\n" +
		"複数の予定が含まれている場合は、それぞれを個別に抽出してください。\n\n" +
		"現在の日時は " + now.Format("2006-01-02") + " " + now.Format("15:04") + " であることを考慮してください。\n\n" +
		"各予定について、以下の情報を可能な限り特定してください：\n" +
		"- タイトル (title)\n" +
		"- 日付（YYYY-MM-DD形式）(date)\n" +
		"- 開始時間（HH:MM形式、24時間表記）(startTime)\n" +
		"- 終了時間（HH:MM形式、24時間表記）(endTime)\n" +
		"- 場所（物理的な場所のみ。オンラインミーティングのURLは含めないでください）(location)\n" +
		"- 説明（オンラインミーティングのURLや詳細情報を含む）(description)\n\n" +
		"JSONの配列形式のみで返してください。余分なテキストは含めないでください。\n" +
		"予定が見つからない場合は空の配列[]を返してください。\n\n" +
		"テキスト: " + text

	var raw string
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		var genErr error
		raw, genErr = s.AI.GenerateText(ctx, ai.GenerateRequest{
			Prompt:          prompt,
			Temperature:     0.2,
			TopP:            0.8,
			MaxOutputTokens: 1024,
		})
		return genErr
	})
	if err != nil {
		log.Warn().Err(err).Msg("legacy extraction failed")
		aiCallsTotal.WithLabelValues("extract_legacy", "error").Inc()
		return []domain.ExtractedEvent{}
	}

	events := salvageEventArray(raw)
	aiCallsTotal.WithLabelValues("extract_legacy", "ok").Inc()
	s.cacheSetJSON("extract", text, events)
	return events
}

// Summarize condenses text to at most SummaryMaxRunes characters. Short
// inputs pass through untouched; model failures degrade to a hard truncation
// with a trailing ellipsis.
func (s *ExtractionService) Summarize(ctx context.Context, text string) string {
	tr := otel.Tracer("services/ExtractionService")
	ctx, span := tr.Start(ctx, "Summarize")
	defer span.End()

	max := s.summaryMaxRunes()
	if utf8.RuneCountInString(text) <= max {
		return text
	}

	if cached, ok := s.cacheGet("summarize", text); ok {
		return cached
	}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	var raw string
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		var genErr error
		raw, genErr = s.AI.GenerateText(ctx, ai.GenerateRequest{
			Prompt:          "以下のテキストを100文字以内で要約してください:\n" + text,
			Temperature:     0.2,
			TopP:            0.8,
			MaxOutputTokens: 100,
		})
		return genErr
	})
	if err != nil {
		log.Warn().Err(err).Msg("summarize failed, truncating")
		aiCallsTotal.WithLabelValues("summarize", "error").Inc()
		return truncateRunes(text, max-3) + "..."
	}

	summary := strings.TrimSpace(raw)
	aiCallsTotal.WithLabelValues("summarize", "ok").Inc()
	s.cacheSet("summarize", text, summary)
	return summary
}

// GenerateTitle produces a short event title for text, optionally steered by
// hint. Failures return "".
func (s *ExtractionService) GenerateTitle(ctx context.Context, text, hint string) string {
	tr := otel.Tracer("services/ExtractionService")
	ctx, span := tr.Start(ctx, "GenerateTitle")
	defer span.End()

	if cached, ok := s.cacheGet("title", hint+"\n"+text); ok {
		return cached
	}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	prompt := "以下のテキストの予定にふさわしい短いタイトルを1つだけ返してください。タイトル以外は含めないでください。\n"
	if hint != "" {
		prompt += "ヒント: " + hint + "\n"
	}
	prompt += "テキスト: " + text

	var raw string
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		var genErr error
		raw, genErr = s.AI.GenerateText(ctx, ai.GenerateRequest{
			Prompt:          prompt,
			Temperature:     0.4,
			TopP:            0.8,
			MaxOutputTokens: 30,
		})
		return genErr
	})
	if err != nil {
		aiCallsTotal.WithLabelValues("title", "error").Inc()
		return ""
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"「」`))
	aiCallsTotal.WithLabelValues("title", "ok").Inc()
	s.cacheSet("title", hint+"\n"+text, title)
	return title
}

// ExtractMeetingInfo pulls meeting credentials (ID, passcode, dial-in) out of
// text. Best effort: failures and negative answers return "".
func (s *ExtractionService) ExtractMeetingInfo(ctx context.Context, text string) string {
	tr := otel.Tracer("services/ExtractionService")
	ctx, span := tr.Start(ctx, "ExtractMeetingInfo")
	defer span.End()

	if cached, ok := s.cacheGet("meeting", text); ok {
		return cached
	}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	var raw string
	err := s.Retry.Do(ctx, func(ctx context.Context) error {
		var genErr error
		raw, genErr = s.AI.GenerateText(ctx, ai.GenerateRequest{
			Prompt: "以下のテキストからオンライン会議の参加情報（ミーティングID、パスコード、電話番号など）だけを抜き出してください。" +
				"見つからない場合は「見つかりません」とだけ返してください。\nテキスト: " + text,
			Temperature:     0.2,
			TopP:            0.8,
			MaxOutputTokens: 200,
		})
		return genErr
	})
	if err != nil {
		aiCallsTotal.WithLabelValues("meeting", "error").Inc()
		return ""
	}

	answer := strings.TrimSpace(raw)
	lower := strings.ToLower(answer)
	for _, neg := range meetingNegations {
		if strings.Contains(lower, neg) {
			answer = ""
			break
		}
	}
	aiCallsTotal.WithLabelValues("meeting", "ok").Inc()
	s.cacheSet("meeting", text, answer)
	return answer
}

// --- helpers ---

func (s *ExtractionService) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *ExtractionService) minTextRunes() int {
	if s.MinTextRunes > 0 {
		return s.MinTextRunes
	}
	return defaultMinTextRunes
}

func (s *ExtractionService) summaryMaxRunes() int {
	if s.SummaryMaxRunes > 0 {
		return s.SummaryMaxRunes
	}
	return defaultSummaryMaxRunes
}

func (s *ExtractionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(op, text string) string {
	if len(text) > aiCacheKeyBytes {
		text = text[:aiCacheKeyBytes]
	}
	return op + ":" + text
}

func (s *ExtractionService) cacheGet(op, text string) (string, bool) {
	if s.Cache == nil {
		return "", false
	}
	v, ok := s.Cache.Get(cacheKey(op, text))
	if ok {
		aiCacheHitsTotal.WithLabelValues(op).Inc()
	}
	return v, ok
}

func (s *ExtractionService) cacheSet(op, text, value string) {
	if s.Cache == nil {
		return
	}
	s.Cache.Set(cacheKey(op, text), value)
}

func (s *ExtractionService) cacheSetJSON(op, text string, events []domain.ExtractedEvent) {
	if s.Cache == nil {
		return
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return
	}
	s.Cache.Set(cacheKey(op, text), string(raw))
}

// stripCodeFence unwraps a ```json fenced block, if present.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := codeFenceRE.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// parseEventArray attempts a strict parse of raw as a JSON event array.
func parseEventArray(raw string) ([]domain.ExtractedEvent, bool) {
	var events []domain.ExtractedEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, false
	}
	if events == nil {
		events = []domain.ExtractedEvent{}
	}
	return events, true
}

// salvageEventArray applies the progressive legacy parse: direct, fenced,
// then the first bracketed object array. Anything else is an empty slice.
func salvageEventArray(raw string) []domain.ExtractedEvent {
	if events, ok := parseEventArray(strings.TrimSpace(raw)); ok {
		return events
	}
	if m := codeFenceRE.FindStringSubmatch(raw); m != nil {
		if events, ok := parseEventArray(strings.TrimSpace(m[1])); ok {
			return events
		}
	}
	if m := bracketArrayRE.FindString(raw); m != "" {
		if events, ok := parseEventArray(m); ok {
			return events
		}
	}
	return []domain.ExtractedEvent{}
}

func truncateRunes(s string, n int) string {
	if n < 0 {
		n = 0
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
