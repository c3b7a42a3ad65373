// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, Slack credentials, Gemini model selection,
// dedup behavior, batching limits, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-calendar-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SlackConfig holds credentials and behavior knobs for the Slack Web API and
// the reaction-driven trigger.
type SlackConfig struct {
	BotToken      string // SLACK_BOT_TOKEN (xoxb-…); empty enables demo mode
	SigningSecret string // SLACK_SIGNING_SECRET for request verification
	TeamID        string // SLACK_TEAM_ID, used to build message permalinks
	APIBaseURL    string // override for tests; defaults to https://slack.com/api

	// CalendarReactions is the set of emoji names that trigger processing.
	CalendarReactions []string
	// ProcessingReaction is added while a message is being processed.
	ProcessingReaction string
	// NoEventsReaction is added when no events were found in a message.
	NoEventsReaction string
}

// GeminiConfig holds the AI backend credentials, model name, and the retry
// and timeout policy applied to every generation call.
type GeminiConfig struct {
	APIKey     string // GEMINI_API_KEY
	BaseURL    string // override for tests; defaults to the Google endpoint
	ModelName  string // GEMINI_MODEL for extraction and auxiliary calls
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// DedupConfig controls the reaction duplicate-suppression gate.
type DedupConfig struct {
	Readonly        bool          // DEDUP_READONLY disables claim writes
	Timeout         time.Duration // bound on the claim transaction
	CacheTTL        time.Duration // in-process fast-path cache TTL
	CacheMaxEntries int           // in-process fast-path cache size cap
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath          string // SQLite path for the claim store
	MaxEvents       int    // cap on events processed per message
	BatchSize       int    // width of each parallel posting batch
	MinTextRunes    int    // texts shorter than this skip the AI call
	SummaryMaxRunes int    // shared-description summary cap

	// Response cache for AI calls
	AICacheTTL        time.Duration
	AICacheMaxEntries int

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Collaborators
	Slack  SlackConfig
	Gemini GeminiConfig
	Dedup  DedupConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// DemoMode reports whether the app runs without Slack credentials. In demo
// mode the event endpoint still answers URL verification challenges, but no
// Slack calls are made.
func (c Config) DemoMode() bool { return strings.TrimSpace(c.Slack.BotToken) == "" }

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:          getenv("DB_PATH", "app.db"),
		MaxEvents:       getint("MAX_EVENTS", 5),
		BatchSize:       getint("BATCH_SIZE", 3),
		MinTextRunes:    getint("MIN_TEXT_RUNES", 10),
		SummaryMaxRunes: getint("SUMMARY_MAX_RUNES", 100),

		// Response cache
		AICacheTTL:        getdur("AI_CACHE_TTL", 15*time.Minute),
		AICacheMaxEntries: getint("AI_CACHE_MAX_ENTRIES", 1000),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		Slack: SlackConfig{
			BotToken:           getenv("SLACK_BOT_TOKEN", ""),
			SigningSecret:      getenv("SLACK_SIGNING_SECRET", ""),
			TeamID:             getenv("SLACK_TEAM_ID", ""),
			APIBaseURL:         getenv("SLACK_API_BASE_URL", "https://slack.com/api"),
			CalendarReactions:  splitCSV(getenv("CALENDAR_REACTIONS", "calendar,カレンダー,calendar_spiral,date,カレンダーに入れる,calendar-bot")),
			ProcessingReaction: getenv("PROCESSING_REACTION", "hourglass_flowing_sand"),
			NoEventsReaction:   getenv("NO_EVENTS_REACTION", "no_entry_sign"),
		},

		Gemini: GeminiConfig{
			APIKey:     getenv("GEMINI_API_KEY", ""),
			BaseURL:    getenv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			ModelName:  getenv("GEMINI_MODEL", "gemini-2.5-flash-lite-preview-06-17"),
			Timeout:    getdur("AI_TIMEOUT", 15*time.Second),
			MaxRetries: getint("AI_MAX_RETRIES", 3),
			RetryBase:  getdur("AI_RETRY_BASE", time.Second),
		},

		Dedup: DedupConfig{
			Readonly:        getbool("DEDUP_READONLY", false),
			Timeout:         getdur("DEDUP_TIMEOUT", 6*time.Second),
			CacheTTL:        getdur("DEDUP_CACHE_TTL", 10*time.Minute),
			CacheMaxEntries: getint("DEDUP_CACHE_MAX_ENTRIES", 10000),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-calendar-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.MaxEvents < 1 {
		return cfg, errors.New("MAX_EVENTS must be >= 1")
	}
	if cfg.BatchSize < 1 {
		return cfg, errors.New("BATCH_SIZE must be >= 1")
	}
	if cfg.MinTextRunes < 0 {
		return cfg, errors.New("MIN_TEXT_RUNES must be >= 0")
	}
	if cfg.SummaryMaxRunes < 1 {
		return cfg, errors.New("SUMMARY_MAX_RUNES must be >= 1")
	}
	if cfg.AICacheTTL <= 0 {
		return cfg, errors.New("AI_CACHE_TTL must be > 0")
	}
	if cfg.AICacheMaxEntries < 1 {
		return cfg, errors.New("AI_CACHE_MAX_ENTRIES must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if len(cfg.Slack.CalendarReactions) == 0 {
		return cfg, errors.New("CALENDAR_REACTIONS must not be empty")
	}
	if strings.TrimSpace(cfg.Slack.ProcessingReaction) == "" {
		return cfg, errors.New("PROCESSING_REACTION must not be empty")
	}
	if cfg.Gemini.Timeout <= 0 {
		return cfg, errors.New("AI_TIMEOUT must be > 0")
	}
	if cfg.Gemini.MaxRetries < 1 {
		return cfg, errors.New("AI_MAX_RETRIES must be >= 1")
	}
	if cfg.Gemini.RetryBase <= 0 {
		return cfg, errors.New("AI_RETRY_BASE must be > 0")
	}
	if cfg.Dedup.Timeout <= 0 {
		return cfg, errors.New("DEDUP_TIMEOUT must be > 0")
	}
	if cfg.Dedup.CacheTTL <= 0 {
		return cfg, errors.New("DEDUP_CACHE_TTL must be > 0")
	}
	if cfg.Dedup.CacheMaxEntries < 1 {
		return cfg, errors.New("DEDUP_CACHE_MAX_ENTRIES must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
