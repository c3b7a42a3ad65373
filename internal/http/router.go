// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, Slack signature verification, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-calendar-bot/internal/ai"
	"github.com/tbourn/go-calendar-bot/internal/cache"
	"github.com/tbourn/go-calendar-bot/internal/calendar"
	"github.com/tbourn/go-calendar-bot/internal/config"
	"github.com/tbourn/go-calendar-bot/internal/http/handlers"
	"github.com/tbourn/go-calendar-bot/internal/http/middleware"
	"github.com/tbourn/go-calendar-bot/internal/services"
	"github.com/tbourn/go-calendar-bot/internal/slack"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// Slack Events API endpoint behind signature verification.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Response compression
//  7. Metrics
//  8. Rate limiter (per client IP)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-Slack-Signature", // never log request credentials
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; Slack event payloads are small)
	r.Use(limitBody(1 << 20))

	// 6) Compress responses for clients that ask for it
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Slack-Signature", "X-Slack-Request-Timestamp"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Slack-Signature", "X-Slack-Request-Timestamp"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: pipeline ← clients/db/cfg
	aiClient := ai.NewClient(
		&http.Client{Timeout: cfg.Gemini.Timeout},
		cfg.Gemini.BaseURL,
		cfg.Gemini.APIKey,
		cfg.Gemini.ModelName,
	)
	slackClient := slack.NewClient(nil, cfg.Slack.APIBaseURL, cfg.Slack.BotToken, cfg.Slack.TeamID)

	gate := &services.DedupGate{
		DB:       db,
		Cache:    cache.NewTTL[struct{}](cfg.Dedup.CacheTTL, cfg.Dedup.CacheMaxEntries),
		Readonly: cfg.Dedup.Readonly,
		Timeout:  cfg.Dedup.Timeout,
	}
	extractor := &services.ExtractionService{
		AI:    aiClient,
		Cache: cache.NewTTL[string](cfg.AICacheTTL, cfg.AICacheMaxEntries),
		Retry: ai.RetryPolicy{
			MaxAttempts: cfg.Gemini.MaxRetries,
			BaseDelay:   cfg.Gemini.RetryBase,
		},
		Timeout:         cfg.Gemini.Timeout,
		MinTextRunes:    cfg.MinTextRunes,
		SummaryMaxRunes: cfg.SummaryMaxRunes,
	}
	orchestrator := &services.BatchOrchestrator{
		Slack:           slackClient,
		Extractor:       extractor,
		Encoder:         calendar.NewEncoder(),
		MaxEvents:       cfg.MaxEvents,
		BatchSize:       cfg.BatchSize,
		SummaryMaxRunes: cfg.SummaryMaxRunes,
	}
	reactions := &services.ReactionService{
		Gate:               gate,
		Extractor:          extractor,
		Orchestrator:       orchestrator,
		Slack:              slackClient,
		CalendarReactions:  cfg.Slack.CalendarReactions,
		ProcessingReaction: cfg.Slack.ProcessingReaction,
		NoEventsReaction:   cfg.Slack.NoEventsReaction,
	}
	h := &handlers.SlackEventsHandler{Reactions: reactions}

	// Slack Events API; signature verification is route-local so /health and
	// /metrics stay reachable without Slack headers.
	r.POST("/slack/events",
		middleware.VerifySlackSignature(middleware.SlackSignatureOptions{
			SigningSecret: cfg.Slack.SigningSecret,
		}),
		h.Events,
	)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
