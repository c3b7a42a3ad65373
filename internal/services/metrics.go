// Package services – domain metrics.
//
// Counters here track pipeline outcomes rather than HTTP traffic (the
// middleware layer owns that). Label sets are small fixed enums to keep
// cardinality bounded.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// reactionsTotal counts reaction signals by terminal outcome:
	// processed, duplicate, no_events, unavailable, failed.
	reactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_reactions_total",
			Help: "Total reaction signals by outcome.",
		},
		[]string{"outcome"},
	)

	// aiCallsTotal counts model calls by operation and outcome.
	aiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_ai_calls_total",
			Help: "Total Gemini calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// aiCacheHitsTotal counts AI response cache hits by operation.
	aiCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_ai_cache_hits_total",
			Help: "Total AI response cache hits by operation.",
		},
		[]string{"operation"},
	)

	// dedupFailOpenTotal counts gate decisions taken without a durable claim
	// because the store errored or timed out.
	dedupFailOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "calendar_dedup_fail_open_total",
			Help: "Total dedup decisions that failed open on store errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(reactionsTotal, aiCallsTotal, aiCacheHitsTotal, dedupFailOpenTotal)
}
