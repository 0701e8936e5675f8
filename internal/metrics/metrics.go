// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_increments_total",
			Help: "Total number of committed score increments",
		},
		[]string{"integration"},
	)

	PointsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_points_awarded_total",
			Help: "Sum of positive deltas applied to the ledger",
		},
		[]string{"integration"},
	)

	CacheRefreshFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_cache_refresh_failures_total",
			Help: "Cache refreshes that failed after a committed increment",
		},
		[]string{"integration"},
	)

	CacheRowsReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_cache_rows_reconciled_total",
			Help: "Stale cache rows brought up to date by reconciliation",
		},
	)

	ConsistencyViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_consistency_violations_total",
			Help: "Detected missing score or cached score rows",
		},
	)

	ReadRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_read_retries_total",
			Help: "Reads retried after the store was unavailable",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	BotCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands handled",
		},
		[]string{"command"},
	)
)
