// FILE: metrics.go
// Package metrics holds the Prometheus vectors the execution engine
// updates during operation, registered once and served by the HTTP
// handler cmd/router wires at /metrics — the same shape as the
// teacher's metrics.go (package-level prometheus.New*Vec values,
// registered in init, no per-request allocation).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IntentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_intents_processed_total",
			Help: "Intents picked up by the execution engine's tick loop.",
		},
		[]string{"pair"},
	)

	IntentsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_intents_executed_total",
			Help: "Intents that reached a successful on-chain submission.",
		},
		[]string{"pair"},
	)

	IntentsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_intents_failed_total",
			Help: "Intents that failed routing, transaction composition or submission.",
		},
		[]string{"pair", "reason"},
	)

	IntentsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_intents_skipped_total",
			Help: "Intents skipped as in-flight, recently executed, expired, undecryptable, unroutable, or out of bounds.",
		},
		[]string{"reason"},
	)

	TotalGasUsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "router_gas_used_total",
			Help: "Cumulative gas used across all successful submissions.",
		},
	)

	StartedAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_started_at_seconds",
			Help: "Unix timestamp when the execution engine started.",
		},
	)

	QuoteDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_quote_duration_seconds",
			Help:    "Wall-clock time spent in one Route call.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(
		IntentsProcessed,
		IntentsExecuted,
		IntentsFailed,
		IntentsSkipped,
		TotalGasUsed,
		StartedAt,
		QuoteDurationSeconds,
	)
}
