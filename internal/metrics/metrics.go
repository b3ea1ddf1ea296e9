package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_gateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_gateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	ThreadsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_gateway_threads_created_total",
			Help: "Total number of assistant threads created",
		},
		[]string{"scope"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_gateway_run_duration_seconds",
			Help:    "Wall-clock duration of assistant runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	RunPolls = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_gateway_run_polls",
			Help:    "Number of status polls per assistant run attempt",
			Buckets: prometheus.LinearBuckets(1, 5, 12),
		},
	)

	RunRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_gateway_run_retries_total",
			Help: "Total number of assistant run retries",
		},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_gateway_active_runs",
			Help: "Number of assistant runs currently in flight",
		},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_gateway_tool_calls_total",
			Help: "Total number of tool calls serviced",
		},
		[]string{"tool", "outcome"},
	)

	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_gateway_chat_turns_total",
			Help: "Total number of chat turns processed",
		},
		[]string{"kind", "status"},
	)
)
