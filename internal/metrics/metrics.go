package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolecraft_answer_cycles_total",
		Help: "Answer cycles by outcome",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rolecraft_answer_cycle_duration_seconds",
		Help:    "Answer cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	Iterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rolecraft_reflection_iterations",
		Help:    "Retrieval phases per answer cycle",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
	})

	IndexQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolecraft_index_queries_total",
		Help: "Lexical index queries by kind and granularity",
	}, []string{"kind", "granularity"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolecraft_cache_lookups_total",
		Help: "Sub-query cache lookups by result",
	}, []string{"result"})

	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolecraft_oracle_calls_total",
		Help: "Oracle attempts by task and result",
	}, []string{"task", "result"})

	EvictedTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rolecraft_evicted_turns_total",
		Help: "Conversation turns evicted from memory",
	})

	RetainedTurns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rolecraft_retained_turns",
		Help: "Conversation turns currently retained",
	})
)
