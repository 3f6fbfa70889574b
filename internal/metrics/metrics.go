// Package metrics holds the Prometheus collectors of the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_model_calls_total",
			Help: "Generation calls by provider and normalized finish reason",
		},
		[]string{"provider", "finish"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scribe_model_call_duration_seconds",
			Help:    "Generation call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"provider"},
	)

	StageFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_stage_fallbacks_total",
			Help: "Pipeline stages that substituted their local default",
		},
		[]string{"stage"},
	)

	DispatchDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_dispatch_decisions_total",
			Help: "Dispatcher decisions",
		},
		[]string{"decision"}, // execute, clarify, fallback
	)

	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_capability_calls_total",
			Help: "Capability handler invocations by method and outcome",
		},
		[]string{"method", "status"}, // status: ok, failed
	)

	CapabilityRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_capability_retries_total",
			Help: "Retries of capability handlers after transient errors",
		},
		[]string{"method"},
	)

	RemindersSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_reminders_sent_total",
			Help: "Task reminders delivered to users",
		},
	)
)

// RecordModelCall records one generation call.
func RecordModelCall(provider, finish string, duration time.Duration) {
	ModelCalls.WithLabelValues(provider, finish).Inc()
	ModelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// IncrementStageFallback counts a stage default substitution.
func IncrementStageFallback(stage string) {
	StageFallbacks.WithLabelValues(stage).Inc()
}

// IncrementDecision counts a dispatcher decision.
func IncrementDecision(decision string) {
	DispatchDecisions.WithLabelValues(decision).Inc()
}

// RecordCapabilityCall counts a handler outcome.
func RecordCapabilityCall(method, status string) {
	CapabilityCalls.WithLabelValues(method, status).Inc()
}

// IncrementCapabilityRetry counts a handler retry.
func IncrementCapabilityRetry(method string) {
	CapabilityRetries.WithLabelValues(method).Inc()
}
