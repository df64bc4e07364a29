// Package observability holds the process-wide Prometheus metrics, tracer
// setup and logger construction.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alexanderramin/blueprint/internal/llm"
)

// =============================================================================
// CONVERSATION METRICS
// =============================================================================

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_events_total",
			Help: "Events handled by the state machine",
		},
		[]string{"kind", "outcome"}, // outcome: advanced, stayed, rejected, stale, ...
	)

	eventDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blueprint_event_duration_seconds",
			Help:    "Event handling duration in seconds, including composition",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15},
		},
		[]string{"kind"},
	)

	stageCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_stage_completions_total",
			Help: "Stages exited with a recap",
		},
		[]string{"stage"},
	)
)

// =============================================================================
// COMPOSITION METRICS
// =============================================================================

var (
	compositionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_compositions_total",
			Help: "Composed messages and item sets by source",
		},
		[]string{"kind", "source"}, // source: llm, deterministic
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_llm_calls_total",
			Help: "Calls to the generative service",
		},
		[]string{"task", "status"}, // status: ok, or the error code
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blueprint_llm_duration_seconds",
			Help:    "Generative service call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"task"},
	)
)

// =============================================================================
// PERSISTENCE METRICS
// =============================================================================

var (
	persistWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blueprint_persist_writes_total",
			Help: "Snapshot persistence attempts",
		},
		[]string{"status"}, // status: ok, retry, failed
	)

	liveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blueprint_live_sessions",
			Help: "Sessions held in the in-memory cache",
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordEvent records one handled event.
func RecordEvent(kind, outcome string, durationMS int64) {
	eventsTotal.WithLabelValues(kind, outcome).Inc()
	eventDurationSeconds.WithLabelValues(kind).Observe(float64(durationMS) / 1000.0)
}

// RecordStageCompletion counts a recap written for stage.
func RecordStageCompletion(stage string) {
	stageCompletionsTotal.WithLabelValues(stage).Inc()
}

// RecordComposition counts a composed message or item set.
func RecordComposition(kind, source string) {
	compositionsTotal.WithLabelValues(kind, source).Inc()
}

// RecordPersist counts a snapshot write attempt.
func RecordPersist(status string) {
	persistWritesTotal.WithLabelValues(status).Inc()
}

// SetLiveSessions reports the current cache size.
func SetLiveSessions(n int) {
	liveSessions.Set(float64(n))
}

// MetricsObserver feeds LLM call events into Prometheus.
type MetricsObserver struct{}

func (MetricsObserver) OnCallComplete(e llm.LLMCallEvent) {
	status := "ok"
	if !e.Success {
		status = e.ErrorCode
	}
	llmCallsTotal.WithLabelValues(string(e.Task), status).Inc()
	llmDurationSeconds.WithLabelValues(string(e.Task)).Observe(float64(e.LatencyMs) / 1000.0)
}
