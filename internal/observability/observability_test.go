package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/blueprint/internal/llm"
)

func TestRecordEvent(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		outcome string
	}{
		{"advance", "text", "advanced"},
		{"validation stay", "text", "stayed"},
		{"stale submit", "control", "stale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordEvent(tt.kind, tt.outcome, 12)
			count := testutil.ToFloat64(eventsTotal.WithLabelValues(tt.kind, tt.outcome))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestMetricsObserver(t *testing.T) {
	before := testutil.ToFloat64(llmCallsTotal.WithLabelValues("compose", "TIMEOUT"))
	MetricsObserver{}.OnCallComplete(llm.LLMCallEvent{Task: llm.TaskCompose, LatencyMs: 50, ErrorCode: "TIMEOUT"})
	after := testutil.ToFloat64(llmCallsTotal.WithLabelValues("compose", "TIMEOUT"))
	assert.Equal(t, before+1, after)
}

func TestRecordCompositionAndPersist(t *testing.T) {
	RecordComposition("message", "deterministic")
	RecordPersist("retry")
	RecordStageCompletion("foundation")
	SetLiveSessions(3)

	assert.Greater(t, testutil.ToFloat64(compositionsTotal.WithLabelValues("message", "deterministic")), 0.0)
	assert.Greater(t, testutil.ToFloat64(persistWritesTotal.WithLabelValues("retry")), 0.0)
	assert.Greater(t, testutil.ToFloat64(stageCompletionsTotal.WithLabelValues("foundation")), 0.0)
	assert.Equal(t, 3.0, testutil.ToFloat64(liveSessions))
}

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "blueprint", "test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
