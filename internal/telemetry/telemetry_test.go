package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRequestRecorderSuccessIncrementsCounters(t *testing.T) {
	m := newTestMetrics(t)
	rec := m.NewRequestRecorder("generate", "envelope")
	rec.RecordSuccess()

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("generate", "envelope", "success")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
		t.Errorf("expected in-flight gauge to return to 0, got %v", got)
	}
}

func TestRequestRecorderErrorIncrementsErrorCounter(t *testing.T) {
	m := newTestMetrics(t)
	rec := m.NewRequestRecorder("generate", "typed")
	rec.RecordError()

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("generate", "typed", "error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestRecordGenerateTracksTokensAndCost(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordGenerate("openai", "gpt-4o", 100, 50, 12, 250*time.Millisecond)

	if got := testutil.ToFloat64(m.TokensInput.WithLabelValues("gpt-4o", "openai")); got != 100 {
		t.Errorf("expected 100 input tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokensOutput.WithLabelValues("gpt-4o", "openai")); got != 50 {
		t.Errorf("expected 50 output tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.CostCents.WithLabelValues("gpt-4o", "openai")); got != 12 {
		t.Errorf("expected 12 cost cents, got %v", got)
	}
}

func TestRecordGenerateSkipsCostWhenZero(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordGenerate("openai", "gpt-4o", 10, 5, 0, time.Millisecond)
	if got := testutil.ToFloat64(m.CostCents.WithLabelValues("gpt-4o", "openai")); got != 0 {
		t.Errorf("expected no cost recorded when cost is zero, got %v", got)
	}
}

func TestRecordCacheResult(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordCacheResult("gpt-4o", true)
	m.RecordCacheResult("gpt-4o", false)

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("gpt-4o")); got != 1 {
		t.Errorf("expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses.WithLabelValues("gpt-4o")); got != 1 {
		t.Errorf("expected 1 cache miss, got %v", got)
	}
}

func TestUpdateCircuitBreakerState(t *testing.T) {
	m := newTestMetrics(t)
	m.UpdateCircuitBreakerState("user-1", "openai", "open")
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("user-1", "openai")); got != 2 {
		t.Errorf("expected state value 2 for open, got %v", got)
	}
	m.UpdateCircuitBreakerState("user-1", "openai", "half_open")
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("user-1", "openai")); got != 1 {
		t.Errorf("expected state value 1 for half_open, got %v", got)
	}
}

func TestRecordToolCallTracksErrors(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolCall("web_search", false)
	m.RecordToolCall("web_search", true)

	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("web_search")); got != 2 {
		t.Errorf("expected 2 tool calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolErrors.WithLabelValues("web_search")); got != 1 {
		t.Errorf("expected 1 tool error, got %v", got)
	}
}

func TestUpdateDispatcherStats(t *testing.T) {
	m := newTestMetrics(t)
	m.UpdateDispatcherStats(map[string]int{"high": 3, "low": 1}, 4)

	if got := testutil.ToFloat64(m.DispatcherQueueDepth.WithLabelValues("high")); got != 3 {
		t.Errorf("expected queue depth 3 for high priority, got %v", got)
	}
	if got := testutil.ToFloat64(m.DispatcherWorkers); got != 4 {
		t.Errorf("expected worker gauge 4, got %v", got)
	}
}
