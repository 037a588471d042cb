// Package telemetry wires structured logging and Prometheus metrics for
// the gateway (SPEC_FULL §4.L). Grounded on the teacher's
// internal/telemetry/telemetry.go, trimmed from its tenant/tier/API-key-pool
// label set (this gateway has no multi-tenant billing tiers) down to the
// dimensions the gateway's own domain actually carries: provider, model,
// and scope key.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the gateway exposes.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	TokensInput  *prometheus.CounterVec
	TokensOutput *prometheus.CounterVec
	CostCents    *prometheus.CounterVec

	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	ToolCalls  *prometheus.CounterVec
	ToolErrors *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
	RetryAttempts       *prometheus.CounterVec
	FallbackInvocations *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	LedgerDebits  *prometheus.CounterVec
	LedgerCredits *prometheus.CounterVec

	DispatcherQueueDepth *prometheus.GaugeVec
	DispatcherWorkers    prometheus.Gauge
}

// NewMetrics registers every collector against registry, or the default
// registerer when nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of procedure calls",
		}, []string{"procedure", "surface", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Procedure call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"procedure", "surface"}),

		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_requests_in_flight",
			Help: "Number of procedure calls currently executing",
		}),

		TokensInput: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_input_total",
			Help: "Total input tokens processed",
		}, []string{"model", "provider"}),

		TokensOutput: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_output_total",
			Help: "Total output tokens generated",
		}, []string{"model", "provider"}),

		CostCents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cost_cents_total",
			Help: "Total billed cost in integer cents",
		}, []string{"model", "provider"}),

		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_provider_requests_total",
			Help: "Total upstream requests per provider",
		}, []string{"provider", "model"}),

		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total upstream errors per provider",
		}, []string{"provider", "error_kind"}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_provider_latency_seconds",
			Help:    "Upstream provider latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "model"}),

		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_calls_total",
			Help: "Total tool invocations",
		}, []string{"tool"}),

		ToolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_errors_total",
			Help: "Total tool invocation errors",
		}, []string{"tool"}),

		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"scope_key", "provider"}),

		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_attempts_total",
			Help: "Total upstream retry attempts",
		}, []string{"provider"}),

		FallbackInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fallback_invocations_total",
			Help: "Total fallback chain invocations",
		}, []string{"primary_provider", "fallback_provider"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total semantic cache hits",
		}, []string{"model"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total semantic cache misses",
		}, []string{"model"}),

		LedgerDebits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ledger_debits_total",
			Help: "Total virtual-token ledger debits",
		}, []string{"status"}),

		LedgerCredits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ledger_credits_total",
			Help: "Total virtual-token ledger credits",
		}, []string{"status"}),

		DispatcherQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_dispatcher_queue_depth",
			Help: "Dispatcher queue depth by priority",
		}, []string{"priority"}),

		DispatcherWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_dispatcher_workers",
			Help: "Current dispatcher worker count",
		}),
	}
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RequestRecorder tracks one in-flight procedure call end to end.
type RequestRecorder struct {
	metrics   *Metrics
	procedure string
	surface   string
	startTime time.Time
}

func (m *Metrics) NewRequestRecorder(procedure, surface string) *RequestRecorder {
	m.RequestsInFlight.Inc()
	return &RequestRecorder{metrics: m, procedure: procedure, surface: surface, startTime: time.Now()}
}

func (r *RequestRecorder) RecordSuccess() {
	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.procedure, r.surface, "success").Inc()
	r.metrics.RequestDuration.WithLabelValues(r.procedure, r.surface).Observe(time.Since(r.startTime).Seconds())
}

func (r *RequestRecorder) RecordError() {
	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.procedure, r.surface, "error").Inc()
	r.metrics.RequestDuration.WithLabelValues(r.procedure, r.surface).Observe(time.Since(r.startTime).Seconds())
}

func (m *Metrics) RecordGenerate(provider, model string, inputTokens, outputTokens int64, costCents int64, duration time.Duration) {
	m.TokensInput.WithLabelValues(model, provider).Add(float64(inputTokens))
	m.TokensOutput.WithLabelValues(model, provider).Add(float64(outputTokens))
	if costCents > 0 {
		m.CostCents.WithLabelValues(model, provider).Add(float64(costCents))
	}
	m.ProviderRequests.WithLabelValues(provider, model).Inc()
	m.ProviderLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func (m *Metrics) RecordProviderError(provider, errorKind string) {
	m.ProviderErrors.WithLabelValues(provider, errorKind).Inc()
}

func (m *Metrics) RecordToolCall(tool string, failed bool) {
	m.ToolCalls.WithLabelValues(tool).Inc()
	if failed {
		m.ToolErrors.WithLabelValues(tool).Inc()
	}
}

func (m *Metrics) UpdateCircuitBreakerState(scopeKey, provider, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(scopeKey, provider).Set(v)
}

func (m *Metrics) RecordRetryAttempt(provider string) {
	m.RetryAttempts.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordFallback(primary, fallback string) {
	m.FallbackInvocations.WithLabelValues(primary, fallback).Inc()
}

func (m *Metrics) RecordCacheResult(model string, hit bool) {
	if hit {
		m.CacheHits.WithLabelValues(model).Inc()
	} else {
		m.CacheMisses.WithLabelValues(model).Inc()
	}
}

func (m *Metrics) RecordLedgerDebit(status string) {
	m.LedgerDebits.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordLedgerCredit(status string) {
	m.LedgerCredits.WithLabelValues(status).Inc()
}

func (m *Metrics) UpdateDispatcherStats(queueDepths map[string]int, workers int) {
	for priority, depth := range queueDepths {
		m.DispatcherQueueDepth.WithLabelValues(priority).Set(float64(depth))
	}
	m.DispatcherWorkers.Set(float64(workers))
}
