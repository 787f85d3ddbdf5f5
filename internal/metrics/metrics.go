package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	registry *prometheus.Registry

	// Tool call metrics
	ToolCallsTotal      *prometheus.CounterVec
	ToolCallDuration    *prometheus.HistogramVec
	ToolCallErrorsTotal *prometheus.CounterVec
	ToolCallAttempts    *prometheus.HistogramVec

	// Resilience metrics
	RetriesTotal           *prometheus.CounterVec
	FallbacksTotal         *prometheus.CounterVec
	CircuitRejectionsTotal *prometheus.CounterVec
	CircuitOpen            *prometheus.GaugeVec

	// Orchestration metrics
	OrchestrationsTotal   *prometheus.CounterVec
	OrchestrationDuration prometheus.Histogram
	DegradedPlansTotal    prometheus.Counter

	// HTTP API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolflow_tool_calls_total",
				Help: "Total number of tool calls by terminal status",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolflow_tool_call_duration_seconds",
				Help:    "Duration of the attempt that decided each tool call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolCallErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolflow_tool_call_errors_total",
				Help: "Total number of failed or skipped tool calls by failure kind",
			},
			[]string{"tool_name", "error_type"},
		),
		ToolCallAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolflow_tool_call_attempts",
				Help:    "Invocation attempts made per tool call",
				Buckets: []float64{0, 1, 2, 3, 5, 8},
			},
			[]string{"tool_name"},
		),

		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolflow_retries_total",
				Help: "Total number of re-attempts by resource",
			},
			[]string{"resource"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolflow_fallbacks_total",
				Help: "Total number of fallback substitute attempts",
			},
			[]string{"primary", "substitute", "status"},
		),
		CircuitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolflow_circuit_rejections_total",
				Help: "Total number of calls rejected by an open circuit",
			},
			[]string{"resource"},
		),
		CircuitOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolflow_circuit_open",
				Help: "Circuit state per resource (1 open, 0 closed)",
			},
			[]string{"resource"},
		),

		OrchestrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolflow_orchestrations_total",
				Help: "Total number of orchestration requests by outcome",
			},
			[]string{"outcome"},
		),
		OrchestrationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "toolflow_orchestration_duration_seconds",
				Help:    "Wall-clock duration of orchestration requests",
				Buckets: prometheus.DefBuckets,
			},
		),
		DegradedPlansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "toolflow_degraded_plans_total",
				Help: "Total number of requests whose dependency graph could not be fully ordered",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolflow_http_requests_total",
				Help: "Total number of HTTP API requests by path and status code",
			},
			[]string{"path", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolflow_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)
	m.registry.MustRegister(m.ToolCallErrorsTotal)
	m.registry.MustRegister(m.ToolCallAttempts)

	m.registry.MustRegister(m.RetriesTotal)
	m.registry.MustRegister(m.FallbacksTotal)
	m.registry.MustRegister(m.CircuitRejectionsTotal)
	m.registry.MustRegister(m.CircuitOpen)

	m.registry.MustRegister(m.OrchestrationsTotal)
	m.registry.MustRegister(m.OrchestrationDuration)
	m.registry.MustRegister(m.DegradedPlansTotal)

	m.registry.MustRegister(m.HTTPRequestsTotal)
	m.registry.MustRegister(m.HTTPRequestDuration)
}

// RecordToolCall records the terminal state of one call. errorType is empty
// for successful calls.
func (m *Metrics) RecordToolCall(tool, status, errorType string, duration time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	m.ToolCallAttempts.WithLabelValues(tool).Observe(float64(attempts))
	if errorType != "" {
		m.ToolCallErrorsTotal.WithLabelValues(tool, errorType).Inc()
	}
}

func (m *Metrics) RecordRetry(resource string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(resource).Inc()
}

func (m *Metrics) RecordFallback(primary, substitute string, success bool) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(primary, substitute, statusLabel(success)).Inc()
}

func (m *Metrics) RecordCircuitRejection(resource string) {
	if m == nil {
		return
	}
	m.CircuitRejectionsTotal.WithLabelValues(resource).Inc()
}

// SetCircuitOpen is shaped to be passed to circuit.WithStateChange
func (m *Metrics) SetCircuitOpen(resource string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1.0
	}
	m.CircuitOpen.WithLabelValues(resource).Set(value)
}

// RecordOrchestration records one finished request
func (m *Metrics) RecordOrchestration(duration time.Duration, allSucceeded, degraded bool) {
	if m == nil {
		return
	}
	outcome := "partial"
	if allSucceeded {
		outcome = "complete"
	}
	m.OrchestrationsTotal.WithLabelValues(outcome).Inc()
	m.OrchestrationDuration.Observe(duration.Seconds())
	if degraded {
		m.DegradedPlansTotal.Inc()
	}
}

// RecordHTTPRequest records one served API request
func (m *Metrics) RecordHTTPRequest(path string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(path, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
