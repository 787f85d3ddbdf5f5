package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// value returns the counter or gauge value for the series matching labels
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] == pair.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	if m.ToolCallsTotal == nil {
		t.Error("ToolCallsTotal is nil")
	}
	if m.RetriesTotal == nil {
		t.Error("RetriesTotal is nil")
	}
	if m.CircuitOpen == nil {
		t.Error("CircuitOpen is nil")
	}
	if m.OrchestrationDuration == nil {
		t.Error("OrchestrationDuration is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.RecordToolCall("weather", "failed", "timeout", 250*time.Millisecond, 2)
	m.RecordRetry("weather")
	m.RecordFallback("weather", "weather_backup", true)
	m.RecordCircuitRejection("weather")
	m.SetCircuitOpen("weather", true)
	m.RecordOrchestration(time.Second, false, true)

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"toolflow_tool_calls_total",
		"toolflow_tool_call_duration_seconds",
		"toolflow_tool_call_errors_total",
		"toolflow_tool_call_attempts",
		"toolflow_retries_total",
		"toolflow_fallbacks_total",
		"toolflow_circuit_rejections_total",
		"toolflow_circuit_open",
		"toolflow_orchestrations_total",
		"toolflow_orchestration_duration_seconds",
		"toolflow_degraded_plans_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestRecordToolCall(t *testing.T) {
	m := NewMetrics()

	m.RecordToolCall("geocode", "succeeded", "", 10*time.Millisecond, 1)
	m.RecordToolCall("geocode", "failed", "business_failure", 10*time.Millisecond, 2)
	m.RecordToolCall("geocode", "failed", "business_failure", 10*time.Millisecond, 2)

	if got := value(t, m, "toolflow_tool_calls_total", map[string]string{"tool_name": "geocode", "status": "succeeded"}); got != 1 {
		t.Errorf("Expected 1 succeeded call, got %v", got)
	}
	if got := value(t, m, "toolflow_tool_calls_total", map[string]string{"tool_name": "geocode", "status": "failed"}); got != 2 {
		t.Errorf("Expected 2 failed calls, got %v", got)
	}
	if got := value(t, m, "toolflow_tool_call_errors_total", map[string]string{"tool_name": "geocode", "error_type": "business_failure"}); got != 2 {
		t.Errorf("Expected 2 business failures, got %v", got)
	}
}

func TestSetCircuitOpen(t *testing.T) {
	m := NewMetrics()

	m.SetCircuitOpen("flaky", true)
	if got := value(t, m, "toolflow_circuit_open", map[string]string{"resource": "flaky"}); got != 1 {
		t.Errorf("Expected open gauge 1, got %v", got)
	}

	m.SetCircuitOpen("flaky", false)
	if got := value(t, m, "toolflow_circuit_open", map[string]string{"resource": "flaky"}); got != 0 {
		t.Errorf("Expected open gauge 0, got %v", got)
	}
}

func TestRecordOrchestration(t *testing.T) {
	m := NewMetrics()

	m.RecordOrchestration(time.Second, true, false)
	m.RecordOrchestration(time.Second, false, true)

	if got := value(t, m, "toolflow_orchestrations_total", map[string]string{"outcome": "complete"}); got != 1 {
		t.Errorf("Expected 1 complete orchestration, got %v", got)
	}
	if got := value(t, m, "toolflow_orchestrations_total", map[string]string{"outcome": "partial"}); got != 1 {
		t.Errorf("Expected 1 partial orchestration, got %v", got)
	}
	if got := value(t, m, "toolflow_degraded_plans_total", nil); got != 1 {
		t.Errorf("Expected 1 degraded plan, got %v", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics

	m.RecordToolCall("x", "failed", "timeout", time.Second, 1)
	m.RecordRetry("x")
	m.RecordFallback("x", "y", false)
	m.RecordCircuitRejection("x")
	m.SetCircuitOpen("x", true)
	m.RecordOrchestration(time.Second, false, false)
	m.RecordHTTPRequest("/health", 200, time.Millisecond)
}

func TestRecordHTTPRequest(t *testing.T) {
	m := NewMetrics()

	m.RecordHTTPRequest("/v1/orchestrate", 200, 20*time.Millisecond)
	m.RecordHTTPRequest("/v1/orchestrate", 200, 30*time.Millisecond)
	m.RecordHTTPRequest("/v1/orchestrate", 429, time.Millisecond)

	if got := value(t, m, "toolflow_http_requests_total", map[string]string{"path": "/v1/orchestrate", "code": "200"}); got != 2 {
		t.Errorf("Expected 2 successful requests, got %v", got)
	}
	if got := value(t, m, "toolflow_http_requests_total", map[string]string{"path": "/v1/orchestrate", "code": "429"}); got != 1 {
		t.Errorf("Expected 1 rate limited request, got %v", got)
	}
}

func TestMultipleMetricsInstances(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	if m1.registry == m2.registry {
		t.Error("Metrics instances should have separate registries")
	}

	m1.RecordRetry("a")
	if got := value(t, m2, "toolflow_retries_total", map[string]string{"resource": "a"}); got != 0 {
		t.Errorf("Expected isolated registries, got %v", got)
	}
}
