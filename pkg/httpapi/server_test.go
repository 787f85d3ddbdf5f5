package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harun/toolflow/internal/metrics"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callJSON struct {
	Key       string                 `json:"key"`
	Status    string                 `json:"status"`
	Attempts  int                    `json:"attempts"`
	Result    map[string]interface{} `json:"result"`
	ErrorKind string                 `json:"error_kind"`
}

type resultBody struct {
	Calls []callJSON `json:"calls"`
}

func newTestServer(t *testing.T, options Options, engineOpts ...orchestrator.Option) (*Server, *orchestrator.Engine) {
	t.Helper()

	registry := resource.NewRegistry()
	require.NoError(t, registry.Register(resource.Definition{
		Name:        "geocode",
		Description: "geocode test resource",
		Parameters:  []resource.Parameter{{Name: "city", Type: "string", Required: true}},
		Resource:    &resource.StaticResource{Payload: map[string]interface{}{"lat": 48.85}},
	}))
	require.NoError(t, registry.Register(resource.Definition{
		Name:        "news",
		Description: "news test resource",
		Resource:    &resource.StaticResource{FailWith: "no stories"},
	}))

	opts := orchestrator.DefaultOptions()
	opts.MaxRetries = 0
	engine, err := orchestrator.New(registry, opts, engineOpts...)
	require.NoError(t, err)

	server, err := NewServer(engine, registry, options)
	require.NoError(t, err)
	t.Cleanup(server.rateLimiter.Stop)

	return server, engine
}

func post(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/orchestrate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(nil, resource.NewRegistry(), Options{})
	assert.Error(t, err)
}

func TestNewServerDefaults(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	assert.Equal(t, "127.0.0.1:8080", server.options.Addr)
	assert.Equal(t, 60, server.options.RateLimitPerMinute)
	assert.Equal(t, 60*time.Second, server.options.RequestTimeout)
	assert.Equal(t, int64(1<<20), server.options.MaxBodyBytes)
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.ResourceCount)
}

func TestHandleHealthRejectsPost(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleOrchestrate(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	rec := post(t, server.Handler(), `{"calls":[
		{"name":"geocode","arguments":{"city":"Paris"}},
		{"name":"news","dependencies":["geocode"]}
	]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(TraceIDHeader))

	var body resultBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Calls, 2)

	assert.Equal(t, "geocode", body.Calls[0].Key)
	assert.Equal(t, "succeeded", body.Calls[0].Status)
	assert.Equal(t, 48.85, body.Calls[0].Result["lat"])

	assert.Equal(t, "news", body.Calls[1].Key)
	assert.Equal(t, "failed", body.Calls[1].Status)
	assert.Equal(t, "business_failure", body.Calls[1].ErrorKind)
}

func TestHandleOrchestrateKeepsTraceID(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	rec := post(t, server.Handler(), `{"calls":[{"name":"geocode","arguments":{"city":"Paris"}}]}`,
		map[string]string{TraceIDHeader: "trace-123"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-123", rec.Header().Get(TraceIDHeader))
}

func TestHandleOrchestrateUnknownCapability(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	rec := post(t, server.Handler(), `{"calls":[{"name":"stocks"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body resultBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Calls, 1)
	assert.Equal(t, "unknown_capability", body.Calls[0].ErrorKind)
}

func TestHandleOrchestrateBadRequests(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"calls":`, "failed to parse JSON body"},
		{"no calls", `{"calls":[]}`, "calls cannot be empty"},
		{"missing name", `{"calls":[{"arguments":{}}]}`, "call 0: name is required"},
		{"negative concurrency", `{"calls":[{"name":"geocode"}],"concurrency":-1}`, "concurrency must be positive"},
		{"unknown mode", `{"calls":[{"name":"geocode"}],"dependency_mode":"eventually"}`, "unknown dependency mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, server.Handler(), tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Error, tt.want)
		})
	}
}

func TestHandleOrchestrateBodyTooLarge(t *testing.T) {
	server, _ := newTestServer(t, Options{MaxBodyBytes: 16})

	rec := post(t, server.Handler(), `{"calls":[{"name":"geocode","arguments":{"city":"Paris"}}]}`, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleOrchestrateSignature(t *testing.T) {
	server, _ := newTestServer(t, Options{Secret: "s3cret"})
	body := `{"calls":[{"name":"geocode","arguments":{"city":"Paris"}}]}`

	t.Run("missing", func(t *testing.T) {
		rec := post(t, server.Handler(), body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		rec := post(t, server.Handler(), body, map[string]string{SignatureHeader: Sign([]byte(body), "wrong")})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid", func(t *testing.T) {
		rec := post(t, server.Handler(), body, map[string]string{SignatureHeader: Sign([]byte(body), "s3cret")})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleOrchestrateRateLimit(t *testing.T) {
	server, _ := newTestServer(t, Options{RateLimitPerMinute: 1})
	body := `{"calls":[{"name":"geocode","arguments":{"city":"Paris"}}]}`

	first := post(t, server.Handler(), body, map[string]string{"X-Forwarded-For": "10.0.0.1"})
	assert.Equal(t, http.StatusOK, first.Code)

	second := post(t, server.Handler(), body, map[string]string{"X-Forwarded-For": "10.0.0.1"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	other := post(t, server.Handler(), body, map[string]string{"X-Forwarded-For": "10.0.0.2"})
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestHandleResources(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	rec := post(t, server.Handler(), `{"calls":[{"name":"news"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/resources", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Resources []ResourceInfo `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Resources, 2)

	assert.Equal(t, "geocode", body.Resources[0].Name)
	assert.Equal(t, 0, body.Resources[0].FailureCount)
	assert.NotNil(t, body.Resources[0].Parameters)

	assert.Equal(t, "news", body.Resources[1].Name)
	assert.Equal(t, 1, body.Resources[1].FailureCount)
	assert.False(t, body.Resources[1].CircuitOpen)
	assert.NotZero(t, body.Resources[1].LastFailureAt)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewMetrics()
	server, _ := newTestServer(t, Options{Metrics: m})

	post(t, server.Handler(), `{"calls":[{"name":"geocode","arguments":{"city":"Paris"}}]}`, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "toolflow_http_requests_total")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	server, _ := newTestServer(t, Options{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopRefusesNewRequests(t *testing.T) {
	server, _ := newTestServer(t, Options{DrainTimeout: time.Second})
	handler := server.Handler()

	require.NoError(t, server.Stop(context.Background()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerOverHTTP(t *testing.T) {
	server, _ := newTestServer(t, Options{})
	ts := httptest.NewUnstartedServer(server.Handler())
	ts.Start()
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/orchestrate", "application/json",
		bytes.NewBufferString(`{"calls":[{"name":"geocode","arguments":{"city":"Paris"}}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4711"
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
