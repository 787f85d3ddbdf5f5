package httpapi

import (
	"time"

	"github.com/harun/toolflow/internal/metrics"
	"github.com/harun/toolflow/pkg/schedule"
)

// Header names understood by the server
const (
	SignatureHeader = "X-Toolflow-Signature"
	TraceIDHeader   = "X-Trace-Id"
)

// Options configures the API server
type Options struct {
	Addr               string        // Listen address (default: "127.0.0.1:8080")
	Secret             string        // HMAC secret for request signatures; empty disables
	RateLimitPerMinute int           // Requests per minute per IP (default: 60, negative disables)
	RequestTimeout     time.Duration // Orchestration timeout per request (default: 60s)
	MaxBodyBytes       int64         // Request body cap (default: 1 MiB)
	DrainTimeout       time.Duration // How long Stop waits for in-flight requests (default: 30s)
	Metrics            *metrics.Metrics
	Events             *Hub      // Serves /v1/events when set
	Schedules          Scheduler // Serves /v1/schedules when set
}

// Scheduler exposes recurring jobs
type Scheduler interface {
	Jobs() []schedule.State
	RunNow(name string) error
}

// CallRequest is one tool call in an orchestrate request
type CallRequest struct {
	Name         string                 `json:"name"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	Priority     int                    `json:"priority,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
}

// OrchestrateRequest is the body of POST /v1/orchestrate
type OrchestrateRequest struct {
	Calls          []CallRequest `json:"calls"`
	Concurrency    int           `json:"concurrency,omitempty"`
	DependencyMode string        `json:"dependency_mode,omitempty"`
}

// ResourceInfo describes one registered resource and its breaker
type ResourceInfo struct {
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Parameters    interface{} `json:"parameters,omitempty"`
	CircuitOpen   bool        `json:"circuit_open"`
	FailureCount  int         `json:"failure_count"`
	LastFailureAt int64       `json:"last_failure_at,omitempty"` // unix millis
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string  `json:"status"`
	Uptime        float64 `json:"uptime"`
	ResourceCount int     `json:"resourceCount"`
	Timestamp     int64   `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}
