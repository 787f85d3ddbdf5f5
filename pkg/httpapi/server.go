// Package httpapi serves the orchestration engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harun/toolflow/pkg/circuit"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/report"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine runs orchestration requests
type Engine interface {
	Orchestrate(ctx context.Context, calls []*toolcall.ToolCall, opts ...orchestrator.RequestOption) (report.Result, error)
	Breakers() *circuit.Registry
}

// Catalog lists the resources an Engine can reach
type Catalog interface {
	Names() []string
	Get(name string) *resource.Definition
}

// Server is the orchestration HTTP server
type Server struct {
	options        Options
	engine         Engine
	catalog        Catalog
	server         *http.Server
	rateLimiter    *RateLimiter
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a server for engine. catalog backs the health and
// resource listing endpoints.
func NewServer(engine Engine, catalog Catalog, options Options) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("resource catalog is required")
	}

	if options.Addr == "" {
		options.Addr = "127.0.0.1:8080"
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 60
	}
	if options.RequestTimeout == 0 {
		options.RequestTimeout = 60 * time.Second
	}
	if options.MaxBodyBytes == 0 {
		options.MaxBodyBytes = 1 << 20
	}
	if options.DrainTimeout == 0 {
		options.DrainTimeout = 30 * time.Second
	}

	s := &Server{
		options:     options,
		engine:      engine,
		catalog:     catalog,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      log.With().Str("component", "httpapi").Logger(),
		startTime:   time.Now(),
	}

	s.server = &http.Server{
		Addr:              options.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the routed API handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /health", s.track("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /v1/resources", s.track("/v1/resources", http.HandlerFunc(s.handleResources)))
	mux.Handle("POST /v1/orchestrate", s.track("/v1/orchestrate", http.HandlerFunc(s.handleOrchestrate)))

	if s.options.Schedules != nil {
		mux.Handle("GET /v1/schedules", s.track("/v1/schedules", http.HandlerFunc(s.handleSchedules)))
		mux.Handle("POST /v1/schedules/{name}/run", s.track("/v1/schedules/run", http.HandlerFunc(s.handleScheduleRun)))
	}

	// Upgraded connections outlive the request, so the stream bypasses track
	if s.options.Events != nil {
		mux.HandleFunc("GET /v1/events", s.handleEvents)
	}

	if s.options.Metrics != nil {
		mux.Handle("GET /metrics", s.options.Metrics.Handler())
	}

	return mux
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("signed", s.options.Secret != "").
		Int("rateLimit", s.options.RateLimitPerMinute).
		Msg("Starting API server")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Stop refuses new requests, waits for in-flight ones up to the drain
// timeout, then shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(s.options.DrainTimeout):
		s.logger.Warn().Msg("Drain timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown canceled, forcing close")
	}

	s.rateLimiter.Stop()
	if s.options.Events != nil {
		s.options.Events.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

// statusRecorder captures the response code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// track refuses requests during shutdown, counts in-flight requests and
// records every response.
func (s *Server) track(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		s.options.Metrics.RecordHTTPRequest(path, rec.status, duration)

		event := s.logger.Info()
		if rec.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		} else if rec.status >= http.StatusBadRequest {
			event = s.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", clientIP(r)).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("API request completed")
	})
}

// clientIP prefers proxy headers over the socket address
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
