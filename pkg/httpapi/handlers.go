package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/harun/toolflow/internal/tracing"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/toolcall"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Uptime:        time.Since(s.startTime).Seconds(),
		ResourceCount: len(s.catalog.Names()),
		Timestamp:     time.Now().UnixMilli(),
	})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	breakers := s.engine.Breakers()

	infos := make([]ResourceInfo, 0)
	for _, name := range s.catalog.Names() {
		def := s.catalog.Get(name)
		if def == nil {
			continue
		}

		info := ResourceInfo{
			Name:        def.Name,
			Description: def.Description,
		}
		if len(def.Parameters) > 0 {
			info.Parameters = def.Parameters
		}
		if breakers != nil {
			state := breakers.State(name)
			info.CircuitOpen = state.Open
			info.FailureCount = state.FailureCount
			if !state.LastFailureAt.IsZero() {
				info.LastFailureAt = state.LastFailureAt.UnixMilli()
			}
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"resources": infos})
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.allow(w, ip) {
		return
	}

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if !s.authorized(w, r, rawBody, ip) {
		return
	}

	var req OrchestrateRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse JSON body: %v", err))
		return
	}

	calls, opts, err := req.build()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	traceID := r.Header.Get(TraceIDHeader)
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	w.Header().Set(TraceIDHeader, traceID)

	ctx, cancel := context.WithTimeout(tracing.WithTraceID(r.Context(), traceID), s.options.RequestTimeout)
	defer cancel()

	result, err := s.engine.Orchestrate(ctx, calls, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": s.options.Schedules.Jobs()})
}

// handleScheduleRun fires a job out of schedule. The body is empty, so a
// signature covers the empty string.
func (s *Server) handleScheduleRun(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.allow(w, ip) || !s.authorized(w, r, nil, ip) {
		return
	}

	name := r.PathValue("name")
	if err := s.options.Schedules.RunNow(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.logger.Info().Str("job", name).Str("ip", ip).Msg("Scheduled job triggered")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "name": name})
}

// handleEvents subscribes the caller to the event stream. When signing is
// enabled the handshake carries a signature of the empty body.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shuttingDown := s.isShuttingDown
	s.shutdownMu.RUnlock()
	if shuttingDown {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	ip := clientIP(r)
	if !s.allow(w, ip) || !s.authorized(w, r, nil, ip) {
		return
	}

	s.options.Events.ServeHTTP(w, r)
}

// allow applies the per-IP rate limit
func (s *Server) allow(w http.ResponseWriter, ip string) bool {
	if s.rateLimiter.Allow(ip) {
		return true
	}

	retryAfter := s.rateLimiter.RetryAfter(ip)
	s.logger.Warn().
		Str("ip", ip).
		Int("retryAfter", retryAfter).
		Msg("Rate limit exceeded")

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

// authorized checks the request signature over body when a secret is set
func (s *Server) authorized(w http.ResponseWriter, r *http.Request, body []byte, ip string) bool {
	if s.options.Secret == "" {
		return true
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		s.logger.Warn().Str("ip", ip).Msg("Missing request signature")
		writeError(w, http.StatusUnauthorized, "missing signature")
		return false
	}
	if !verifySignature(body, signature, s.options.Secret) {
		s.logger.Warn().Str("ip", ip).Msg("Invalid request signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return false
	}
	return true
}

// build converts the request into tool calls and per-request options
func (req OrchestrateRequest) build() ([]*toolcall.ToolCall, []orchestrator.RequestOption, error) {
	if len(req.Calls) == 0 {
		return nil, nil, errors.New("calls cannot be empty")
	}

	calls := make([]*toolcall.ToolCall, 0, len(req.Calls))
	for i, c := range req.Calls {
		if c.Name == "" {
			return nil, nil, fmt.Errorf("call %d: name is required", i)
		}
		call := toolcall.New(c.Name, c.Arguments)
		call.Priority = c.Priority
		call.Dependencies = c.Dependencies
		calls = append(calls, call)
	}

	var opts []orchestrator.RequestOption
	if req.Concurrency < 0 {
		return nil, nil, fmt.Errorf("concurrency must be positive, got %d", req.Concurrency)
	}
	if req.Concurrency > 0 {
		opts = append(opts, orchestrator.WithConcurrencyLimit(req.Concurrency))
	}
	if req.DependencyMode != "" {
		mode := orchestrator.DependencyMode(req.DependencyMode)
		if !mode.Valid() {
			return nil, nil, fmt.Errorf("unknown dependency mode %q", req.DependencyMode)
		}
		opts = append(opts, orchestrator.WithDependencyMode(mode))
	}

	return calls, opts, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
