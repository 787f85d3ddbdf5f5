// Package hooks runs shell scripts on engine lifecycle events.
//
// A script sees the event as TOOLFLOW_HOOK_EVENT and every payload field as
// TOOLFLOW_HOOK_DATA_<FIELD>. The whole payload is also written to its stdin
// as one JSON object.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/toolflow/pkg/report"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Lifecycle events
const (
	EventCallFailed            = "call:failed"
	EventCircuitOpen           = "circuit:open"
	EventCircuitClose          = "circuit:close"
	EventOrchestrationFinished = "orchestration:finished"
)

// EnvPrefix prefixes the variables passed to hook scripts
const EnvPrefix = "TOOLFLOW_HOOK_"

// killGrace bounds how long output pipes may stay open after a timed out
// script is killed
const killGrace = 100 * time.Millisecond

// Hook is one script bound to an event
type Hook struct {
	ID      string // defaults to the event name in errors and logs
	Event   string
	Script  string // run with /bin/sh -c
	Timeout time.Duration
	Enabled bool
}

func (h Hook) name() string {
	if id := strings.TrimSpace(h.ID); id != "" {
		return id
	}
	return h.Event
}

// Config configures a Manager
type Config struct {
	Enabled        bool
	Hooks          []Hook
	DefaultTimeout time.Duration // for hooks without their own timeout
}

// Payload is the event data handed to a script
type Payload map[string]interface{}

// Manager runs the hooks subscribed to each event. A nil or disabled
// Manager does nothing.
type Manager struct {
	enabled        bool
	defaultTimeout time.Duration
	logger         zerolog.Logger

	byEvent map[string][]Hook // read-only after NewManager
	running sync.WaitGroup
}

// NewManager indexes the enabled hooks of cfg by event
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		enabled:        cfg.Enabled,
		defaultTimeout: cfg.DefaultTimeout,
		logger:         log.With().Str("component", "hooks").Logger(),
		byEvent:        make(map[string][]Hook),
	}
	if !m.enabled {
		return m, nil
	}

	for _, h := range cfg.Hooks {
		if !h.Enabled {
			continue
		}
		h.Event = strings.TrimSpace(h.Event)
		switch {
		case h.Event == "":
			return nil, errors.New("hook event is required")
		case strings.TrimSpace(h.Script) == "":
			return nil, fmt.Errorf("hook script is required for event %q", h.Event)
		}
		m.byEvent[h.Event] = append(m.byEvent[h.Event], h)
	}
	return m, nil
}

// Has reports whether any hook listens for event
func (m *Manager) Has(event string) bool {
	return m != nil && m.enabled && len(m.byEvent[event]) > 0
}

// Trigger runs the hooks for event one after another and joins their errors
func (m *Manager) Trigger(ctx context.Context, event string, data Payload) error {
	if m == nil || !m.enabled {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event is required")
	}

	var errs []error
	for _, h := range m.byEvent[event] {
		errs = append(errs, m.run(ctx, event, h, data))
	}
	return errors.Join(errs...)
}

// Dispatch runs the hooks for event in the background and logs failures.
// They keep ctx's values but not its cancellation.
func (m *Manager) Dispatch(ctx context.Context, event string, data Payload) {
	if !m.Has(event) {
		return
	}

	detached := context.WithoutCancel(ctx)
	m.running.Add(1)
	go func() {
		defer m.running.Done()
		if err := m.Trigger(detached, event, data); err != nil {
			m.logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
		}
	}()
}

// Wait blocks until dispatched hooks finish or ctx is done
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for hooks: %w", ctx.Err())
	}
}

// OnCallFinished dispatches call:failed for calls that did not succeed. It
// matches orchestrator.CallFunc.
func (m *Manager) OnCallFinished(ctx context.Context, requestID string, call *toolcall.ToolCall) {
	if call.Err == nil || !m.Has(EventCallFailed) {
		return
	}

	m.Dispatch(ctx, EventCallFailed, Payload{
		"request_id": requestID,
		"key":        call.Key,
		"name":       call.Name,
		"attempts":   call.Attempts,
		"error_kind": toolcall.KindName(toolcall.KindOf(call.Err)),
		"error":      call.Err.Error(),
	})
}

// OnCircuitChange dispatches circuit:open or circuit:close. It matches the
// circuit registry's state change callback.
func (m *Manager) OnCircuitChange(resource string, open bool) {
	event := EventCircuitClose
	if open {
		event = EventCircuitOpen
	}
	m.Dispatch(context.Background(), event, Payload{"resource": resource})
}

// OnOrchestrationFinished dispatches orchestration:finished with a summary
// of res. It matches orchestrator.FinishFunc.
func (m *Manager) OnOrchestrationFinished(ctx context.Context, requestID string, res report.Result) {
	if !m.Has(EventOrchestrationFinished) {
		return
	}

	failed := make([]string, 0, res.FailedCount())
	for _, key := range res.Order {
		if _, ok := res.Failed[key]; ok {
			failed = append(failed, key)
		}
	}

	m.Dispatch(ctx, EventOrchestrationFinished, Payload{
		"request_id":  requestID,
		"calls":       len(res.Order),
		"succeeded":   res.SucceededCount(),
		"failed":      res.FailedCount(),
		"failed_keys": strings.Join(failed, ","),
		"degraded":    res.Degraded(),
		"elapsed_ms":  res.TotalElapsed.Milliseconds(),
	})
}

func (m *Manager) run(ctx context.Context, event string, h Hook, data Payload) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdin, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("hook %s: encoding payload: %w", h.name(), err)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", h.Script)
	cmd.Env = environ(event, data)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = killGrace

	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	switch {
	case err != nil && text != "":
		return fmt.Errorf("hook %s failed: %w: %s", h.name(), err, text)
	case err != nil:
		return fmt.Errorf("hook %s failed: %w", h.name(), err)
	}

	if text != "" {
		m.logger.Debug().Str("event", event).Str("hook_id", h.name()).Str("output", text).Msg("Hook executed")
	}
	return nil
}

// environ returns the process environment plus the event and its payload,
// in key order
func environ(event string, data Payload) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	env = append(env, EnvPrefix+"EVENT="+event)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%sDATA_%s=%v", EnvPrefix, envName(k), data[k]))
	}
	return env
}

// envName upper-cases key and replaces anything outside [A-Z0-9] with '_'
func envName(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.ToUpper(key))
}
