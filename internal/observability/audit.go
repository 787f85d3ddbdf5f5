// Package observability writes the audit trail of calls, requests and
// configuration loads.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/harun/toolflow/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Kind classifies audit entries
type Kind string

const (
	KindCall          Kind = "call"
	KindOrchestration Kind = "orchestration"
	KindConfig        Kind = "config"
)

// Entry is one line of the audit trail. Empty request and trace IDs are
// taken from the context it is recorded under.
type Entry struct {
	Kind      Kind
	Action    string // "call:weather", "orchestrate", "config:load"
	Status    string
	RequestID string
	TraceID   string
	Fields    map[string]interface{}
}

// Auditor appends entries as JSON lines
type Auditor struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var current atomic.Pointer[Auditor]

func init() {
	current.Store(Nop())
}

// Nop returns an Auditor that discards everything
func Nop() *Auditor {
	return &Auditor{logger: zerolog.Nop()}
}

// New returns an Auditor writing to w
func New(w io.Writer) *Auditor {
	return &Auditor{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// Open returns an Auditor appending to the file at path. Close releases it.
func Open(path string) (*Auditor, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := New(file)
	a.closer = file
	return a, nil
}

// Default returns the process auditor, a Nop until SetDefault is called
func Default() *Auditor {
	return current.Load()
}

// SetDefault installs a as the process auditor and returns the previous one
func SetDefault(a *Auditor) *Auditor {
	if a == nil {
		a = Nop()
	}
	return current.Swap(a)
}

// Record writes e and mirrors it as an event on the active span
func (a *Auditor) Record(ctx context.Context, e Entry) {
	ids := tracing.IDsFrom(ctx)
	if e.RequestID == "" {
		e.RequestID = ids.RequestID
	}
	if e.TraceID == "" {
		e.TraceID = ids.TraceID
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.AddEvent(e.Action, trace.WithAttributes(
			attribute.String("audit.kind", string(e.Kind)),
			attribute.String("audit.status", e.Status),
			attribute.String("audit.request_id", e.RequestID),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	line := a.logger.Log().
		Str("type", string(e.Kind)).
		Str("action", e.Action).
		Str("status", e.Status)
	if e.RequestID != "" {
		line = line.Str("request_id", e.RequestID)
	}
	if e.TraceID != "" {
		line = line.Str("trace_id", e.TraceID)
	}
	if len(e.Fields) > 0 {
		line = line.Interface("metadata", e.Fields)
	}
	line.Send()
}

// Close releases the underlying file, if any
func (a *Auditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	a.logger = zerolog.Nop()
	return err
}

// RecordCall audits the terminal state of one tool call
func RecordCall(ctx context.Context, requestID, tool, status string, fields map[string]interface{}) {
	Default().Record(ctx, Entry{
		Kind:      KindCall,
		Action:    "call:" + tool,
		Status:    status,
		RequestID: requestID,
		Fields:    fields,
	})
}

// RecordOrchestration audits one finished request
func RecordOrchestration(ctx context.Context, requestID, status string, fields map[string]interface{}) {
	Default().Record(ctx, Entry{
		Kind:      KindOrchestration,
		Action:    "orchestrate",
		Status:    status,
		RequestID: requestID,
		Fields:    fields,
	})
}

// RecordConfig audits a configuration load
func RecordConfig(ctx context.Context, action, status string, fields map[string]interface{}) {
	Default().Record(ctx, Entry{
		Kind:   KindConfig,
		Action: action,
		Status: status,
		Fields: fields,
	})
}
