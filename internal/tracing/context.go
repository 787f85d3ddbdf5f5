// Package tracing carries request identity through contexts, logs and spans.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type idsKey struct{}

// IDs identifies the request, and the call within it, that a context serves
type IDs struct {
	TraceID   string // shared by every request of one caller interaction
	RequestID string // one Orchestrate invocation
	CallID    string
	Tool      string
}

// IDsFrom returns the identity stored in ctx
func IDsFrom(ctx context.Context) IDs {
	if ids, ok := ctx.Value(idsKey{}).(IDs); ok {
		return ids
	}
	return IDs{}
}

// WithIDs stores ids in ctx, replacing any previous identity
func WithIDs(ctx context.Context, ids IDs) context.Context {
	return context.WithValue(ctx, idsKey{}, ids)
}

func update(ctx context.Context, set func(*IDs)) context.Context {
	ids := IDsFrom(ctx)
	set(&ids)
	return WithIDs(ctx, ids)
}

// NewTraceID returns a random trace ID
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID sets the trace ID of ctx
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return update(ctx, func(ids *IDs) { ids.TraceID = traceID })
}

// GetTraceID returns the trace ID of ctx, if any
func GetTraceID(ctx context.Context) string {
	return IDsFrom(ctx).TraceID
}

// GetRequestID returns the request ID of ctx, if any
func GetRequestID(ctx context.Context) string {
	return IDsFrom(ctx).RequestID
}

// NewRequestContext starts a request under ctx. The trace ID is kept, or
// created, and the request gets a fresh ID. Call fields are cleared.
func NewRequestContext(ctx context.Context) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}
	return WithIDs(ctx, IDs{TraceID: traceID, RequestID: uuid.NewString()})
}

// PropagateToCall derives the context one tool call runs under
func PropagateToCall(ctx context.Context, callID, tool string) context.Context {
	return update(ctx, func(ids *IDs) {
		if ids.TraceID == "" {
			ids.TraceID = NewTraceID()
		}
		ids.CallID = callID
		ids.Tool = tool
	})
}

// LoggerFromContext returns base annotated with the identity in ctx
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	ids := IDsFrom(ctx)
	fields := base.With()
	for _, f := range [...]struct{ key, value string }{
		{"trace_id", ids.TraceID},
		{"request_id", ids.RequestID},
		{"call_id", ids.CallID},
		{"tool", ids.Tool},
	} {
		if f.value != "" {
			fields = fields.Str(f.key, f.value)
		}
	}
	return fields.Logger()
}
