package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/harun/toolflow/internal/metrics"
	"github.com/harun/toolflow/internal/observability"
	"github.com/harun/toolflow/internal/tracing"
	"github.com/harun/toolflow/pkg/circuit"
	"github.com/harun/toolflow/pkg/fallback"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/harun/toolflow/pkg/retry"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// WaveExecutor runs the calls of one wave concurrently, at most limit at a
// time. Tokens are handed out in wave order, which the batcher sorts by
// priority.
type WaveExecutor struct {
	invoker  resource.Invoker
	breakers *circuit.Registry
	planner  *fallback.Planner
	policy   retry.Policy
	metrics  *metrics.Metrics
	dedup    *dedupGroup
	onCall   []CallFunc
	now      func() time.Time
	limit    int64

	// blocked reports whether a call must be skipped because of its
	// dependencies' outcomes. Nil means calls are never blocked.
	blocked func(call *toolcall.ToolCall) (string, bool)
}

// Run executes wave and returns once every call in it is terminal
func (x *WaveExecutor) Run(ctx context.Context, wave []*toolcall.ToolCall) {
	limit := x.limit
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	var wg sync.WaitGroup
	for _, call := range wave {
		if err := sem.Acquire(ctx, 1); err != nil {
			x.skipCanceled(ctx, call, err)
			continue
		}

		wg.Add(1)
		go func(call *toolcall.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)
			x.runCall(ctx, call)
		}(call)
	}
	wg.Wait()
}

func (x *WaveExecutor) runCall(ctx context.Context, call *toolcall.ToolCall) {
	if err := ctx.Err(); err != nil {
		x.skipCanceled(ctx, call, err)
		return
	}

	if x.blocked != nil {
		if dep, blocked := x.blocked(call); blocked {
			ce := toolcall.NewCallError(toolcall.ErrDependencyFailed, call.Name, "dependency "+dep+" did not succeed")
			call.Skip(ce, x.now())
			x.finish(ctx, call)
			return
		}
	}

	x.dedup.Do(call, func(call *toolcall.ToolCall) {
		x.execute(ctx, call)
	})

	if call.Deduplicated {
		log.Debug().
			Str("tool", call.Name).
			Str("call_id", call.ID).
			Msg("Reused outcome of identical call")
	}

	x.finish(ctx, call)
}

// execute drives one call through breaker, retry and fallback to a terminal state
func (x *WaveExecutor) execute(ctx context.Context, call *toolcall.ToolCall) {
	ctx = tracing.PropagateToCall(ctx, call.ID, call.Name)
	ctx, span := tracing.StartSpan(ctx, "toolflow.call",
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
		attribute.Int("tool.priority", call.Priority),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	call.StartedAt = x.now()

	var primaryErr *toolcall.CallError
	if !x.breakers.Allow(call.Name) {
		x.metrics.RecordCircuitRejection(call.Name)
		primaryErr = toolcall.NewCallError(toolcall.ErrResourceUnavailable, call.Name, "circuit open")
		logger.Warn().Msg("Circuit open, call not attempted")
	} else {
		res := x.policy.Execute(ctx, call.Name, call.Arguments, x.invoker, &retry.Hooks{
			OnAttempt: func(attempt int) {
				call.Start(x.now())
				call.Attempts = attempt
			},
			OnRetry: func(attempt int, err error, delay time.Duration) {
				call.Status = toolcall.StatusRetrying
				x.metrics.RecordRetry(call.Name)
			},
		})
		call.Attempts = res.Attempts
		call.Elapsed = res.Elapsed
		x.record(call.Name, res)

		if res.Succeeded() {
			call.Succeed(res.Payload, call.Name, x.now())
			span.SetStatus(codes.Ok, "")
			return
		}
		primaryErr = res.Err
	}

	if !fallbackEligible(primaryErr) {
		x.fail(call, primaryErr, span)
		return
	}

	out := x.planner.Attempt(ctx, call, primaryErr, func(ctx context.Context, substitute string, args map[string]interface{}) retry.Result {
		res := x.runSubstitute(ctx, substitute, args)
		x.metrics.RecordFallback(call.Name, substitute, res.Succeeded())
		return res
	})

	if out.Err == nil {
		call.Elapsed = out.Elapsed
		call.Succeed(out.Payload, out.Responder, x.now())
		span.SetAttributes(attribute.String("tool.responder", out.Responder))
		span.SetStatus(codes.Ok, "")
		return
	}

	x.fail(call, out.Err, span)
}

// runSubstitute invokes one fallback substitute under its own breaker
func (x *WaveExecutor) runSubstitute(ctx context.Context, substitute string, args map[string]interface{}) retry.Result {
	if !x.breakers.Allow(substitute) {
		x.metrics.RecordCircuitRejection(substitute)
		return retry.Result{
			Err: toolcall.NewCallError(toolcall.ErrResourceUnavailable, substitute, "circuit open"),
		}
	}

	res := x.policy.Execute(ctx, substitute, args, x.invoker, &retry.Hooks{
		OnRetry: func(attempt int, err error, delay time.Duration) {
			x.metrics.RecordRetry(substitute)
		},
	})
	x.record(substitute, res)
	return res
}

// record feeds an attempted invocation's outcome into the breaker
func (x *WaveExecutor) record(name string, res retry.Result) {
	if res.Succeeded() {
		x.breakers.RecordSuccess(name)
		return
	}
	if countsAgainstCircuit(res.Err) {
		x.breakers.RecordFailure(name)
	}
}

func (x *WaveExecutor) fail(call *toolcall.ToolCall, err *toolcall.CallError, span trace.Span) {
	call.Fail(err, x.now())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (x *WaveExecutor) skipCanceled(ctx context.Context, call *toolcall.ToolCall, cause error) {
	ce := toolcall.NewCallError(toolcall.ErrCanceled, call.Name, "request canceled before the call started")
	ce.Cause = cause
	call.Skip(ce, x.now())
	x.finish(ctx, call)
}

// finish emits metrics, the audit event and call hooks for a terminal call
func (x *WaveExecutor) finish(ctx context.Context, call *toolcall.ToolCall) {
	requestID := tracing.GetRequestID(ctx)
	defer func() {
		for _, fn := range x.onCall {
			fn(ctx, requestID, call)
		}
	}()

	kind := ""
	if call.Status != toolcall.StatusSucceeded {
		kind = toolcall.KindName(toolcall.KindOf(call.Err))
	}
	x.metrics.RecordToolCall(call.Name, string(call.Status), kind, call.Elapsed, call.Attempts)

	metadata := map[string]interface{}{
		"call_id":  call.ID,
		"attempts": call.Attempts,
		"elapsed":  call.Elapsed.String(),
	}
	if call.Responder != "" && call.Responder != call.Name {
		metadata["responder"] = call.Responder
	}
	if kind != "" {
		metadata["error_kind"] = kind
	}
	if call.Deduplicated {
		metadata["deduplicated"] = true
	}
	observability.RecordCall(ctx, requestID, call.Name, string(call.Status), metadata)
}

// fallbackEligible reports whether a primary failure may be answered by a substitute
func fallbackEligible(err *toolcall.CallError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case toolcall.ErrCanceled, toolcall.ErrDependencyFailed:
		return false
	default:
		return true
	}
}

// countsAgainstCircuit reports whether a failed invocation is evidence the
// resource itself is unhealthy
func countsAgainstCircuit(err *toolcall.CallError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case toolcall.ErrTimeout, toolcall.ErrBusinessFailure, toolcall.ErrTransport:
		return true
	default:
		return false
	}
}
