// Package retry runs a single tool call against a single resource with a
// bounded number of re-attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/harun/toolflow/pkg/resource"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries     = 1
	DefaultBaseDelay      = 300 * time.Millisecond
	DefaultAttemptTimeout = 10 * time.Second
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures the re-attempt loop
type Policy struct {
	// MaxRetries is the number of re-attempts after the first attempt
	MaxRetries int
	// BaseDelay is the wait before the first re-attempt; each later wait doubles
	BaseDelay time.Duration
	// AttemptTimeout bounds each attempt individually
	AttemptTimeout time.Duration
	// Sleep overrides the backoff wait, mainly for tests
	Sleep SleepFunc
}

// DefaultPolicy returns the latency-oriented defaults
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Hooks observe the loop. Either field may be nil.
type Hooks struct {
	// OnAttempt fires before each attempt with its 1-based number
	OnAttempt func(attempt int)
	// OnRetry fires after a failed attempt that will be re-attempted
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Result is the terminal outcome of the loop
type Result struct {
	Payload  interface{}
	Err      *toolcall.CallError
	Attempts int
	// Elapsed is the duration of the final attempt
	Elapsed time.Duration
}

// Succeeded reports whether the loop ended in success
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Backoff returns the wait before re-attempt number retry (1-based)
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay << uint(retry-1)
}

// Execute invokes resourceName through inv until it succeeds, fails with a
// non-retryable error, or exhausts MaxRetries.
func (p Policy) Execute(ctx context.Context, resourceName string, args map[string]interface{}, inv resource.Invoker, hooks *Hooks) Result {
	if hooks == nil {
		hooks = &Hooks{}
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var res Result
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			res.Err = canceled(resourceName, ctx.Err(), res.Err)
			return res
		}

		if hooks.OnAttempt != nil {
			hooks.OnAttempt(attempt)
		}

		payload, callErr, elapsed := p.attempt(ctx, resourceName, args, inv)
		res.Attempts = attempt
		res.Elapsed = elapsed

		if callErr == nil {
			res.Payload = payload
			res.Err = nil
			return res
		}
		callErr.Attempts = attempt
		res.Err = callErr

		if !toolcall.Retryable(callErr.Kind) || attempt > maxRetries {
			return res
		}

		delay := p.Backoff(attempt)
		log.Debug().
			Str("resource", resourceName).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(callErr).
			Msg("Attempt failed, retrying")

		if hooks.OnRetry != nil {
			hooks.OnRetry(attempt, callErr, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			res.Err = canceled(resourceName, err, callErr)
			return res
		}
	}
}

// attempt performs one bounded invocation and classifies its result
func (p Policy) attempt(ctx context.Context, resourceName string, args map[string]interface{}, inv resource.Invoker) (interface{}, *toolcall.CallError, time.Duration) {
	attemptCtx := ctx
	var cancel context.CancelFunc = func() {}
	if p.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
	}
	defer cancel()

	start := time.Now()
	outcome, err := inv.Invoke(attemptCtx, resourceName, args)
	elapsed := time.Since(start)

	if err != nil {
		return nil, classify(ctx, attemptCtx, resourceName, err), elapsed
	}

	if !outcome.Success {
		message := outcome.Error
		if message == "" {
			message = "resource reported failure"
		}
		return nil, toolcall.NewCallError(toolcall.ErrBusinessFailure, resourceName, message), elapsed
	}

	if message, failed := resource.DetectFailure(outcome.Payload); failed {
		return nil, toolcall.NewCallError(toolcall.ErrBusinessFailure, resourceName, message), elapsed
	}

	return outcome.Payload, nil, elapsed
}

func classify(parent, attemptCtx context.Context, resourceName string, err error) *toolcall.CallError {
	var ce *toolcall.CallError
	if errors.As(err, &ce) {
		return ce
	}

	if parent.Err() != nil {
		return canceled(resourceName, parent.Err(), nil)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		ce = toolcall.NewCallError(toolcall.ErrTimeout, resourceName, "attempt timed out")
		ce.Cause = err
		return ce
	}

	ce = toolcall.NewCallError(toolcall.ErrTransport, resourceName, err.Error())
	ce.Cause = err
	return ce
}

func canceled(resourceName string, err error, last *toolcall.CallError) *toolcall.CallError {
	ce := toolcall.NewCallError(toolcall.ErrCanceled, resourceName, err.Error())
	if last != nil {
		ce.Attempts = last.Attempts
		ce.Cause = last
	} else {
		ce.Cause = err
	}
	return ce
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
