package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/toolflow/internal/metrics"
	"github.com/harun/toolflow/internal/observability"
	"github.com/harun/toolflow/internal/tracing"
	"github.com/harun/toolflow/pkg/batcher"
	"github.com/harun/toolflow/pkg/circuit"
	"github.com/harun/toolflow/pkg/fallback"
	"github.com/harun/toolflow/pkg/report"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/harun/toolflow/pkg/retry"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultConcurrencyLimit bounds in-flight calls per wave
const DefaultConcurrencyLimit = 5

// DependencyMode controls when a dependent call may run
type DependencyMode string

const (
	// DependencyAfterComplete runs a dependent once its dependencies are
	// terminal, whatever their outcome
	DependencyAfterComplete DependencyMode = "after-complete"
	// DependencyRequireSuccess skips a dependent unless all its dependencies succeeded
	DependencyRequireSuccess DependencyMode = "require-success"
)

// Valid reports whether m is a known mode
func (m DependencyMode) Valid() bool {
	return m == DependencyAfterComplete || m == DependencyRequireSuccess
}

// Options are the engine's tunables
type Options struct {
	CircuitThreshold  int
	CircuitCoolDown   time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	PerAttemptTimeout time.Duration
	ConcurrencyLimit  int
	DependencyMode    DependencyMode
	// RequestTimeout bounds a whole request. Zero means no bound beyond the caller's context.
	RequestTimeout time.Duration
}

// DefaultOptions returns the latency-oriented defaults
func DefaultOptions() Options {
	return Options{
		CircuitThreshold:  circuit.DefaultThreshold,
		CircuitCoolDown:   circuit.DefaultCoolDown,
		MaxRetries:        retry.DefaultMaxRetries,
		RetryBaseDelay:    retry.DefaultBaseDelay,
		PerAttemptTimeout: retry.DefaultAttemptTimeout,
		ConcurrencyLimit:  DefaultConcurrencyLimit,
		DependencyMode:    DependencyAfterComplete,
	}
}

// Validate checks the options for values the engine cannot run with
func (o Options) Validate() error {
	switch {
	case o.CircuitThreshold < 1:
		return fmt.Errorf("circuit threshold must be at least 1, got %d", o.CircuitThreshold)
	case o.CircuitCoolDown < 0:
		return errors.New("circuit cool-down cannot be negative")
	case o.MaxRetries < 0:
		return fmt.Errorf("max retries cannot be negative, got %d", o.MaxRetries)
	case o.RetryBaseDelay < 0:
		return errors.New("retry base delay cannot be negative")
	case o.PerAttemptTimeout < 0:
		return errors.New("per-attempt timeout cannot be negative")
	case o.ConcurrencyLimit < 1:
		return fmt.Errorf("concurrency limit must be at least 1, got %d", o.ConcurrencyLimit)
	case o.RequestTimeout < 0:
		return errors.New("request timeout cannot be negative")
	case o.DependencyMode != "" && !o.DependencyMode.Valid():
		return fmt.Errorf("unknown dependency mode %q", o.DependencyMode)
	}
	return nil
}

// Engine orchestrates batches of tool calls. Breaker state lives in the
// Engine and is shared by every request it serves.
type Engine struct {
	invoker  resource.Invoker
	breakers *circuit.Registry
	planner  *fallback.Planner
	policy   retry.Policy
	metrics  *metrics.Metrics
	onFinish []FinishFunc
	onCall   []CallFunc
	opts     Options
	now      func() time.Time
}

// FinishFunc observes every finished request
type FinishFunc func(ctx context.Context, requestID string, res report.Result)

// CallFunc observes every call as it becomes terminal. It runs on the
// executor's goroutines and must be safe for concurrent use.
type CallFunc func(ctx context.Context, requestID string, call *toolcall.ToolCall)

// Option configures an Engine
type Option func(*Engine)

// WithPlanner sets the fallback plans
func WithPlanner(p *fallback.Planner) Option {
	return func(e *Engine) {
		e.planner = p
	}
}

// WithCircuitRegistry shares an existing breaker registry
func WithCircuitRegistry(r *circuit.Registry) Option {
	return func(e *Engine) {
		e.breakers = r
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithFinishHook registers fn to run after each request is aggregated
func WithFinishHook(fn FinishFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.onFinish = append(e.onFinish, fn)
		}
	}
}

// WithCallHook registers fn to run as each call settles
func WithCallHook(fn CallFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.onCall = append(e.onCall, fn)
		}
	}
}

// WithSleep overrides the retry backoff wait
func WithSleep(sleep retry.SleepFunc) Option {
	return func(e *Engine) {
		e.policy.Sleep = sleep
	}
}

// WithClock overrides the time source used for call timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine that invokes resources through invoker
func New(invoker resource.Invoker, opts Options, engineOpts ...Option) (*Engine, error) {
	if invoker == nil {
		return nil, errors.New("invoker cannot be nil")
	}
	if opts.DependencyMode == "" {
		opts.DependencyMode = DependencyAfterComplete
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		invoker: invoker,
		policy: retry.Policy{
			MaxRetries:     opts.MaxRetries,
			BaseDelay:      opts.RetryBaseDelay,
			AttemptTimeout: opts.PerAttemptTimeout,
		},
		opts: opts,
		now:  time.Now,
	}

	for _, opt := range engineOpts {
		opt(e)
	}

	if e.breakers == nil {
		e.breakers = circuit.NewRegistry(opts.CircuitThreshold, opts.CircuitCoolDown,
			circuit.WithStateChange(e.metrics.SetCircuitOpen))
	}

	return e, nil
}

// Breakers exposes the engine's circuit registry
func (e *Engine) Breakers() *circuit.Registry {
	return e.breakers
}

// Options returns the options the engine was built with
func (e *Engine) Options() Options {
	return e.opts
}

// RequestOption adjusts a single Orchestrate call
type RequestOption func(*requestConfig)

type requestConfig struct {
	concurrencyLimit int
	dependencyMode   DependencyMode
}

// WithConcurrencyLimit overrides the per-wave concurrency bound for one request
func WithConcurrencyLimit(n int) RequestOption {
	return func(c *requestConfig) {
		if n > 0 {
			c.concurrencyLimit = n
		}
	}
}

// WithDependencyMode overrides the dependency mode for one request
func WithDependencyMode(m DependencyMode) RequestOption {
	return func(c *requestConfig) {
		if m.Valid() {
			c.dependencyMode = m
		}
	}
}

// Orchestrate runs calls to completion and aggregates their outcomes. Every
// call is terminal when it returns. Individual failures are reported in the
// result; the error is reserved for malformed input.
func (e *Engine) Orchestrate(ctx context.Context, calls []*toolcall.ToolCall, opts ...RequestOption) (report.Result, error) {
	cfg := requestConfig{
		concurrencyLimit: e.opts.ConcurrencyLimit,
		dependencyMode:   e.opts.DependencyMode,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	for i, call := range calls {
		if call == nil {
			return report.Result{}, fmt.Errorf("call %d is nil", i)
		}
		if call.Name == "" {
			return report.Result{}, fmt.Errorf("call %d has no name", i)
		}
	}

	ctx = tracing.NewRequestContext(ctx)
	requestID := tracing.GetRequestID(ctx)
	ctx, span := tracing.StartSpan(ctx, "toolflow.orchestrate",
		attribute.String("request.id", requestID),
		attribute.Int("request.calls", len(calls)),
		attribute.Int("request.concurrency_limit", cfg.concurrencyLimit),
	)
	defer span.End()

	if e.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := e.now()

	e.prepare(calls, start)

	plan, err := batcher.Batch(calls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report.Result{}, err
	}

	logger.Debug().
		Int("calls", len(calls)).
		Int("waves", len(plan.Waves)).
		Bool("degraded", plan.IsDegraded()).
		Msg("Execution plan built")

	outcomes := newOutcomeIndex()
	executor := &WaveExecutor{
		invoker:  e.invoker,
		breakers: e.breakers,
		planner:  e.planner,
		policy:   e.policy,
		metrics:  e.metrics,
		dedup:    newDedupGroup(),
		onCall:   e.onCall,
		now:      e.now,
		limit:    int64(cfg.concurrencyLimit),
	}
	if cfg.dependencyMode == DependencyRequireSuccess {
		executor.blocked = outcomes.blocked
	}

	for i, wave := range plan.Waves {
		logger.Debug().
			Int("wave", i).
			Strs("tools", waveNames(wave)).
			Msg("Running wave")

		executor.Run(ctx, wave)
		outcomes.record(wave)
	}

	// waves cover every call, so this only fires if the batcher dropped one
	for _, call := range calls {
		if !call.Status.IsTerminal() {
			executor.skipCanceled(ctx, call, errors.New("call was not scheduled"))
		}
	}

	res := report.Aggregate(calls)
	if plan.Warning != nil {
		res.Warnings = append(res.Warnings, plan.Warning)
	}

	elapsed := e.now().Sub(start)
	e.metrics.RecordOrchestration(elapsed, res.AllSucceeded(), plan.IsDegraded())

	status := "complete"
	if !res.AllSucceeded() {
		status = "partial"
	}
	observability.RecordOrchestration(ctx, requestID, status, map[string]interface{}{
		"calls":     len(calls),
		"succeeded": res.SucceededCount(),
		"failed":    res.FailedCount(),
		"waves":     len(plan.Waves),
		"degraded":  plan.IsDegraded(),
	})

	span.SetAttributes(
		attribute.Int("request.succeeded", res.SucceededCount()),
		attribute.Int("request.failed", res.FailedCount()),
		attribute.Bool("request.degraded", plan.IsDegraded()),
	)

	logger.Info().
		Int("succeeded", res.SucceededCount()).
		Int("failed", res.FailedCount()).
		Dur("elapsed", elapsed).
		Msg("Orchestration finished")

	for _, fn := range e.onFinish {
		fn(ctx, requestID, res)
	}

	return res, nil
}

// prepare resets per-request state and assigns report keys. Identical
// duplicates share a key; each further distinct argument set under a name
// is reported as name#n.
func (e *Engine) prepare(calls []*toolcall.ToolCall, now time.Time) {
	keys := make(map[string]map[string]string)

	for _, call := range calls {
		call.EnsureID()
		call.Status = toolcall.StatusPending
		call.Result = nil
		call.Err = nil
		call.Attempts = 0
		call.Elapsed = 0
		call.Responder = ""
		call.Deduplicated = false
		call.SubmittedAt = now
		call.StartedAt = time.Time{}
		call.FinishedAt = time.Time{}

		identity, ok := dedupKey(call)
		if !ok {
			identity = call.ID
		}

		byIdentity, ok := keys[call.Name]
		if !ok {
			byIdentity = make(map[string]string)
			keys[call.Name] = byIdentity
		}
		key, ok := byIdentity[identity]
		if !ok {
			key = call.Name
			if n := len(byIdentity); n > 0 {
				key = fmt.Sprintf("%s#%d", call.Name, n+1)
			}
			byIdentity[identity] = key
		}
		call.Key = key
	}
}

func waveNames(wave []*toolcall.ToolCall) []string {
	names := make([]string, len(wave))
	for i, call := range wave {
		names[i] = call.Name
	}
	return names
}

// outcomeIndex tracks, per capability name, whether every call under that
// name has succeeded so far
type outcomeIndex struct {
	succeeded map[string]bool
}

func newOutcomeIndex() *outcomeIndex {
	return &outcomeIndex{succeeded: make(map[string]bool)}
}

// record is called between waves, never concurrently with blocked
func (o *outcomeIndex) record(wave []*toolcall.ToolCall) {
	for _, call := range wave {
		ok := call.Status == toolcall.StatusSucceeded
		if prev, seen := o.succeeded[call.Name]; seen {
			ok = ok && prev
		}
		o.succeeded[call.Name] = ok
	}
}

func (o *outcomeIndex) blocked(call *toolcall.ToolCall) (string, bool) {
	for _, dep := range call.SortedDependencies() {
		if !o.succeeded[dep] {
			return dep, true
		}
	}
	return "", false
}
