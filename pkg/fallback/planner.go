// Package fallback substitutes alternative resources for a capability whose
// primary resource has exhausted its retries.
//
// Invariants:
// - Plans are read-only once the Planner is built.
// - Each substitute is tried at most once per call, in chain order; a
//   substitute's own fallback plan is never consulted.
// - A success is reported under the primary's name with the substitute
//   recorded as the responder.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/toolflow/pkg/retry"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog/log"
)

// Plan is the static fallback configuration for one primary capability
type Plan struct {
	Primary string
	Chain   []string
	Adapt   Adapter
}

// RunFunc runs one substitute through the circuit breaker and retry policy
type RunFunc func(ctx context.Context, substitute string, args map[string]interface{}) retry.Result

// Outcome is the result of walking a fallback chain
type Outcome struct {
	// Used is false when no plan exists for the capability
	Used      bool
	Payload   interface{}
	Responder string
	Elapsed   time.Duration
	// Err is nil on success, otherwise an ErrFallbackExhausted wrapping the primary failure
	Err   *toolcall.CallError
	Tried []toolcall.SubstituteFailure
}

// Planner holds fallback plans keyed by primary capability
type Planner struct {
	plans map[string]Plan
}

// NewPlanner validates plans and builds a Planner
func NewPlanner(plans ...Plan) (*Planner, error) {
	p := &Planner{plans: make(map[string]Plan, len(plans))}

	for _, plan := range plans {
		if plan.Primary == "" {
			return nil, errors.New("fallback plan primary cannot be empty")
		}
		if _, exists := p.plans[plan.Primary]; exists {
			return nil, fmt.Errorf("duplicate fallback plan for %s", plan.Primary)
		}
		if len(plan.Chain) == 0 {
			return nil, fmt.Errorf("fallback plan for %s has an empty chain", plan.Primary)
		}

		seen := make(map[string]bool, len(plan.Chain))
		for _, substitute := range plan.Chain {
			if substitute == "" {
				return nil, fmt.Errorf("fallback plan for %s has an empty substitute", plan.Primary)
			}
			if substitute == plan.Primary {
				return nil, fmt.Errorf("fallback plan for %s lists itself as a substitute", plan.Primary)
			}
			if seen[substitute] {
				return nil, fmt.Errorf("fallback plan for %s lists %s twice", plan.Primary, substitute)
			}
			seen[substitute] = true
		}

		if plan.Adapt == nil {
			plan.Adapt = Identity
		}
		plan.Chain = append([]string(nil), plan.Chain...)
		p.plans[plan.Primary] = plan
	}

	return p, nil
}

// Plan returns the plan for primary, if any
func (p *Planner) Plan(primary string) (Plan, bool) {
	if p == nil {
		return Plan{}, false
	}
	plan, ok := p.plans[primary]
	return plan, ok
}

// Substitutes returns every capability name referenced by any chain
func (p *Planner) Substitutes() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, plan := range p.plans {
		for _, s := range plan.Chain {
			if !seen[s] {
				seen[s] = true
				names = append(names, s)
			}
		}
	}
	return names
}

// Len returns the number of configured plans
func (p *Planner) Len() int {
	if p == nil {
		return 0
	}
	return len(p.plans)
}

// Attempt walks the fallback chain for call after its primary failed with
// primaryErr. It stops at the first substitute that succeeds.
func (p *Planner) Attempt(ctx context.Context, call *toolcall.ToolCall, primaryErr *toolcall.CallError, run RunFunc) Outcome {
	plan, ok := p.Plan(call.Name)
	if !ok {
		return Outcome{Err: primaryErr}
	}

	out := Outcome{Used: true}

	for _, substitute := range plan.Chain {
		if ctx.Err() != nil {
			break
		}

		args := plan.Adapt.Adapt(call.Arguments, substitute)

		log.Debug().
			Str("tool", call.Name).
			Str("substitute", substitute).
			Msg("Trying fallback substitute")

		res := run(ctx, substitute, args)
		if res.Succeeded() {
			log.Info().
				Str("tool", call.Name).
				Str("responder", substitute).
				Int("tried", len(out.Tried)+1).
				Msg("Fallback substitute answered")

			out.Payload = res.Payload
			out.Responder = substitute
			out.Elapsed = res.Elapsed
			return out
		}

		out.Tried = append(out.Tried, toolcall.SubstituteFailure{
			Resource: substitute,
			Error:    res.Err,
		})
	}

	if len(out.Tried) == 0 {
		out.Err = primaryErr
		return out
	}

	exhausted := toolcall.NewCallError(toolcall.ErrFallbackExhausted, call.Name,
		fmt.Sprintf("%d substitute(s) failed", len(out.Tried)))
	exhausted.Cause = primaryErr
	exhausted.Tried = out.Tried
	if primaryErr != nil {
		exhausted.Attempts = primaryErr.Attempts
	}
	out.Err = exhausted

	log.Warn().
		Str("tool", call.Name).
		Int("tried", len(out.Tried)).
		Msg("Fallback chain exhausted")

	return out
}
