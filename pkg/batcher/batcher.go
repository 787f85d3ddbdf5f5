// Package batcher partitions tool calls into ordered waves so that a call
// only starts once every call it depends on has finished.
package batcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog/log"
)

// ErrEmptyWave indicates the batcher failed to make progress. It signals a
// broken internal invariant and aborts the whole request.
var ErrEmptyWave = errors.New("batcher produced an empty wave")

// Plan is the ordered list of waves for one request
type Plan struct {
	Waves [][]*toolcall.ToolCall

	// Degraded lists, in submission order, the calls whose dependencies could
	// not be satisfied and were placed together in the final wave
	Degraded []string

	// Warning is non-nil when the plan is degraded; its kind is ErrDependencyCycle
	Warning *toolcall.CallError
}

// IsDegraded reports whether dependency ordering could not be fully honoured
func (p Plan) IsDegraded() bool {
	return len(p.Degraded) > 0
}

// Size returns the total number of calls across all waves
func (p Plan) Size() int {
	n := 0
	for _, wave := range p.Waves {
		n += len(wave)
	}
	return n
}

// Batch builds waves from calls. Each wave holds every not-yet-placed call
// whose dependencies were all placed in earlier waves, sorted by priority
// descending (stable). When no call qualifies but calls remain, every
// remaining call goes into one final wave in submission order and the plan
// carries a warning instead of failing.
func Batch(calls []*toolcall.ToolCall) (Plan, error) {
	var plan Plan

	placed := make(map[string]bool, len(calls))
	remaining := append([]*toolcall.ToolCall(nil), calls...)

	for iterations := 0; len(remaining) > 0; iterations++ {
		if iterations > len(calls) {
			return plan, fmt.Errorf("%w after %d iterations", ErrEmptyWave, iterations)
		}

		var wave, rest []*toolcall.ToolCall
		for _, call := range remaining {
			if dependenciesPlaced(call, placed) {
				wave = append(wave, call)
			} else {
				rest = append(rest, call)
			}
		}

		if len(wave) == 0 {
			wave = rest
			rest = nil
			plan.Degraded = names(wave)
			plan.Warning = degradedWarning(wave, placed)

			log.Warn().
				Strs("calls", plan.Degraded).
				Msg("Unsatisfiable dependencies, running remaining calls in submission order")
		} else {
			sortByPriority(wave)
		}

		if len(wave) == 0 {
			return plan, ErrEmptyWave
		}

		for _, call := range wave {
			placed[call.Name] = true
		}
		plan.Waves = append(plan.Waves, wave)
		remaining = rest
	}

	return plan, nil
}

func dependenciesPlaced(call *toolcall.ToolCall, placed map[string]bool) bool {
	for _, dep := range call.Dependencies {
		if !placed[dep] {
			return false
		}
	}
	return true
}

func sortByPriority(wave []*toolcall.ToolCall) {
	sort.SliceStable(wave, func(i, j int) bool {
		return wave[i].Priority > wave[j].Priority
	})
}

func names(calls []*toolcall.ToolCall) []string {
	out := make([]string, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.Name)
	}
	return out
}

func degradedWarning(wave []*toolcall.ToolCall, placed map[string]bool) *toolcall.CallError {
	parts := make([]string, 0, len(wave))
	for _, call := range wave {
		var unmet []string
		for _, dep := range call.SortedDependencies() {
			if !placed[dep] {
				unmet = append(unmet, dep)
			}
		}
		parts = append(parts, fmt.Sprintf("%s waits on [%s]", call.Name, strings.Join(unmet, ", ")))
	}

	return toolcall.NewCallError(toolcall.ErrDependencyCycle, "",
		fmt.Sprintf("dependency graph could not be ordered (%s); executed in submission order", strings.Join(parts, "; ")))
}
