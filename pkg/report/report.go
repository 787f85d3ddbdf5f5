// Package report merges terminal tool calls into one orchestration result
// and renders it for a downstream reasoning step.
//
// Aggregate and Summary are pure: the same calls always yield the same
// result and the same text, presented in submission order.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/toolflow/pkg/toolcall"
)

const maxSummaryPayload = 2000

// Result is the merged outcome of one orchestration request
type Result struct {
	Succeeded map[string]interface{}
	Failed    map[string]error
	Statuses  map[string]toolcall.Status

	// Responders maps a key to the fallback substitute that answered for it.
	// Keys answered by their own resource are absent.
	Responders map[string]string

	Attempts map[string]int

	// Order is the submission order of keys, without repeats
	Order []string

	TotalElapsed time.Duration

	// Warnings carries non-fatal request-level signals such as a degraded
	// dependency graph
	Warnings []error
}

// Aggregate builds a Result from terminal calls
func Aggregate(calls []*toolcall.ToolCall) Result {
	res := Result{
		Succeeded:  make(map[string]interface{}),
		Failed:     make(map[string]error),
		Statuses:   make(map[string]toolcall.Status),
		Responders: make(map[string]string),
		Attempts:   make(map[string]int),
		Order:      make([]string, 0, len(calls)),
	}

	var first, last time.Time
	for _, call := range calls {
		key := call.Key
		if key == "" {
			key = call.Name
		}

		if !call.SubmittedAt.IsZero() && (first.IsZero() || call.SubmittedAt.Before(first)) {
			first = call.SubmittedAt
		}
		if call.FinishedAt.After(last) {
			last = call.FinishedAt
		}

		if _, seen := res.Statuses[key]; seen {
			continue
		}
		res.Order = append(res.Order, key)
		res.Statuses[key] = call.Status
		res.Attempts[key] = call.Attempts

		switch call.Status {
		case toolcall.StatusSucceeded:
			res.Succeeded[key] = call.Result
			if call.Responder != "" && call.Responder != call.Name {
				res.Responders[key] = call.Responder
			}
		case toolcall.StatusFailed, toolcall.StatusSkipped:
			err := call.Err
			if err == nil {
				err = fmt.Errorf("%s without a recorded error", call.Status)
			}
			res.Failed[key] = err
		default:
			res.Failed[key] = fmt.Errorf("call ended in non-terminal status %s", call.Status)
		}
	}

	if !first.IsZero() && last.After(first) {
		res.TotalElapsed = last.Sub(first)
	}

	return res
}

// SucceededCount returns the number of keys that succeeded
func (r Result) SucceededCount() int {
	return len(r.Succeeded)
}

// FailedCount returns the number of keys that failed or were skipped
func (r Result) FailedCount() int {
	return len(r.Failed)
}

// AllSucceeded reports whether every key succeeded
func (r Result) AllSucceeded() bool {
	return len(r.Failed) == 0
}

// Degraded reports whether the dependency graph could not be fully ordered
func (r Result) Degraded() bool {
	for _, w := range r.Warnings {
		if errors.Is(w, toolcall.ErrDependencyCycle) {
			return true
		}
	}
	return false
}

// Summary renders a deterministic text block, one line per key in
// submission order
func (r Result) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool results: %d succeeded, %d failed\n", r.SucceededCount(), r.FailedCount())

	for _, key := range r.Order {
		status := r.Statuses[key]
		switch status {
		case toolcall.StatusSucceeded:
			b.WriteString("- ")
			b.WriteString(key)
			b.WriteString(": succeeded")
			if responder, ok := r.Responders[key]; ok {
				fmt.Fprintf(&b, " (answered by %s)", responder)
			}
			b.WriteString(": ")
			b.WriteString(renderPayload(r.Succeeded[key]))
			b.WriteString("\n")
		default:
			err := r.Failed[key]
			fmt.Fprintf(&b, "- %s: %s [%s]: %s\n", key, status, toolcall.KindName(toolcall.KindOf(err)), errorText(err))
		}
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", errorText(w))
	}

	return b.String()
}

type entryJSON struct {
	Key       string      `json:"key"`
	Status    string      `json:"status"`
	Attempts  int         `json:"attempts"`
	Responder string      `json:"responder,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type resultJSON struct {
	Calls          []entryJSON `json:"calls"`
	TotalElapsedMs int64       `json:"total_elapsed_ms"`
	Warnings       []string    `json:"warnings,omitempty"`
}

// MarshalJSON encodes the result as an ordered list of calls
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Calls:          make([]entryJSON, 0, len(r.Order)),
		TotalElapsedMs: r.TotalElapsed.Milliseconds(),
	}

	for _, key := range r.Order {
		e := entryJSON{
			Key:       key,
			Status:    string(r.Statuses[key]),
			Attempts:  r.Attempts[key],
			Responder: r.Responders[key],
		}
		if payload, ok := r.Succeeded[key]; ok {
			e.Result = payload
		}
		if err, ok := r.Failed[key]; ok {
			e.ErrorKind = toolcall.KindName(toolcall.KindOf(err))
			e.Error = errorText(err)
		}
		out.Calls = append(out.Calls, e)
	}

	for _, w := range r.Warnings {
		out.Warnings = append(out.Warnings, errorText(w))
	}

	return json.Marshal(out)
}

func renderPayload(payload interface{}) string {
	var s string
	switch p := payload.(type) {
	case nil:
		s = "null"
	case string:
		s = p
	case []byte:
		s = string(p)
	case json.RawMessage:
		s = string(p)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			s = fmt.Sprintf("%v", p)
		} else {
			s = string(data)
		}
	}

	if len(s) > maxSummaryPayload {
		cut := maxSummaryPayload
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "... [truncated]"
	}
	return s
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}
