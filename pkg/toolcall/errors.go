package toolcall

import (
	"errors"
	"fmt"
	"strings"
)

// Failure kinds. Every *CallError carries exactly one of these as its Kind.
var (
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrTimeout             = errors.New("timeout")
	ErrBusinessFailure     = errors.New("business failure")
	ErrTransport           = errors.New("transport exception")
	ErrDependencyCycle     = errors.New("dependency cycle degraded")
	ErrFallbackExhausted   = errors.New("fallback exhausted")
	ErrUnknownCapability   = errors.New("unknown capability")
	ErrInvalidArguments    = errors.New("invalid arguments")
	ErrCanceled            = errors.New("canceled")
	ErrDependencyFailed    = errors.New("dependency failed")
)

// Retryable reports whether a failure of this kind may succeed on a later attempt
func Retryable(kind error) bool {
	switch kind {
	case ErrTimeout, ErrBusinessFailure, ErrTransport:
		return true
	default:
		return false
	}
}

// SubstituteFailure records why a fallback substitute did not answer
type SubstituteFailure struct {
	Resource string `json:"resource"`
	Error    error  `json:"-"`
}

// CallError is the structured failure reason of a tool call
type CallError struct {
	Kind     error
	Resource string
	Message  string
	Attempts int
	Cause    error

	// Tried lists substitutes attempted, in chain order, when Kind is ErrFallbackExhausted
	Tried []SubstituteFailure
}

// NewCallError creates a CallError of the given kind
func NewCallError(kind error, resource, message string) *CallError {
	return &CallError{Kind: kind, Resource: resource, Message: message}
}

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Resource != "" {
		fmt.Fprintf(&b, " (%s)", e.Resource)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Kind == ErrFallbackExhausted && e.Cause != nil {
		fmt.Fprintf(&b, "; primary: %v", e.Cause)
	}
	return b.String()
}

// Is matches the failure kind
func (e *CallError) Is(target error) bool {
	return e.Kind == target
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// KindOf returns the failure kind of err, or nil if err is not a *CallError
func KindOf(err error) error {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return nil
}

// KindName returns a short label for the failure kind, used in metrics and summaries
func KindName(kind error) string {
	switch kind {
	case ErrResourceUnavailable:
		return "resource_unavailable"
	case ErrTimeout:
		return "timeout"
	case ErrBusinessFailure:
		return "business_failure"
	case ErrTransport:
		return "transport_exception"
	case ErrDependencyCycle:
		return "dependency_cycle_degraded"
	case ErrFallbackExhausted:
		return "fallback_exhausted"
	case ErrUnknownCapability:
		return "unknown_capability"
	case ErrInvalidArguments:
		return "invalid_arguments"
	case ErrCanceled:
		return "canceled"
	case ErrDependencyFailed:
		return "dependency_failed"
	default:
		return "unknown"
	}
}
