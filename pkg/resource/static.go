package resource

import (
	"context"
	"time"

	"github.com/harun/toolflow/pkg/toolcall"
)

// StaticResource answers every invocation with a fixed payload, or with a
// fixed business failure when FailWith is set.
type StaticResource struct {
	Payload  interface{}
	FailWith string
	Delay    time.Duration
}

// Invoke returns the configured outcome after Delay
func (s *StaticResource) Invoke(ctx context.Context, args map[string]interface{}) (toolcall.Outcome, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return toolcall.Outcome{}, ctx.Err()
		case <-timer.C:
		}
	}

	if s.FailWith != "" {
		return toolcall.Failed(s.FailWith), nil
	}
	return toolcall.Succeeded(s.Payload), nil
}
