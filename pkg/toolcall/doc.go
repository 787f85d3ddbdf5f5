// Package toolcall defines the tool call data model shared by the
// orchestration engine.
//
// Invariants:
// - A call moves Pending -> Running -> (Retrying -> Running)* -> Succeeded | Failed,
//   or directly Pending -> Skipped.
// - Result is set only when Status is Succeeded; Err only when Status is Failed or Skipped.
// - Attempts counts invocations against the primary resource only, never fallback substitutes.
//
// Usage:
//
//	call := toolcall.New("weather", map[string]interface{}{"city": "London"})
//	call.Dependencies = []string{"geocode"}
package toolcall
