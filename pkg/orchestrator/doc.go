// Package orchestrator executes a set of tool calls against unreliable
// resources: dependency-ordered waves, bounded concurrency, per-resource
// circuit breaking, retries with backoff, and fallback substitution.
//
// Invariants:
// - Every submitted call ends Succeeded, Failed or Skipped when Orchestrate returns.
// - A call never starts before every call it depends on is terminal.
// - Identical (name, arguments) calls in one request invoke their resource once.
// - Individual call failures are values in the result, never an Orchestrate error.
//
// Usage:
//
//	engine, _ := orchestrator.New(registry, orchestrator.DefaultOptions(),
//		orchestrator.WithPlanner(planner))
//	result, err := engine.Orchestrate(ctx, []*toolcall.ToolCall{
//		toolcall.New("geocode", map[string]interface{}{"city": "London"}),
//		{Name: "weather", Dependencies: []string{"geocode"}},
//	})
//	fmt.Println(result.Summary())
package orchestrator
