// Package resource registers the external collaborators a tool call can be
// dispatched to and invokes them through one uniform contract.
//
// Invariants:
// - Resource names are unique; registering a name twice is an error.
// - Arguments are schema-validated before a resource is invoked.
// - Business failures are Outcome values; Go errors are transport failures.
// - A panicking resource is reported as a transport failure, never propagated.
//
// Usage:
//
//	reg := resource.NewRegistry()
//	_ = reg.Register(resource.Definition{
//		Name:        "weather",
//		Description: "Current weather for a city",
//		Parameters:  []resource.Parameter{{Name: "city", Type: "string", Description: "city name", Required: true}},
//		Resource: resource.Func(func(ctx context.Context, args map[string]interface{}) (toolcall.Outcome, error) {
//			return toolcall.Succeeded("sunny"), nil
//		}),
//	})
//	outcome, err := reg.Invoke(ctx, "weather", map[string]interface{}{"city": "London"})
package resource
