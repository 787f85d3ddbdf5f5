package config

import (
	"fmt"

	"github.com/harun/toolflow/pkg/fallback"
	"github.com/harun/toolflow/pkg/hooks"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/harun/toolflow/pkg/schedule"
	"github.com/harun/toolflow/pkg/toolcall"
)

// Options converts engine config into orchestrator options
func (e EngineConfig) Options() orchestrator.Options {
	return orchestrator.Options{
		CircuitThreshold:  e.CircuitThreshold,
		CircuitCoolDown:   e.CircuitCoolDown,
		MaxRetries:        e.MaxRetries,
		RetryBaseDelay:    e.RetryBaseDelay,
		PerAttemptTimeout: e.PerAttemptTimeout,
		ConcurrencyLimit:  e.ConcurrencyLimit,
		DependencyMode:    orchestrator.DependencyMode(e.DependencyMode),
		RequestTimeout:    e.RequestTimeout,
	}
}

// Resource builds the resource described by r
func (r ResourceConfig) Resource() (resource.Resource, error) {
	switch r.Kind {
	case KindHTTP:
		h := resource.NewHTTPResource(r.URL, r.Method, r.Timeout)
		h.Headers = r.Headers
		h.SuccessPath = r.Success
		h.ErrorPath = r.Error
		return h, nil
	case KindStatic, "":
		return &resource.StaticResource{
			Payload:  r.Payload,
			FailWith: r.FailWith,
			Delay:    r.Delay,
		}, nil
	default:
		return nil, fmt.Errorf("unknown resource kind %q", r.Kind)
	}
}

// Definition builds the registry definition for r
func (r ResourceConfig) Definition() (resource.Definition, error) {
	res, err := r.Resource()
	if err != nil {
		return resource.Definition{}, err
	}

	description := r.Description
	if description == "" {
		description = fmt.Sprintf("%s resource %s", r.Kind, r.Name)
	}

	return resource.Definition{
		Name:        r.Name,
		Description: description,
		Parameters:  r.Parameters,
		Resource:    res,
	}, nil
}

// BuildRegistry registers every declared resource into a new registry
func BuildRegistry(cfg *Config) (*resource.Registry, error) {
	registry := resource.NewRegistry()
	if err := RegisterResources(registry, cfg); err != nil {
		return nil, err
	}
	return registry, nil
}

// RegisterResources adds the declared resources to an existing registry
func RegisterResources(registry *resource.Registry, cfg *Config) error {
	for _, r := range cfg.Resources {
		def, err := r.Definition()
		if err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// BuildPlanner builds the fallback planner from the declared chains
func BuildPlanner(cfg *Config) (*fallback.Planner, error) {
	plans := make([]fallback.Plan, 0, len(cfg.Fallbacks))
	for _, f := range cfg.Fallbacks {
		plan := fallback.Plan{
			Primary: f.Primary,
			Chain:   f.Chain,
		}
		if f.Adapt != nil {
			plan.Adapt = *f.Adapt
		}
		plans = append(plans, plan)
	}

	planner, err := fallback.NewPlanner(plans...)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback configuration: %w", err)
	}
	return planner, nil
}

// BuildHooks builds the hook manager from the hooks section
func BuildHooks(cfg *Config) (*hooks.Manager, error) {
	entries := make([]hooks.Hook, 0, len(cfg.Hooks.Entries))
	for _, h := range cfg.Hooks.Entries {
		entries = append(entries, hooks.Hook{
			ID:      h.ID,
			Event:   h.Event,
			Script:  h.Script,
			Timeout: h.Timeout,
			Enabled: !h.Disabled,
		})
	}

	manager, err := hooks.NewManager(hooks.Config{
		Enabled:        cfg.Hooks.Enabled,
		Hooks:          entries,
		DefaultTimeout: cfg.Hooks.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid hooks configuration: %w", err)
	}
	return manager, nil
}

// Schedule returns the run schedule of s
func (s ScheduleConfig) Schedule() schedule.Schedule {
	return schedule.Schedule{
		Every: s.Every,
		Expr:  s.Cron,
		TZ:    s.TZ,
	}
}

// ToolCalls builds fresh calls for one run of s. Arguments are shared with
// the config, so resources must not mutate them.
func (s ScheduleConfig) ToolCalls() []*toolcall.ToolCall {
	calls := make([]*toolcall.ToolCall, 0, len(s.Calls))
	for _, c := range s.Calls {
		call := toolcall.New(c.Name, c.Arguments)
		call.Priority = c.Priority
		call.Dependencies = c.Dependencies
		calls = append(calls, call)
	}
	return calls
}
