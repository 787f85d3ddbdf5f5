package cli

import (
	"context"
	"time"

	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/internal/metrics"
	"github.com/harun/toolflow/pkg/circuit"
	"github.com/harun/toolflow/pkg/hooks"
	"github.com/harun/toolflow/pkg/httpapi"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/rs/zerolog/log"
)

// engineParts is an engine wired from config together with the pieces the
// commands expose
type engineParts struct {
	engine   *orchestrator.Engine
	registry *resource.Registry
	metrics  *metrics.Metrics
	hooks    *hooks.Manager
}

// buildEngine wires resources, fallback chains, metrics and hooks into one
// engine. events may be nil; when set it receives call, request and breaker
// events.
func buildEngine(cfg *config.Config, events *httpapi.Hub) (*engineParts, error) {
	registry, err := config.BuildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	planner, err := config.BuildPlanner(cfg)
	if err != nil {
		return nil, err
	}
	for _, name := range config.NewValidator().UnresolvedNames(cfg) {
		log.Warn().Str("resource", name).Msg("Fallback chain references an undeclared resource")
	}

	hookManager, err := config.BuildHooks(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	breakers := circuit.NewRegistry(cfg.Engine.CircuitThreshold, cfg.Engine.CircuitCoolDown,
		circuit.WithStateChange(func(resource string, open bool) {
			m.SetCircuitOpen(resource, open)
			hookManager.OnCircuitChange(resource, open)
			if events != nil {
				events.OnCircuitChange(resource, open)
			}
		}),
	)

	opts := []orchestrator.Option{
		orchestrator.WithPlanner(planner),
		orchestrator.WithMetrics(m),
		orchestrator.WithCircuitRegistry(breakers),
		orchestrator.WithCallHook(hookManager.OnCallFinished),
		orchestrator.WithFinishHook(hookManager.OnOrchestrationFinished),
	}
	if events != nil {
		opts = append(opts,
			orchestrator.WithCallHook(events.OnCallFinished),
			orchestrator.WithFinishHook(events.OnOrchestrationFinished),
		)
	}

	engine, err := orchestrator.New(registry, cfg.Engine.Options(), opts...)
	if err != nil {
		return nil, err
	}

	return &engineParts{
		engine:   engine,
		registry: registry,
		metrics:  m,
		hooks:    hookManager,
	}, nil
}

// close waits a bounded time for hooks still running in the background
func (p *engineParts) close() {
	timeout := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.hooks.Wait(ctx); err != nil {
		log.Warn().Err(err).Dur("timeout", timeout).Msg("Hooks still running at exit")
	}
}
