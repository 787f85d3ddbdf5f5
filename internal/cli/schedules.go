package cli

import (
	"context"
	"fmt"

	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/internal/tracing"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/schedule"
	"github.com/rs/zerolog/log"
)

// buildScheduler turns the enabled schedules into jobs that run their calls
// through engine. A run fails when any of its calls does not succeed.
func buildScheduler(cfg *config.Config, engine *orchestrator.Engine) (*schedule.Service, error) {
	jobs := make([]schedule.Job, 0, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		if sc.Disabled {
			log.Debug().Str("job", sc.Name).Msg("Schedule disabled")
			continue
		}

		jobs = append(jobs, schedule.Job{
			Name:     sc.Name,
			Schedule: sc.Schedule(),
			Run: func(ctx context.Context) error {
				ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
				res, err := engine.Orchestrate(ctx, sc.ToolCalls())
				if err != nil {
					return err
				}
				if !res.AllSucceeded() {
					return fmt.Errorf("%d of %d calls did not succeed", res.FailedCount(), len(res.Order))
				}
				return nil
			},
		})
	}

	scheduler, err := schedule.NewService(jobs...)
	if err != nil {
		return nil, fmt.Errorf("invalid schedules: %w", err)
	}
	return scheduler, nil
}
