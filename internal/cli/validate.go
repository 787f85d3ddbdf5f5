package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/pkg/batcher"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/spf13/cobra"
)

type validateOptions struct {
	dryRun    bool
	callsFile string
}

func newValidateCmd(global *globalOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load and validate the configuration, then build its resources and
fallback chains. With --dry-run and --calls, the calls are planned and run
against stand-in resources that echo their arguments, so dependency ordering
and argument schemas can be checked without touching real services.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, global, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "run calls against stand-in resources")
	cmd.Flags().StringVar(&opts.callsFile, "calls", "", "calls file to plan during a dry run")

	return cmd
}

func runValidate(cmd *cobra.Command, global *globalOptions, opts *validateOptions) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(global.cfgFile)
	if err != nil {
		return err
	}
	if global.logLevel != "" {
		cfg.Logging.Level = global.logLevel
	}

	validator := config.NewValidator()
	if errs := validator.ValidateConfig(cfg); len(errs) > 0 {
		printStatus(out, "✗", color.FgRed, "Configuration is invalid:")
		for _, err := range errs {
			fmt.Fprintf(out, "  - %v\n", err)
		}
		return fmt.Errorf("configuration has %d problem(s)", len(errs))
	}

	if _, err := config.BuildRegistry(cfg); err != nil {
		return err
	}
	planner, err := config.BuildPlanner(cfg)
	if err != nil {
		return err
	}

	printStatus(out, "✓", color.FgGreen, "Configuration valid: %d resource(s), %d fallback chain(s)", len(cfg.Resources), planner.Len())
	unresolved := validator.UnresolvedNames(cfg)
	for _, name := range unresolved {
		printStatus(out, "!", color.FgYellow, "Warning: %s is referenced by a fallback chain but not declared as a resource", name)
	}

	if !opts.dryRun || opts.callsFile == "" {
		return nil
	}

	calls, err := ReadCalls(opts.callsFile)
	if err != nil {
		return err
	}

	plan, err := batcher.Batch(calls)
	if err != nil {
		return err
	}
	fmt.Fprint(out, planText(plan.Waves))

	registry, err := standInRegistry(cfg, unresolved)
	if err != nil {
		return err
	}

	cleanup, err := setupObservability(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := orchestrator.New(registry, cfg.Engine.Options(), orchestrator.WithPlanner(planner))
	if err != nil {
		return err
	}

	result, err := engine.Orchestrate(cmd.Context(), calls)
	if err != nil {
		return err
	}
	return writeResult(out, result, false)
}

// standInRegistry mirrors the declared resources, schemas included, with
// static resources that succeed with the resource name. Names only referenced
// by fallback chains get stand-ins too.
func standInRegistry(cfg *config.Config, extra []string) (*resource.Registry, error) {
	registry := resource.NewRegistry()

	for _, r := range cfg.Resources {
		def, err := r.Definition()
		if err != nil {
			return nil, err
		}
		def.Resource = &resource.StaticResource{Payload: map[string]interface{}{"dry_run": true, "resource": r.Name}}
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}

	for _, name := range extra {
		if err := registry.Register(resource.Definition{
			Name:        name,
			Description: "dry-run stand-in for " + name,
			Resource:    &resource.StaticResource{Payload: map[string]interface{}{"dry_run": true, "resource": name}},
		}); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// printStatus writes one status line with a coloured marker. Colour is off
// when stdout is not a terminal or NO_COLOR is set.
func printStatus(out io.Writer, symbol string, attr color.Attribute, format string, args ...interface{}) {
	fmt.Fprintf(out, "%s %s\n", color.New(attr).Sprint(symbol), fmt.Sprintf(format, args...))
}
