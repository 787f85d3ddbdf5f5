package cli

import (
	"fmt"
	"os"

	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/pkg/fallback"
	"github.com/harun/toolflow/pkg/hooks"
	"github.com/harun/toolflow/pkg/resource"
	"github.com/spf13/cobra"
)

func newInitCmd(global *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write a configuration file with the default engine settings, an
example resource with a fallback chain and an example hook, with hooks
disabled. The file format follows the extension of --config (.yaml, .yml
or .json).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(global.cfgFile)
			path := loader.GetConfigPath()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := loader.Save(starterConfig()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to: %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Check it with: toolflow validate --config", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func starterConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Resources = []config.ResourceConfig{
		{
			Name:        "weather",
			Description: "Current weather for a city",
			Kind:        config.KindHTTP,
			URL:         "http://localhost:9000/weather",
			Method:      "GET",
			Parameters: []resource.Parameter{
				{Name: "city", Type: "string", Required: true},
			},
		},
		{
			Name:        "weather_cache",
			Description: "Last known weather",
			Kind:        config.KindStatic,
			Payload:     map[string]interface{}{"conditions": "unknown", "stale": true},
		},
	}
	cfg.Fallbacks = []config.FallbackConfig{
		{
			Primary: "weather",
			Chain:   []string{"weather_cache"},
			Adapt:   &fallback.MappingAdapter{Drop: []string{"city"}},
		},
	}
	cfg.Hooks.Entries = []config.HookConfig{
		{
			ID:     "circuit-open-notice",
			Event:  hooks.EventCircuitOpen,
			Script: `echo "circuit open: $TOOLFLOW_HOOK_DATA_RESOURCE" >&2`,
		},
		{
			ID:       "failed-call-log",
			Event:    hooks.EventCallFailed,
			Script:   `cat >> toolflow-failures.jsonl && echo >> toolflow-failures.jsonl`,
			Disabled: true,
		},
	}
	return cfg
}
