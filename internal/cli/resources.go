package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/harun/toolflow/internal/config"
	"github.com/spf13/cobra"
)

func newResourcesCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List configured resources and fallback chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			return printResources(cmd, cfg)
		},
	}
}

func printResources(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	if len(cfg.Resources) == 0 {
		fmt.Fprintln(out, "No resources configured")
	} else {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tTARGET\tPARAMETERS")
		for _, r := range cfg.Resources {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, target(r), parameters(r))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(cfg.Fallbacks) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Fallback chains:")
		for _, f := range cfg.Fallbacks {
			fmt.Fprintf(out, "  %s -> %s\n", f.Primary, strings.Join(f.Chain, " -> "))
		}
	}

	e := cfg.Engine
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Circuit breaker: opens after %d consecutive failures, cool-down %s\n", e.CircuitThreshold, e.CircuitCoolDown)
	fmt.Fprintf(out, "Retries: %d, base delay %s, attempt timeout %s\n", e.MaxRetries, e.RetryBaseDelay, e.PerAttemptTimeout)
	fmt.Fprintf(out, "Concurrency limit: %d, dependency mode: %s\n", e.ConcurrencyLimit, e.DependencyMode)

	return nil
}

func target(r config.ResourceConfig) string {
	switch r.Kind {
	case config.KindHTTP:
		method := r.Method
		if method == "" {
			method = "POST"
		}
		return strings.ToUpper(method) + " " + r.URL
	case config.KindStatic:
		if r.FailWith != "" {
			return "fails: " + r.FailWith
		}
		return "fixed payload"
	default:
		return "-"
	}
}

// parameters lists parameter names, required ones marked with *
func parameters(r config.ResourceConfig) string {
	if len(r.Parameters) == 0 {
		return "-"
	}
	names := make([]string, 0, len(r.Parameters))
	for _, p := range r.Parameters {
		name := p.Name
		if p.Required {
			name += "*"
		}
		names = append(names, name)
	}
	return strings.Join(names, ",")
}
