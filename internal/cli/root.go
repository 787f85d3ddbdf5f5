package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/internal/logger"
	"github.com/harun/toolflow/internal/observability"
	"github.com/harun/toolflow/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// globalOptions holds the persistent flags shared by every command
type globalOptions struct {
	cfgFile     string
	logLevel    string
	metricsAddr string
}

// NewRootCmd builds the command tree. Each call returns independent flag state.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "toolflow",
		Short: "toolflow - tool-call orchestration engine",
		Long: `toolflow runs batches of tool calls against configured resources.
It orders calls by their dependencies, runs independent calls concurrently,
retries transient failures, trips circuit breakers on unhealthy resources and
answers failed calls from fallback chains.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.toolflow/toolflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newValidateCmd(opts),
		newResourcesCmd(opts),
		newInitCmd(opts),
	)

	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// GetRootCmd returns a fresh root command for testing
func GetRootCmd() *cobra.Command {
	return NewRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies flag overrides
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupObservability installs the logger, audit log and tracer provider for
// one command. The returned func releases them.
func setupObservability(cmd *cobra.Command, cfg *config.Config) (func(), error) {
	lg, err := logger.Install(logger.Options{
		Level:          cfg.Logging.Level,
		Console:        cfg.Logging.Console,
		Pretty:         cfg.Logging.Pretty,
		Output:         cmd.ErrOrStderr(),
		File:           cfg.Logging.File,
		Redaction:      cfg.Logging.Redaction,
		RedactPatterns: cfg.Logging.RedactPatterns,
		Rotation: logger.RotationPolicy{
			MaxBytes:   int64(cfg.Logging.MaxSize) << 20,
			MaxAge:     time.Duration(cfg.Logging.MaxAge) * 24 * time.Hour,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	closers := []func(){func() { lg.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Audit.File != "" {
		auditor, err := observability.Open(cfg.Audit.File)
		if err != nil {
			cleanup()
			return nil, err
		}
		previous := observability.SetDefault(auditor)
		closers = append(closers, func() {
			observability.SetDefault(previous)
			auditor.Close()
		})
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitProvider(cmd.Context(), tracing.ProviderConfig{
			ServiceName: cfg.Tracing.ServiceName,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
			Output:      cmd.ErrOrStderr(),
		})
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		})
	}

	return cleanup, nil
}
