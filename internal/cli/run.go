package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/internal/observability"
	"github.com/harun/toolflow/internal/watch"
	"github.com/harun/toolflow/pkg/orchestrator"
	"github.com/harun/toolflow/pkg/report"
	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	callsFile      string
	concurrency    int
	dependencyMode string
	jsonOutput     bool
	strict         bool
	watch          bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch of tool calls",
		Long: `Run one orchestration request. Calls are read from a YAML or JSON file,
either as a list or under a top-level "calls" key:

  calls:
    - name: geocode
      arguments: {city: Paris}
    - name: weather
      dependencies: [geocode]

The merged result is printed as a text summary, or as JSON with --json.
With --watch the calls are run again whenever the calls file changes, until
interrupted. Breaker state carries over between runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalls(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.callsFile, "calls", "", "file with the tool calls to run")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "override the concurrency limit for this run")
	cmd.Flags().StringVar(&opts.dependencyMode, "dependency-mode", "", "override the dependency mode (after-complete, require-success)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "exit with an error when any call did not succeed")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-run whenever the calls file changes")
	_ = cmd.MarkFlagRequired("calls")

	return cmd
}

func runCalls(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}

	cleanup, err := setupObservability(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	observability.RecordConfig(cmd.Context(), "config:load", "success", map[string]interface{}{
		"path":      config.NewLoader(global.cfgFile).GetConfigPath(),
		"resources": len(cfg.Resources),
		"fallbacks": len(cfg.Fallbacks),
	})

	calls, err := ReadCalls(opts.callsFile)
	if err != nil {
		return err
	}

	requestOpts, err := opts.requestOptions()
	if err != nil {
		return err
	}

	parts, err := buildEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer parts.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result report.Result
	work := func(ctx context.Context) error {
		var err error
		result, err = parts.engine.Orchestrate(ctx, calls, requestOpts...)
		return err
	}
	if opts.watch {
		work = func(ctx context.Context) error {
			return watchCalls(ctx, cmd.OutOrStdout(), opts, calls, func(ctx context.Context, calls []*toolcall.ToolCall) (report.Result, error) {
				return parts.engine.Orchestrate(ctx, calls, requestOpts...)
			})
		}
	}

	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Metrics.Addr, err)
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
		err = serveMetricsWhile(ctx, ln, parts.metrics.Handler(), work)
	} else {
		err = work(ctx)
	}
	if err != nil {
		return err
	}
	if opts.watch {
		return nil
	}

	if err := writeResult(cmd.OutOrStdout(), result, opts.jsonOutput); err != nil {
		return err
	}

	if opts.strict && !result.AllSucceeded() {
		return fmt.Errorf("%d of %d calls did not succeed", result.FailedCount(), len(result.Order))
	}
	return nil
}

// orchestrateFunc runs one batch
type orchestrateFunc func(ctx context.Context, calls []*toolcall.ToolCall) (report.Result, error)

// watchCalls runs calls, then re-reads and re-runs them on every change to
// the calls file until ctx is done. A calls file that fails to parse is
// reported and skipped.
func watchCalls(ctx context.Context, out io.Writer, opts *runOptions, calls []*toolcall.ToolCall, orchestrate orchestrateFunc) error {
	w, err := watch.New(0, opts.callsFile)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	runOnce := func(calls []*toolcall.ToolCall) error {
		result, err := orchestrate(ctx, calls)
		if err != nil {
			fmt.Fprintf(out, "Run failed: %v\n", err)
			return nil
		}
		return writeResult(out, result, opts.jsonOutput)
	}

	if err := runOnce(calls); err != nil {
		return err
	}
	fmt.Fprintf(out, "Watching %s for changes\n", opts.callsFile)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Changes():
		}

		calls, err := ReadCalls(opts.callsFile)
		if err != nil {
			log.Warn().Err(err).Str("path", opts.callsFile).Msg("Skipping run for unreadable calls file")
			fmt.Fprintf(out, "Calls file changed but could not be read: %v\n", err)
			continue
		}

		fmt.Fprintf(out, "\nCalls file changed, running %d call(s)\n", len(calls))
		if err := runOnce(calls); err != nil {
			return err
		}
	}
}

func (o *runOptions) requestOptions() ([]orchestrator.RequestOption, error) {
	var opts []orchestrator.RequestOption

	if o.concurrency < 0 {
		return nil, fmt.Errorf("--concurrency must be positive, got %d", o.concurrency)
	}
	if o.concurrency > 0 {
		opts = append(opts, orchestrator.WithConcurrencyLimit(o.concurrency))
	}

	if o.dependencyMode != "" {
		mode := orchestrator.DependencyMode(o.dependencyMode)
		if !mode.Valid() {
			return nil, fmt.Errorf("unknown dependency mode %q", o.dependencyMode)
		}
		opts = append(opts, orchestrator.WithDependencyMode(mode))
	}

	return opts, nil
}

// serveMetricsWhile serves handler on ln until work returns, then shuts the
// server down. A server failure cancels work.
func serveMetricsWhile(ctx context.Context, ln net.Listener, handler http.Handler, work func(context.Context) error) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
		return work(gctx)
	})

	return g.Wait()
}

func writeResult(w io.Writer, result report.Result, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	_, err := io.WriteString(w, result.Summary())
	return err
}

// planText renders waves one per line, for dry runs
func planText(waves [][]*toolcall.ToolCall) string {
	var out string
	for i, wave := range waves {
		out += fmt.Sprintf("Wave %d:", i+1)
		for _, call := range wave {
			out += " " + call.Name
		}
		out += "\n"
	}
	return out
}
