package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/toolflow/internal/config"
	"github.com/harun/toolflow/internal/observability"
	"github.com/harun/toolflow/pkg/httpapi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	addr string
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP",
		Long: `Serve orchestration requests over HTTP until interrupted.

  POST /v1/orchestrate              run a batch of calls, same shape as a calls file
  GET  /v1/resources                registered resources and their circuit state
  GET  /v1/events                   websocket stream of call, request and circuit events
  GET  /v1/schedules                configured schedules and their last runs
  POST /v1/schedules/{name}/run     run a schedule now
  GET  /health                      liveness
  GET  /metrics                     Prometheus metrics

Breaker state is shared by every request the server handles, including
scheduled runs. When server.secret is set, requests must carry an
X-Toolflow-Signature header of the form sha256=<hex HMAC of the body>;
requests without a body sign the empty string.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, global *globalOptions, opts *serveOptions) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
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
		"command":   "serve",
	})

	hub := httpapi.NewHub()
	parts, err := buildEngine(cfg, hub)
	if err != nil {
		return err
	}
	defer parts.close()

	scheduler, err := buildScheduler(cfg, parts.engine)
	if err != nil {
		return err
	}

	options := httpapi.Options{
		Addr:               cfg.Server.Addr,
		Secret:             cfg.Server.Secret,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RequestTimeout:     cfg.Server.RequestTimeout,
		MaxBodyBytes:       cfg.Server.MaxBodyBytes,
		Metrics:            parts.metrics,
		Events:             hub,
	}
	if scheduler.Len() > 0 {
		options.Schedules = scheduler
	}

	server, err := httpapi.NewServer(parts.engine, parts.registry, options)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d resource(s) on http://%s\n", parts.registry.Len(), ln.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if scheduler.Len() > 0 {
		if err := scheduler.Start(ctx); err != nil {
			_ = ln.Close()
			return err
		}
		defer scheduler.Stop()
		fmt.Fprintf(cmd.OutOrStdout(), "Running %d schedule(s)\n", scheduler.Len())
	}

	return serveUntilDone(ctx, server, ln)
}

// serveUntilDone serves on ln until ctx is done, then drains and stops the
// server. A serve failure stops the server too.
func serveUntilDone(ctx context.Context, server *httpapi.Server, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(ln)
	})

	g.Go(func() error {
		<-gctx.Done()
		return server.Stop(context.Background())
	})

	return g.Wait()
}
