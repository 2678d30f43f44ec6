package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"vectorize/internal/config"
	"vectorize/internal/embedding"
	"vectorize/internal/gateway"
	"vectorize/internal/metrics"
	"vectorize/internal/trace"

	"github.com/spf13/cobra"
)

var (
	configPath string
	addr       string
	preset     string
	backend    string
)

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the embedding HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(configPath, func(c *config.Config) {
			if addr != "" {
				c.Server.Addr = addr
			}
			if preset != "" {
				c.Preset = preset
			}
			if backend != "" {
				c.Model.Backend = backend
			}
		})
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		shutdownTrace, err := trace.Init(ctx, trace.Config{
			Enabled:  cfg.Trace.Enabled,
			Endpoint: cfg.Trace.Endpoint,
			URLPath:  cfg.Trace.URLPath,
			APIKey:   cfg.Trace.APIKey,
			Insecure: cfg.Trace.Insecure,
		})
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer shutdownTrace(context.Background())

		providerOpts := []embedding.Option{embedding.WithChunkSize(cfg.Prepare.BatchSize)}
		var serverOpts []gateway.Option
		if cfg.Metrics.Enabled {
			m := metrics.New("vectorize", cfg.Metrics.DefaultCollectors)
			providerOpts = append(providerOpts, embedding.WithObserver(m))
			serverOpts = append(serverOpts, gateway.WithMetrics(m))
		}

		provider, cleanup, err := embedding.Setup(cfg, "", providerOpts...)
		if err != nil {
			return fmt.Errorf("setting up embedding provider: %w", err)
		}
		defer cleanup()

		// Loading up front keeps the first request fast. A failure here is
		// not fatal; the first request tries again.
		if cfg.Model.Preload {
			if _, err := provider.Acquire(ctx); err != nil {
				slog.Warn("model preload failed, loading on first request", "model", provider.ModelID(), "error", err)
			}
		}

		srv := gateway.NewServer(provider, cfg.Server, serverOpts...)
		slog.Info("starting server",
			"addr", cfg.Server.Addr,
			"preset", cfg.Preset,
			"model", provider.ModelID(),
			"normalize", cfg.Server.Normalize,
			"response", cfg.Server.Response,
		)
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

func init() {
	Cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	Cmd.Flags().StringVarP(&addr, "addr", "a", "", "override listen address")
	Cmd.Flags().StringVarP(&preset, "preset", "p", "", "service preset: bge, passage or query")
	Cmd.Flags().StringVar(&backend, "backend", "", "model backend: hugot, ollama, openai or mock")
}
