package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Rainbow-0328/dianping/internal/api"
	"github.com/Rainbow-0328/dianping/internal/logging"
	"github.com/Rainbow-0328/dianping/internal/metrics"
	"github.com/Rainbow-0328/dianping/internal/observability"
)

func serveCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Daemon.HTTPAddr = listenAddr
			}

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.TracingEnabled,
				Exporter:    cfg.Observability.Exporter,
				Endpoint:    cfg.Observability.Endpoint,
				ServiceName: "dianping",
				SampleRate:  cfg.Observability.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(ctx)
			metrics.InitPrometheus(cfg.Observability.MetricsNamespace, nil)

			c, err := buildCore(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			httpServer := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Handler: &api.Handler{
					Shops:    c.shops,
					Seckill:  c.seckill,
					Vouchers: c.store,
					Health:   map[string]api.Pinger{"redis": c.kv, "postgres": c.store},
				},
				Limiter: c.limiter,
			})
			logging.Op().Info("dianping started",
				"addr", cfg.Daemon.HTTPAddr,
				"cache_strategy", c.shops.Strategy(),
				"rate_limit", cfg.RateLimit.Enabled,
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logging.Op().Info("shutdown signal received", "signal", sig.String())

			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Daemon.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}
