package main

import (
	"context"
	"time"

	"github.com/cyph3rk/fronteira/internal/config"
	"github.com/cyph3rk/fronteira/internal/logger"
	"github.com/cyph3rk/fronteira/internal/server"
	"github.com/cyph3rk/fronteira/internal/telemetry"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync(log)

			ctx := cmd.Context()
			if cfg.Telemetry.Enabled {
				tp, err := telemetry.InitTracer(ctx, telemetry.Config{
					ServiceName: cfg.Telemetry.ServiceName,
					Endpoint:    cfg.Telemetry.Endpoint,
					Insecure:    cfg.Telemetry.Insecure,
					SampleRatio: cfg.Telemetry.SampleRatio,
				})
				if err != nil {
					return err
				}
				defer func() {
					// ctx já foi cancelado aqui; o flush ganha um prazo próprio
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
						log.Warn("tracer_shutdown_failed", zap.Error(err))
					}
				}()
			}

			srv, err := server.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer srv.Close()

			return srv.Run(ctx)
		},
	}
}
