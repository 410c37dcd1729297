package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/byheaven/aitoy/pkg/gateway"
	"github.com/byheaven/aitoy/pkg/observability"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{requireProvider: true})
			if err != nil {
				return err
			}
			defer a.close()

			_, shutdown, err := observability.InitTracer(ctx, observability.TracerConfig{
				Enabled:     cfg.Tracing.Enabled,
				ServiceName: "aitoy",
				Version:     version,
				SampleRatio: cfg.Tracing.SampleRatio,
				Pretty:      cfg.Tracing.Pretty,
			})
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			srv := gateway.New(cfg, gateway.Deps{
				Limiter:      a.limiter,
				Stats:        a.stats,
				Service:      a.service,
				Orchestrator: a.orchestrator,
				Tracker:      a.tracker,
				Budget:       a.budget,
				History:      a.history,
				Metrics:      a.metrics,
				Logger:       a.logger,
			})

			a.logger.Info("starting aitoy gateway",
				"config", flags.configPath,
				"model", a.service.Model(),
				"window", cfg.Admission.Window,
				"max_requests", cfg.Admission.MaxRequests)

			a.limiter.StartJanitor(ctx)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
