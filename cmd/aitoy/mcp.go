package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/byheaven/aitoy/pkg/logging"
	"github.com/byheaven/aitoy/pkg/mcp"
)

func newMCPCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve ledger, budget, history and prompt tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the protocol; keep logs structured on stderr.
			logger := logging.Setup(cfg.LogLevel, "json", os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			deps := mcp.Deps{
				Tracker:      a.tracker,
				Budget:       a.budget,
				Service:      a.service,
				Orchestrator: a.orchestrator,
				Logger:       logger,
			}
			if a.history != nil {
				deps.History = a.history
			}
			if a.cache != nil {
				deps.Cache = a.cache
			}

			return mcp.New(deps, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
