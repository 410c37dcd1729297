package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/byheaven/aitoy/pkg/config"
	"github.com/byheaven/aitoy/pkg/logging"
)

var version = "dev"

type rootFlags struct {
	configPath string
	envFiles   []string
}

func main() {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "aitoy",
		Short:         "aitoy: rate-limited toy image generation gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "aitoy.yaml", "path to config file")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil, "dotenv files to load (default .env.local, .env)")

	root.AddCommand(
		newServeCmd(flags),
		newGenerateCmd(flags),
		newPromptCmd(flags),
		newEstimateCmd(flags),
		newStatsCmd(flags),
		newBudgetCmd(flags),
		newHistoryCmd(flags),
		newCacheCmd(flags),
		newMCPCmd(flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration in order: dotenv files, YAML file,
// environment overrides. It also installs the default logger.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(f.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return cfg, nil
}
