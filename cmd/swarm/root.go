package main

import (
	"context"
	"path/filepath"

	"github.com/metalagman/swarm/internal/config"
	"github.com/metalagman/swarm/internal/logging"
	"github.com/spf13/cobra"
)

var defaultConfigPath = filepath.Join(config.DefaultDataDir, "config.yaml")

var (
	cfgFile   string
	debug     bool
	logFormat string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "swarm",
		Short:         "swarm fans a coding task out to several agents and merges the best result",
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(debug, logging.Format(logFormat))
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", string(logging.FormatConsole), "log format: console or json")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(uiCmd())
	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
