package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/swarm/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize swarm in the current directory",
		Long:  "Create the .swarm data directory and install a default config listing sample agent presets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = defaultConfigPath
			}
			dataDir := filepath.Dir(configPath)
			log.Info().Str("dir", dataDir).Msg("creating swarm directory")
			for _, sub := range []string{"runs", "locks"} {
				if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
					return fmt.Errorf("create %s dir: %w", sub, err)
				}
			}

			if _, err := os.Stat(configPath); err == nil && !force {
				log.Info().Str("path", configPath).Msg("config already exists, skipping")
			} else {
				log.Info().Str("path", configPath).Msg("installing default config")
				cfg := config.Sample()
				cfg.DataDir = dataDir
				if err := config.WriteFile(configPath, cfg); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "swarm initialized successfully")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
