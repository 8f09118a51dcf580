package main

import (
	"fmt"
	"path/filepath"

	"github.com/metalagman/swarm/internal/config"
	"github.com/metalagman/swarm/internal/run"
	"github.com/spf13/pflag"
)

func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path, flags)
	if err != nil {
		return config.Config{}, err
	}
	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	return cfg, nil
}

func layoutFor(cfg config.Config) run.Layout {
	return run.Layout{DataDir: cfg.DataDir}
}
