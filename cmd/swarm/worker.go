package main

import (
	"os"

	"github.com/metalagman/swarm/internal/invoke"
	"github.com/metalagman/swarm/internal/isolation"
	"github.com/metalagman/swarm/internal/model"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run one agent task described by SWARM_TASK_* variables (container entrypoint)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			return isolation.RunWorker(cmd.Context(), takeTokenEnv(), invoke.Options{
				Validation:     cfg.Validation,
				SkipValidation: cfg.SkipValidation,
				Tee:            cmd.ErrOrStderr(),
			})
		},
	}
}

// takeTokenEnv removes the repository token from the process environment so
// the agent does not inherit it, and returns a getenv that still serves it.
func takeTokenEnv() func(string) string {
	token := os.Getenv(model.EnvToken)
	_ = os.Unsetenv(model.EnvToken)
	return func(key string) string {
		if key == model.EnvToken {
			return token
		}
		return os.Getenv(key)
	}
}
