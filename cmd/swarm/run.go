package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/metalagman/swarm/internal/config"
	"github.com/metalagman/swarm/internal/coordinator"
	"github.com/metalagman/swarm/internal/logging"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/orchestrator"
	"github.com/metalagman/swarm/internal/report"
	"github.com/metalagman/swarm/internal/tui"
	"github.com/spf13/cobra"
)

// errRunFailed marks a completed run whose outcome is a failure. The outcome
// has already been printed.
var errRunFailed = errors.New("run failed")

func runCmd() *cobra.Command {
	var useTUI bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fan a feature out to every preset, merge the best result and open a pull request",
		Long: "Run every configured agent preset on its own branch in parallel, rank the results, " +
			"merge the winner(s) into <repo>/<feature>/final and open a pull request.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			prompt, err := cfg.ResolvePrompt()
			if err != nil {
				return err
			}
			req := orchestrator.Request{
				RepoURL:    cfg.RepoURL,
				BaseBranch: cfg.BaseBranch,
				Feature:    cfg.Feature,
				Prompt:     prompt,
				Token:      cfg.Token(),
				Presets:    cfg.Presets,
				Strategy:   cfg.Strategy,
				Timeout:    cfg.Timeout,
			}

			var orch *orchestrator.Orchestrator
			app := newApp(cfg, &orch)
			if err := app.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = app.Stop(stopCtx)
			}()

			var outcome model.OrchestrationOutcome
			if useTUI {
				outcome, err = runWithTUI(cmd, cfg, orch, req)
			} else {
				outcome, err = orch.Run(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Table(outcome, cfg.Strategy.Weights))
			fmt.Fprintln(out, report.Summary(outcome))
			if !outcome.Success {
				return errRunFailed
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String("repo", "", "repository URL")
	flags.String("base", "", "base branch (default: remote default branch)")
	flags.String("feature", "", "feature name, used in branch names")
	flags.String("prompt", "", "task prompt")
	flags.String("prompt-file", "", "read the task prompt from a file")
	flags.String("strategy", "", "merge strategy: best_overall, best_per_file or composite")
	flags.String("timeout", "", "per-agent timeout, e.g. 30m")
	flags.Int("max-parallel", 0, "maximum concurrently running agents (0 = all)")
	flags.String("isolation", "", "isolation mode: local or docker")
	flags.String("image", "", "worker image for docker isolation")
	flags.Bool("skip-validation", false, "skip test, build and e2e validation")
	flags.Bool("no-pr", false, "do not open a pull request")
	flags.BoolVar(&useTUI, "tui", false, "show live agent progress")
	return cmd
}

func runWithTUI(cmd *cobra.Command, cfg config.Config, orch *orchestrator.Orchestrator, req orchestrator.Request) (model.OrchestrationOutcome, error) {
	logPath := filepath.Join(cfg.DataDir, "swarm.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return model.OrchestrationOutcome{}, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()
	logging.InitWriter(logFile, debug, logging.Format(logFormat))
	defer logging.Init(debug, logging.Format(logFormat))

	tasks := orchestrator.BuildTasks(req)
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.AgentID
	}
	title := fmt.Sprintf("swarm · %s · %s", model.RepoNameFromURL(req.RepoURL), req.Feature)
	m := tui.NewModel(title, ids, req.Strategy.Weights)

	return tui.Run(cmd.Context(), m, func(ctx context.Context, obs coordinator.Observer) (model.OrchestrationOutcome, error) {
		r := req
		r.Observer = obs
		return orch.Run(ctx, r)
	}, tea.WithOutput(cmd.ErrOrStderr()))
}
