package main

import (
	"context"
	"database/sql"

	"github.com/metalagman/swarm/internal/config"
	"github.com/metalagman/swarm/internal/db"
	"github.com/metalagman/swarm/internal/invoke"
	"github.com/metalagman/swarm/internal/isolation"
	"github.com/metalagman/swarm/internal/logging"
	"github.com/metalagman/swarm/internal/orchestrator"
	"github.com/metalagman/swarm/internal/report"
	"github.com/metalagman/swarm/internal/run"
	"go.uber.org/fx"
)

// newApp assembles the orchestrator for cfg. The returned app must be
// started before the orchestrator is used and stopped afterwards.
func newApp(cfg config.Config, orch **orchestrator.Orchestrator) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			layoutFor,
			openDatabase,
			db.NewStore,
			newLauncherFactory,
			newPullRequester,
			report.NewAggregator,
			newOrchestrator,
		),
		fx.Populate(orch),
	)
}

func openDatabase(lc fx.Lifecycle, layout run.Layout) (*sql.DB, error) {
	storeDB, err := db.Open(context.Background(), layout.DBPath())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return storeDB.Close() }})
	return storeDB, nil
}

func newLauncherFactory(lc fx.Lifecycle, cfg config.Config) (orchestrator.LauncherFactory, error) {
	if cfg.Isolation == config.IsolationDocker {
		rt, err := isolation.NewDockerRuntime()
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return rt.Close() }})
		return func(env orchestrator.RunEnv) (isolation.Launcher, error) {
			dc := cfg.Docker
			dc.LogDir = env.LogDir
			return isolation.NewDocker(rt, dc), nil
		}, nil
	}

	opts := invoke.Options{
		Validation:     cfg.Validation,
		Tee:            logging.AgentOutput(),
		SkipValidation: cfg.SkipValidation,
	}
	return func(env orchestrator.RunEnv) (isolation.Launcher, error) {
		o := opts
		o.LogDir = env.LogDir
		return isolation.NewLocal(invoke.New(env.Arena, o)), nil
	}, nil
}

func newPullRequester(cfg config.Config) report.PullRequester {
	if !cfg.PullRequest.Enabled {
		return nil
	}
	gh := report.GH{Binary: cfg.PullRequest.GHBinary}
	if token := cfg.Token(); token != "" {
		gh.Env = []string{"GH_TOKEN=" + token}
	}
	return gh
}

func newOrchestrator(cfg config.Config, store *db.Store, layout run.Layout, launchers orchestrator.LauncherFactory, aggregator *report.Aggregator) *orchestrator.Orchestrator {
	return orchestrator.New(store, layout, launchers, aggregator, orchestrator.WithMaxParallel(cfg.MaxParallel))
}
