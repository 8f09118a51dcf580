// Package orchestrator runs one swarm orchestration end to end: it fans the
// feature out to every configured preset, ranks the candidates, merges the
// winners into the final branch and records the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/metalagman/swarm/internal/coordinator"
	"github.com/metalagman/swarm/internal/db"
	"github.com/metalagman/swarm/internal/isolation"
	"github.com/metalagman/swarm/internal/merge"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/reconcile"
	"github.com/metalagman/swarm/internal/report"
	"github.com/metalagman/swarm/internal/run"
	"github.com/metalagman/swarm/internal/scoring"
	"github.com/metalagman/swarm/internal/workspace"
	"github.com/rs/zerolog/log"
)

// Request describes one orchestration.
type Request struct {
	RepoURL    string
	BaseBranch string
	Feature    string
	Prompt     string
	Token      string
	Presets    []model.Preset
	Strategy   model.MergeStrategy
	Timeout    time.Duration
	// Observer, when set, receives this run's progress events in addition
	// to the orchestrator-wide observer.
	Observer coordinator.Observer
}

// RunEnv is the per-run context handed to a LauncherFactory.
type RunEnv struct {
	RunID  string
	Arena  *workspace.Arena
	LogDir string
}

// LauncherFactory builds the launcher used for one run.
type LauncherFactory func(env RunEnv) (isolation.Launcher, error)

// Orchestrator drives runs against one data dir.
type Orchestrator struct {
	store       *db.Store
	layout      run.Layout
	launchers   LauncherFactory
	aggregator  *report.Aggregator
	maxParallel int
	observer    coordinator.Observer
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithMaxParallel bounds concurrently running agents. n <= 0 runs all at once.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) { o.maxParallel = n }
}

// WithObserver forwards coordinator progress events.
func WithObserver(obs coordinator.Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New returns an orchestrator.
func New(store *db.Store, layout run.Layout, launchers LauncherFactory, aggregator *report.Aggregator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		layout:     layout,
		launchers:  launchers,
		aggregator: aggregator,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one orchestration. The returned error covers infrastructure
// failures only (lock, persistence, setup); agent and merge failures are
// reported through the outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (model.OrchestrationOutcome, error) {
	if err := req.validate(); err != nil {
		return model.OrchestrationOutcome{}, err
	}
	startedAt := time.Now()

	lock, err := run.AcquireLock(o.layout.DataDir)
	if err != nil {
		return model.OrchestrationOutcome{}, err
	}
	defer func() { _ = lock.Release() }()

	if err := reconcile.Run(ctx, o.store); err != nil {
		return model.OrchestrationOutcome{}, err
	}

	runID, err := run.NewID()
	if err != nil {
		return model.OrchestrationOutcome{}, fmt.Errorf("generate run id: %w", err)
	}
	runDir := o.layout.RunDir(runID)
	if err := os.MkdirAll(o.layout.ResultsDir(runID), 0o755); err != nil {
		return model.OrchestrationOutcome{RunID: runID}, fmt.Errorf("create run dir: %w", err)
	}
	if err := o.store.CreateRun(ctx, db.RunRecord{
		RunID:    runID,
		RepoURL:  req.RepoURL,
		Feature:  req.Feature,
		Strategy: req.Strategy,
		RunDir:   runDir,
	}); err != nil {
		return model.OrchestrationOutcome{RunID: runID}, err
	}
	log.Info().Str("run_id", runID).Str("repo", req.RepoURL).Str("feature", req.Feature).
		Str("strategy", req.Strategy.Kind.String()).Int("agents", len(req.Presets)).Msg("run started")

	outcome, err := o.execute(ctx, runID, req)
	if err != nil {
		outcome = model.OrchestrationOutcome{RunID: runID, Strategy: req.Strategy.Kind, AgentResults: []model.AgentResult{}, Error: err.Error()}
	}

	if ferr := o.store.FinishRun(context.WithoutCancel(ctx), outcome); ferr != nil {
		return outcome, ferr
	}
	event := log.Info().
		Str("run_id", runID).
		Bool("success", outcome.Success).
		Str("final_branch", outcome.FinalBranch).
		Dur("duration", time.Since(startedAt))
	if outcome.Error != "" {
		event = event.Str("error", outcome.Error)
	}
	event.Msg("run finished")
	return outcome, err
}

func (o *Orchestrator) execute(ctx context.Context, runID string, req Request) (model.OrchestrationOutcome, error) {
	arena, err := workspace.NewArena(o.layout.WorkspacesDir(), runID)
	if err != nil {
		return model.OrchestrationOutcome{}, err
	}
	defer func() {
		if err := arena.Close(); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("close workspace arena")
		}
	}()

	launcher, err := o.launchers(RunEnv{RunID: runID, Arena: arena, LogDir: o.layout.AgentLogsDir(runID)})
	if err != nil {
		return model.OrchestrationOutcome{}, fmt.Errorf("create launcher: %w", err)
	}

	tasks := BuildTasks(req)
	coord := coordinator.New(launcher, o.layout.ResultsDir(runID),
		coordinator.WithMaxParallel(o.maxParallel),
		coordinator.WithObserver(o.observe(ctx, runID, req.Observer)),
	)
	results := coord.Run(ctx, tasks, req.Timeout)

	w := req.Strategy.Weights
	for i, res := range results {
		if err := o.store.SaveAgentResult(context.WithoutCancel(ctx), runID, i, tasks[i], res, scoring.Score(res, w)); err != nil {
			return model.OrchestrationOutcome{}, err
		}
	}

	in := report.Input{
		RunID:      runID,
		RepoURL:    req.RepoURL,
		Feature:    req.Feature,
		BaseBranch: req.BaseBranch,
		Strategy:   req.Strategy,
		Results:    results,
	}
	ranked, err := scoring.RankSuccessful(results, w)
	switch {
	case errors.Is(err, model.ErrNoSuccessfulAgents):
		log.Warn().Str("run_id", runID).Msg("no agent succeeded; skipping merge")
	case err != nil:
		in.Err = err
	default:
		engine := merge.New(arena, merge.Target{
			RepoURL:    req.RepoURL,
			Token:      req.Token,
			Feature:    req.Feature,
			BaseBranch: req.BaseBranch,
		})
		in.FinalBranch, in.Err = engine.Merge(ctx, ranked, req.Strategy)
		if in.Err != nil {
			log.Error().Err(in.Err).Str("run_id", runID).Msg("merge failed")
		}
	}
	return o.aggregator.Build(ctx, in), nil
}

// observe records running agents in the run timeline and forwards every
// event to the configured observers.
func (o *Orchestrator) observe(ctx context.Context, runID string, extra coordinator.Observer) coordinator.Observer {
	return func(ev coordinator.Event) {
		if ev.State == coordinator.StateRunning {
			if err := o.store.AddEvent(context.WithoutCancel(ctx), runID, db.Event{
				Type:     "agent_started",
				Message:  "agent started",
				DataJSON: fmt.Sprintf(`{"agent_id":%q}`, ev.AgentID),
			}); err != nil {
				log.Warn().Err(err).Str("agent_id", ev.AgentID).Msg("record agent event")
			}
		}
		if o.observer != nil {
			o.observer(ev)
		}
		if extra != nil {
			extra(ev)
		}
	}
}

// BuildTasks derives one task per preset. Agent ids are the preset names
// (or the provider when unnamed); repeated names and the reserved final id
// get a numeric suffix.
func BuildTasks(req Request) []model.AgentTask {
	tasks := make([]model.AgentTask, 0, len(req.Presets))
	seen := map[string]bool{model.FinalAgentID: true}
	for _, preset := range req.Presets {
		base := strings.TrimSpace(preset.Name)
		if base == "" {
			base = preset.Provider
		}
		id := base
		for n := 2; seen[model.Slug(id)]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		seen[model.Slug(id)] = true
		task := model.NewAgentTask(req.RepoURL, req.Feature, id, preset, req.Prompt, req.Token)
		tasks = append(tasks, task.WithBaseBranch(req.BaseBranch))
	}
	return tasks
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.RepoURL) == "":
		return errors.New("repository url is required")
	case strings.TrimSpace(r.Feature) == "":
		return errors.New("feature is required")
	case len(r.Presets) == 0:
		return errors.New("at least one agent preset is required")
	}
	return nil
}
