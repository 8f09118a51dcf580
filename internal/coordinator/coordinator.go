// Package coordinator fans agent tasks out to a launcher with bounded
// parallelism and gathers exactly one result per task, in task order.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/metalagman/swarm/internal/artifact"
	"github.com/metalagman/swarm/internal/isolation"
	"github.com/metalagman/swarm/internal/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle position of one task.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Event reports a state change of the task at Index.
type Event struct {
	Index   int
	AgentID string
	State   State
	At      time.Time
	// Result is set for StateDone and StateFailed.
	Result *model.AgentResult
}

// Observer receives progress events. It is called from several goroutines.
type Observer func(Event)

// Coordinator is the parallel coordinator.
type Coordinator struct {
	launcher    isolation.Launcher
	resultsDir  string
	maxParallel int
	observer    Observer
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithMaxParallel bounds concurrent launches. n <= 0 runs every task at once.
func WithMaxParallel(n int) Option {
	return func(c *Coordinator) { c.maxParallel = n }
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// New returns a coordinator launching through l and collecting artifacts
// from resultsDir.
func New(l isolation.Launcher, resultsDir string, opts ...Option) *Coordinator {
	c := &Coordinator{launcher: l, resultsDir: resultsDir}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run launches every task, waits for all of them and returns their results
// index-aligned with tasks. Failures of individual tasks, including panics
// and missing artifacts, become synthetic failed results; siblings are never
// cancelled.
func (c *Coordinator) Run(ctx context.Context, tasks []model.AgentTask, timeout time.Duration) []model.AgentResult {
	results := make([]model.AgentResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if err := os.MkdirAll(c.resultsDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", c.resultsDir).Msg("create results dir")
	}

	limit := c.maxParallel
	if limit <= 0 {
		limit = len(tasks)
	}
	log.Info().Int("agents", len(tasks)).Int("max_parallel", limit).Dur("timeout", timeout).Msg("launching agents")

	skip := make([]string, len(tasks))
	seen := make(map[string]int, len(tasks))
	for i, task := range tasks {
		if model.Slug(task.AgentID) == model.FinalAgentID {
			skip[i] = fmt.Sprintf("agent id %q is reserved for the final branch", task.AgentID)
			continue
		}
		if first, dup := seen[model.Slug(task.AgentID)]; dup {
			skip[i] = fmt.Sprintf("duplicate agent id %q (also task %d)", task.AgentID, first)
			continue
		}
		seen[model.Slug(task.AgentID)] = i
		c.emit(Event{Index: i, AgentID: task.AgentID, State: StatePending})
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		if skip[i] != "" {
			continue
		}
		g.Go(func() error {
			c.launch(ctx, i, task, timeout)
			return nil
		})
	}
	_ = g.Wait()

	for i, task := range tasks {
		if skip[i] != "" {
			results[i] = model.FailedResult(task.AgentID, task.BranchName, skip[i])
		} else {
			results[i] = artifact.Collect(c.resultsDir, task)
		}
		state := StateDone
		if !results[i].Success {
			state = StateFailed
		}
		r := results[i]
		c.emit(Event{Index: i, AgentID: task.AgentID, State: state, Result: &r})
	}
	log.Info().Int("agents", len(tasks)).Int("successful", model.CountSuccessful(results)).Msg("agents finished")
	return results
}

func (c *Coordinator) launch(ctx context.Context, i int, task model.AgentTask, timeout time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("agent_id", task.AgentID).Interface("panic", rec).Msg("agent launch panicked")
		}
	}()

	path := artifact.Path(c.resultsDir, task.AgentID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("remove stale result artifact")
	}

	c.emit(Event{Index: i, AgentID: task.AgentID, State: StateRunning})
	if err := c.launcher.Launch(ctx, task, path, timeout); err != nil {
		log.Warn().Err(err).Str("agent_id", task.AgentID).Msg("agent launch reported an error")
	}
}

func (c *Coordinator) emit(ev Event) {
	if c.observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.observer(ev)
}
