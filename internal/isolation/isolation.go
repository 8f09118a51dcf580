// Package isolation launches agent tasks in isolated environments. Every
// launcher leaves its outcome as a result artifact; the coordinator reads
// the artifacts after all launches return.
package isolation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/swarm/internal/artifact"
	"github.com/metalagman/swarm/internal/invoke"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/workspace"
	"github.com/rs/zerolog/log"
)

// Launcher runs one task to completion and writes its artifact to resultPath.
// A returned error is informational; the artifact is authoritative.
type Launcher interface {
	Launch(ctx context.Context, task model.AgentTask, resultPath string, timeout time.Duration) error
}

// Invoker is the in-process invocation used by Local and the worker.
type Invoker interface {
	Invoke(ctx context.Context, task model.AgentTask, timeout time.Duration) model.AgentResult
}

// Local runs tasks in this process, each in its own arena workspace.
type Local struct {
	invoker Invoker
}

// NewLocal returns a launcher backed by inv.
func NewLocal(inv Invoker) *Local {
	return &Local{invoker: inv}
}

func (l *Local) Launch(ctx context.Context, task model.AgentTask, resultPath string, timeout time.Duration) error {
	res := l.invoker.Invoke(ctx, task, timeout)
	if err := artifact.Write(resultPath, res); err != nil {
		return fmt.Errorf("write result of %s: %w", task.AgentID, err)
	}
	return nil
}

// RunWorker is the body of `swarm worker`: it decodes the task from the
// environment, invokes it in a private arena and writes the artifact.
func RunWorker(ctx context.Context, getenv func(string) string, opts invoke.Options) error {
	task, timeout, resultPath, err := model.TaskFromEnv(getenv)
	if err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	log.Info().Str("agent_id", task.AgentID).Str("branch", task.BranchName).Msg("worker started")

	base, err := os.MkdirTemp("", "swarm-worker-")
	if err != nil {
		return fmt.Errorf("create worker dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(base) }()

	arena, err := workspace.NewArena(filepath.Join(base, "workspaces"), task.AgentID)
	if err != nil {
		return err
	}
	defer func() { _ = arena.Close() }()

	return NewLocal(invoke.New(arena, opts)).Launch(ctx, task, resultPath, timeout)
}
