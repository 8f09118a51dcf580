// Package invoke runs one agent task end to end inside an isolated workspace
// and always produces an AgentResult.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/swarm/internal/agent"
	"github.com/metalagman/swarm/internal/git"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/proc"
	"github.com/metalagman/swarm/internal/validate"
	"github.com/metalagman/swarm/internal/workspace"
	"github.com/rs/zerolog/log"
)

// Options configures an Invoker.
type Options struct {
	// Validation lists the candidate test/build/e2e commands.
	Validation validate.Config
	// LogDir receives <agent-id>/agent.log and e2e artifacts. Empty disables.
	LogDir string
	// Tee, when set, also receives agent and validation output.
	Tee io.Writer
	// SkipValidation leaves test and e2e summaries out and build not run.
	SkipValidation bool
}

// Invoker is the agent invocation interface.
type Invoker struct {
	arena *workspace.Arena
	opts  Options
}

// New returns an Invoker that takes its workspaces from arena.
func New(arena *workspace.Arena, opts Options) *Invoker {
	return &Invoker{arena: arena, opts: opts}
}

// Invoke clones the repository, runs the agent on its own branch, validates,
// measures, commits and pushes the change set. It never returns an error:
// every failure becomes a failed result. The workspace is released on all
// paths.
func (i *Invoker) Invoke(ctx context.Context, task model.AgentTask, timeout time.Duration) model.AgentResult {
	start := time.Now()
	finish := func(r model.AgentResult) model.AgentResult {
		r.Metrics.ExecutionTimeMS = time.Since(start).Milliseconds()
		r = r.Normalize()
		log.Info().
			Str("agent_id", task.AgentID).
			Str("branch", task.BranchName).
			Bool("success", r.Success).
			Int("files_changed", r.Metrics.FilesChanged).
			Int64("execution_time_ms", r.Metrics.ExecutionTimeMS).
			Msg("agent invocation finished")
		return r
	}
	fail := func(kind error, err error) model.AgentResult {
		msg := fmt.Errorf("%w: %v", kind, err).Error()
		log.Warn().Str("agent_id", task.AgentID).Msg(msg)
		return finish(model.FailedResult(task.AgentID, task.BranchName, msg))
	}

	ctx = git.WithToken(ctx, task.Token)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, closeLog := i.openLog(task.AgentID)
	defer closeLog()

	ws, err := i.arena.Acquire(task.AgentID)
	if err != nil {
		return fail(model.ErrWorkspaceSetupFailed, err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			log.Warn().Err(err).Str("agent_id", task.AgentID).Msg("release workspace")
		}
	}()

	baseCommit, err := prepare(ctx, ws.Dir, task)
	if err != nil {
		return fail(model.ErrWorkspaceSetupFailed, err)
	}

	if err := i.runAgent(ctx, ws.Dir, task, out); err != nil {
		return fail(model.ErrAgentProcessFailed, err)
	}

	res := model.AgentResult{
		AgentID:     task.AgentID,
		BranchName:  task.BranchName,
		Success:     true,
		BuildStatus: model.BuildNotRun,
	}
	res.ChangedPaths, res.Metrics, err = measure(ctx, ws.Dir, baseCommit)
	if err != nil {
		return fail(model.ErrAgentProcessFailed, fmt.Errorf("measure changes: %w", err))
	}

	// Validation output must not end up in the agent's commit.
	if _, err := git.CommitAll(ctx, ws.Dir, fmt.Sprintf("%s: %s", task.AgentID, task.Feature)); err != nil {
		log.Warn().Err(err).Str("agent_id", task.AgentID).Msg("commit failed, result degraded")
		res.PushFailed = true
	}

	if !i.opts.SkipValidation {
		i.validate(ctx, ws.Dir, task, out, &res)
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(model.ErrAgentProcessFailed, fmt.Errorf("timed out after %s", timeout))
		}
		return fail(model.ErrAgentProcessFailed, fmt.Errorf("cancelled: %w", err))
	}

	if !res.PushFailed {
		if err := git.Push(ctx, ws.Dir, task.BranchName); err != nil {
			log.Warn().Err(err).Str("agent_id", task.AgentID).Str("branch", task.BranchName).Msg("push failed, result degraded")
			res.PushFailed = true
		}
	}
	return finish(res)
}

func prepare(ctx context.Context, dir string, task model.AgentTask) (string, error) {
	if err := git.Clone(ctx, task.RepoURL, dir); err != nil {
		return "", err
	}
	base := ""
	if task.BaseBranch != "" {
		base = "origin/" + task.BaseBranch
	}
	if err := git.CreateBranch(ctx, dir, task.BranchName, base); err != nil {
		return "", err
	}
	return git.HeadCommit(ctx, dir)
}

func (i *Invoker) runAgent(ctx context.Context, dir string, task model.AgentTask, out io.Writer) error {
	provider, err := agent.Lookup(task.Preset.Provider)
	if err != nil {
		return err
	}
	inv, err := provider.BuildInvocation(task)
	if err != nil {
		return err
	}
	log.Info().Str("agent_id", task.AgentID).Str("provider", provider.Name()).Str("dir", dir).Msg("starting agent")

	code, err := proc.Run(ctx, proc.Spec{Cmd: inv.Cmd, Dir: dir, Env: inv.Env, Stdout: out, Stderr: out})
	if err != nil {
		switch {
		case errors.Is(err, proc.ErrTimeout):
			return fmt.Errorf("agent timed out")
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("cancelled: %w", err)
		}
		return err
	}
	if code != 0 {
		return fmt.Errorf("agent exited with code %d", code)
	}
	return nil
}

func (i *Invoker) validate(ctx context.Context, dir string, task model.AgentTask, out io.Writer, res *model.AgentResult) {
	opts := []validate.Option{validate.WithLog(out)}
	if i.opts.LogDir != "" {
		opts = append(opts, validate.WithArtifactDest(filepath.Join(i.opts.LogDir, model.Slug(task.AgentID), "artifacts")))
	}
	runner := validate.NewRunner(i.opts.Validation, opts...)
	res.TestSummary = runner.Test(ctx, dir)
	res.BuildStatus = runner.Build(ctx, dir)
	res.E2ESummary = runner.E2E(ctx, dir)
}

// measure computes the change set and its metrics against base.
func measure(ctx context.Context, dir, base string) ([]string, model.Metrics, error) {
	stats, err := git.DiffNumStat(ctx, dir, base)
	if err != nil {
		return nil, model.Metrics{}, err
	}
	paths, err := git.ChangedFiles(ctx, dir, base)
	if err != nil {
		return nil, model.Metrics{}, err
	}
	return paths, Metrics(stats), nil
}

// Metrics derives the size metrics of a change set. Quality is the line churn
// proxy min(100, (added+removed)/10); complexity is files changed plus one
// per hundred changed lines.
func Metrics(stats []git.NumStat) model.Metrics {
	var m model.Metrics
	files := make(map[string]struct{}, len(stats))
	for _, s := range stats {
		files[s.Path] = struct{}{}
		m.LinesAdded += s.Added
		m.LinesRemoved += s.Removed
	}
	m.FilesChanged = len(files)
	churn := float64(m.LinesAdded + m.LinesRemoved)
	m.QualityScore = min(100, churn/10)
	m.ComplexityScore = float64(m.FilesChanged) + churn/100
	return m
}

func (i *Invoker) openLog(agentID string) (io.Writer, func()) {
	var writers []io.Writer
	if i.opts.Tee != nil {
		writers = append(writers, i.opts.Tee)
	}
	closeFn := func() {}
	if i.opts.LogDir != "" {
		dir := filepath.Join(i.opts.LogDir, model.Slug(agentID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("create agent log dir")
		} else if f, err := os.Create(filepath.Join(dir, "agent.log")); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("create agent log")
		} else {
			writers = append(writers, f)
			closeFn = func() { _ = f.Close() }
		}
	}
	if len(writers) == 0 {
		return io.Discard, closeFn
	}
	return io.MultiWriter(writers...), closeFn
}
