package merge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/swarm/internal/gittest"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feature = "feat"

func branch(agentID string) string { return model.BranchName("repo", feature, agentID) }

func ranked(agentID string, score float64, success bool) model.RankedResult {
	r := model.AgentResult{AgentID: agentID, BranchName: branch(agentID), Success: success, ChangedPaths: []string{}, BuildStatus: model.BuildSuccess}
	if !success {
		r = model.FailedResult(agentID, branch(agentID), "boom")
	}
	return model.RankedResult{AgentResult: r, CompositeScore: score}
}

func newEngine(t *testing.T, origin string) *Engine {
	t.Helper()
	arena, err := workspace.NewArena(t.TempDir(), "run")
	require.NoError(t, err)
	return New(arena, Target{RepoURL: origin, Feature: feature})
}

func strategy(kind model.MergeKind) model.MergeStrategy {
	return model.MergeStrategy{Kind: kind, Weights: model.DefaultWeights()}
}

func TestBestOverall_NeverMergesFailedAgent(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"app.txt": "base\n"})
	gittest.PushBranch(t, origin, branch("bad"), map[string]string{"app.txt": "bad\n", "bad.txt": "bad\n"})
	gittest.PushBranch(t, origin, branch("good"), map[string]string{"app.txt": "good\n"})

	e := newEngine(t, origin)
	final, err := e.Merge(context.Background(), []model.RankedResult{ranked("bad", 0.99, false), ranked("good", 0.5, true)}, strategy(model.MergeBestOverall))
	require.NoError(t, err)
	assert.Equal(t, "repo/feat/final", final)

	assert.Equal(t, "good", gittest.Show(t, origin, final, "app.txt"))
	assert.NotContains(t, gittest.Git(t, origin, "ls-tree", "--name-only", final), "bad.txt")
	assert.Contains(t, gittest.Git(t, origin, "log", "-1", "--format=%s", final), "agent good")
}

func TestBestOverall_PicksTopRanked(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"app.txt": "base\n"})
	gittest.PushBranch(t, origin, branch("A"), map[string]string{"app.txt": "A\n"})
	gittest.PushBranch(t, origin, branch("B"), map[string]string{"app.txt": "B\n"})

	final, err := newEngine(t, origin).Merge(context.Background(),
		[]model.RankedResult{ranked("A", 0.86, true), ranked("B", 0.78, true)}, strategy(model.MergeBestOverall))
	require.NoError(t, err)
	assert.Equal(t, "A", gittest.Show(t, origin, final, "app.txt"))
}

func TestBestOverall_ConflictTakesIncoming(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"app.txt": "base\n"})
	gittest.PushBranch(t, origin, branch("A"), map[string]string{"app.txt": "agent\n"})

	// Main moves on after the agent branched.
	seed := filepath.Join(t.TempDir(), "w")
	gittest.Git(t, "", "clone", "--quiet", origin, seed)
	gittest.WriteFiles(t, seed, map[string]string{"app.txt": "upstream\n"})
	gittest.Git(t, seed, "commit", "--quiet", "-am", "upstream change")
	gittest.Git(t, seed, "push", "--quiet", "origin", "main")

	final, err := newEngine(t, origin).Merge(context.Background(), []model.RankedResult{ranked("A", 1, true)}, strategy(model.MergeBestOverall))
	require.NoError(t, err)
	assert.Equal(t, "agent", gittest.Show(t, origin, final, "app.txt"))
	gittest.Git(t, origin, "merge-base", "--is-ancestor", "main", final)
}

func TestBranchUnavailableIsSkipped(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"app.txt": "base\n"})
	gittest.PushBranch(t, origin, branch("second"), map[string]string{"app.txt": "second\n"})

	final, err := newEngine(t, origin).Merge(context.Background(),
		[]model.RankedResult{ranked("gone", 0.9, true), ranked("second", 0.5, true)}, strategy(model.MergeBestOverall))
	require.NoError(t, err)
	assert.Equal(t, "second", gittest.Show(t, origin, final, "app.txt"))
}

func TestAllBranchesUnavailable(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"app.txt": "base\n"})

	_, err := newEngine(t, origin).Merge(context.Background(), []model.RankedResult{ranked("gone", 0.9, true)}, strategy(model.MergeBestOverall))
	assert.True(t, errors.Is(err, model.ErrBranchUnavailable), "got %v", err)
	assert.False(t, gittest.BranchExists(t, origin, "repo/feat/final"))
}

func TestNoSuccessfulCandidates(t *testing.T) {
	gittest.RequireGit(t)
	e := newEngine(t, "/nonexistent/repo.git")
	_, err := e.Merge(context.Background(), []model.RankedResult{ranked("bad", 1, false)}, strategy(model.MergeBestOverall))
	assert.True(t, errors.Is(err, model.ErrNoSuccessfulAgents))
}

func TestBestPerFile(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"shared.txt": "base\n", "old.txt": "old\n"})
	gittest.PushBranch(t, origin, branch("A"), map[string]string{"shared.txt": "A\n", "a.txt": "A\n"})
	gittest.PushBranch(t, origin, branch("B"), map[string]string{"shared.txt": "B\n", "b.txt": "B\n", "old.txt": ""})

	final, err := newEngine(t, origin).Merge(context.Background(),
		[]model.RankedResult{ranked("A", 0.9, true), ranked("B", 0.8, true)}, strategy(model.MergeBestPerFile))
	require.NoError(t, err)

	assert.Equal(t, "A", gittest.Show(t, origin, final, "shared.txt"))
	assert.Equal(t, "A", gittest.Show(t, origin, final, "a.txt"))
	assert.Equal(t, "B", gittest.Show(t, origin, final, "b.txt"))
	assert.NotContains(t, gittest.Git(t, origin, "ls-tree", "--name-only", final), "old.txt")
	body := gittest.Git(t, origin, "log", "-1", "--format=%B", final)
	assert.Contains(t, body, "shared.txt <- A")
	assert.Contains(t, body, "b.txt <- B")
}

func TestComposite_SkipsOverlapping(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"app.txt": "base\n"})
	gittest.PushBranch(t, origin, branch("A"), map[string]string{"app.txt": "A\n"})
	gittest.PushBranch(t, origin, branch("B"), map[string]string{"app.txt": "B\n", "b.txt": "B\n"})
	gittest.PushBranch(t, origin, branch("C"), map[string]string{"c.txt": "C\n"})

	final, err := newEngine(t, origin).Merge(context.Background(),
		[]model.RankedResult{ranked("A", 0.9, true), ranked("B", 0.8, true), ranked("C", 0.7, true)}, strategy(model.MergeComposite))
	require.NoError(t, err)

	assert.Equal(t, "A", gittest.Show(t, origin, final, "app.txt"))
	assert.Equal(t, "C", gittest.Show(t, origin, final, "c.txt"))
	assert.NotContains(t, gittest.Git(t, origin, "ls-tree", "--name-only", final), "b.txt")
}

func TestPushFailureIsFatal(t *testing.T) {
	origin := gittest.NewOrigin(t, map[string]string{"app.txt": "base\n"})
	gittest.PushBranch(t, origin, branch("A"), map[string]string{"app.txt": "A\n"})

	hook := filepath.Join(origin, "hooks", "pre-receive")
	require.NoError(t, os.MkdirAll(filepath.Dir(hook), 0o755))
	require.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\nwhile read old new ref; do\n  case \"$ref\" in */final) echo rejected >&2; exit 1;; esac\ndone\nexit 0\n"), 0o755))

	_, err := newEngine(t, origin).Merge(context.Background(), []model.RankedResult{ranked("A", 1, true)}, strategy(model.MergeBestOverall))
	assert.True(t, errors.Is(err, model.ErrBranchPushFailed), "got %v", err)
	assert.False(t, gittest.BranchExists(t, origin, "repo/feat/final"))
}
