package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metalagman/swarm/internal/artifact"
	"github.com/metalagman/swarm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLauncher behaves per agent id.
type scriptedLauncher struct {
	behave func(task model.AgentTask, path string) error

	running atomic.Int32
	peak    atomic.Int32
}

func (l *scriptedLauncher) Launch(_ context.Context, task model.AgentTask, path string, _ time.Duration) error {
	n := l.running.Add(1)
	defer l.running.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return l.behave(task, path)
}

func tasks(ids ...string) []model.AgentTask {
	out := make([]model.AgentTask, len(ids))
	for i, id := range ids {
		out[i] = model.NewAgentTask("/srv/repo.git", "feat", id, model.Preset{Provider: "exec"}, "p", "")
	}
	return out
}

func success(task model.AgentTask) model.AgentResult {
	return model.AgentResult{AgentID: task.AgentID, BranchName: task.BranchName, Success: true, ChangedPaths: []string{"f"}, BuildStatus: model.BuildSuccess}
}

func TestRun_OneResultPerTaskInOrder(t *testing.T) {
	l := &scriptedLauncher{behave: func(task model.AgentTask, path string) error {
		switch task.AgentID {
		case "slow-ok":
			time.Sleep(50 * time.Millisecond)
			return artifact.Write(path, success(task))
		case "fast-ok":
			return artifact.Write(path, success(task))
		case "crash":
			panic("agent blew up")
		case "error":
			return errors.New("launch failed")
		case "missing":
			return nil
		}
		return nil
	}}

	in := tasks("slow-ok", "crash", "fast-ok", "error", "missing")
	results := New(l, t.TempDir()).Run(context.Background(), in, time.Minute)

	require.Len(t, results, len(in))
	for i, r := range results {
		assert.Equal(t, in[i].AgentID, r.AgentID)
		assert.Equal(t, in[i].BranchName, r.BranchName)
	}
	assert.True(t, results[0].Success)
	assert.True(t, results[2].Success)
	for _, i := range []int{1, 3, 4} {
		assert.False(t, results[i].Success)
		assert.Equal(t, artifact.MissingMessage, results[i].Error)
		assert.Empty(t, results[i].ChangedPaths)
	}
}

func TestRun_MaxParallelBound(t *testing.T) {
	l := &scriptedLauncher{behave: func(task model.AgentTask, path string) error {
		time.Sleep(20 * time.Millisecond)
		return artifact.Write(path, success(task))
	}}

	results := New(l, t.TempDir(), WithMaxParallel(2)).Run(context.Background(), tasks("a", "b", "c", "d", "e"), time.Minute)
	assert.Len(t, results, 5)
	assert.LessOrEqual(t, l.peak.Load(), int32(2))
	assert.Equal(t, 5, model.CountSuccessful(results))
}

func TestRun_UnboundedByDefault(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	l := &scriptedLauncher{behave: func(task model.AgentTask, path string) error {
		// Every launch waits for the others, so this only finishes when all
		// three run concurrently.
		wg.Done()
		wg.Wait()
		return artifact.Write(path, success(task))
	}}

	done := make(chan []model.AgentResult)
	go func() { done <- New(l, t.TempDir()).Run(context.Background(), tasks("a", "b", "c"), time.Minute) }()

	select {
	case results := <-done:
		assert.Equal(t, 3, model.CountSuccessful(results))
	case <-time.After(5 * time.Second):
		t.Fatal("tasks were not launched concurrently")
	}
}

func TestRun_StaleArtifactIgnored(t *testing.T) {
	dir := t.TempDir()
	in := tasks("a")
	require.NoError(t, artifact.Write(artifact.Path(dir, "a"), success(in[0])))

	l := &scriptedLauncher{behave: func(model.AgentTask, string) error { return nil }}
	results := New(l, dir).Run(context.Background(), in, time.Minute)
	assert.False(t, results[0].Success)
}

func TestRun_DuplicateAgentIDs(t *testing.T) {
	l := &scriptedLauncher{behave: func(task model.AgentTask, path string) error {
		return artifact.Write(path, success(task))
	}}
	results := New(l, t.TempDir()).Run(context.Background(), tasks("a", "a"), time.Minute)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "duplicate agent id")
}

func TestRun_ReservedFinalID(t *testing.T) {
	var mu sync.Mutex
	var launched []string
	l := &scriptedLauncher{behave: func(task model.AgentTask, path string) error {
		mu.Lock()
		launched = append(launched, task.AgentID)
		mu.Unlock()
		return artifact.Write(path, success(task))
	}}
	results := New(l, t.TempDir()).Run(context.Background(), tasks("a", "Final"), time.Minute)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "reserved for the final branch")
	assert.Equal(t, []string{"a"}, launched)
}

func TestRun_EmptyAndObserver(t *testing.T) {
	assert.Empty(t, New(nil, t.TempDir()).Run(context.Background(), nil, time.Minute))

	var mu sync.Mutex
	states := map[string][]State{}
	l := &scriptedLauncher{behave: func(task model.AgentTask, path string) error {
		if task.AgentID == "ok" {
			return artifact.Write(path, success(task))
		}
		return nil
	}}
	obs := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		states[ev.AgentID] = append(states[ev.AgentID], ev.State)
		assert.False(t, ev.At.IsZero())
	}
	New(l, t.TempDir(), WithObserver(obs)).Run(context.Background(), tasks("ok", "bad"), time.Minute)

	assert.Equal(t, []State{StatePending, StateRunning, StateDone}, states["ok"])
	assert.Equal(t, []State{StatePending, StateRunning, StateFailed}, states["bad"])
}
