package reconcile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/metalagman/swarm/internal/artifact"
	dbpkg "github.com/metalagman/swarm/internal/db"
	"github.com/metalagman/swarm/internal/model"
)

func openStore(t *testing.T, dir string) *dbpkg.Store {
	t.Helper()
	db, err := dbpkg.Open(context.Background(), filepath.Join(dir, "swarm.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return dbpkg.NewStore(db)
}

func TestRunMarksInterruptedRunsFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dataDir := t.TempDir()
	store := openStore(t, dataDir)

	runID := "run-1"
	runDir := filepath.Join(dataDir, "runs", runID)
	if err := store.CreateRun(ctx, dbpkg.RunRecord{RunID: runID, RepoURL: "https://example.com/o/repo.git", Feature: "feat", RunDir: runDir}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	stored := model.FailedResult("a1", "repo/feat/a1", "agent timed out")
	if err := store.SaveAgentResult(ctx, runID, 0, model.AgentTask{AgentID: "a1"}, stored, 0); err != nil {
		t.Fatalf("save result: %v", err)
	}
	orphan := model.AgentResult{AgentID: "a2", BranchName: "repo/feat/a2", Success: true, ChangedPaths: []string{"x.go"}, BuildStatus: model.BuildSuccess}
	if err := artifact.Write(artifact.Path(filepath.Join(runDir, "results"), "a2"), orphan); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	if err := Run(ctx, store); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rec, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rec.Status != dbpkg.StatusFailed {
		t.Fatalf("status = %q, want %q", rec.Status, dbpkg.StatusFailed)
	}
	if rec.Error != InterruptedMessage {
		t.Fatalf("error = %q, want %q", rec.Error, InterruptedMessage)
	}

	results, err := store.AgentResults(ctx, runID)
	if err != nil {
		t.Fatalf("agent results: %v", err)
	}
	if len(results) != 2 || results[1].AgentID != "a2" || !results[1].Success {
		t.Fatalf("results = %+v, want stored a1 and imported a2", results)
	}

	events, err := store.Events(ctx, runID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Type == "reconciled_run" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reconciled_run event missing: %+v", events)
	}

	// A second pass must not touch the finished run.
	if err := Run(ctx, store); err != nil {
		t.Fatalf("reconcile second pass: %v", err)
	}
	again, err := store.Events(ctx, runID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(again) != len(events) {
		t.Fatalf("event count = %d, want %d", len(again), len(events))
	}
}

func TestRunLeavesFinishedRunsAlone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t, t.TempDir())
	if err := store.CreateRun(ctx, dbpkg.RunRecord{RunID: "done", RepoURL: "u", Feature: "f"}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := store.FinishRun(ctx, model.OrchestrationOutcome{RunID: "done", Success: true, FinalBranch: "u/f/final"}); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	if err := Run(ctx, store); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	rec, err := store.GetRun(ctx, "done")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rec.Status != dbpkg.StatusSucceeded {
		t.Fatalf("status = %q, want %q", rec.Status, dbpkg.StatusSucceeded)
	}
}
