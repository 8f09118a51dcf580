// Package reconcile repairs run state left behind by an interrupted swarm
// process.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metalagman/swarm/internal/artifact"
	"github.com/metalagman/swarm/internal/db"
	"github.com/metalagman/swarm/internal/model"
	"github.com/rs/zerolog/log"
)

// InterruptedMessage is the error recorded on runs that never finished.
const InterruptedMessage = "run interrupted before completion"

// Run marks every run still in the running state as failed. It must be
// called while holding the run lock, so no such run can be live. Result
// artifacts found in the run dir but missing from the store are imported
// first.
func Run(ctx context.Context, store *db.Store) error {
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return err
	}
	for _, rec := range runs {
		if rec.Status != db.StatusRunning {
			continue
		}
		if err := reconcileRun(ctx, store, rec); err != nil {
			return fmt.Errorf("reconcile run %s: %w", rec.RunID, err)
		}
	}
	return nil
}

func reconcileRun(ctx context.Context, store *db.Store, rec db.RunRecord) error {
	stored, err := store.AgentResults(ctx, rec.RunID)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(stored))
	for _, r := range stored {
		known[r.AgentID] = struct{}{}
	}

	imported, err := importArtifacts(ctx, store, rec, known, len(stored))
	if err != nil {
		return err
	}
	results := append(stored, imported...)

	if err := store.AddEvent(ctx, rec.RunID, db.Event{
		Type:    "reconciled_run",
		Message: fmt.Sprintf("Run was left running; marked failed during recovery (%d results imported)", len(imported)),
	}); err != nil {
		return err
	}
	log.Warn().Str("run_id", rec.RunID).Int("imported", len(imported)).Msg("reconciled interrupted run")
	return store.FinishRun(ctx, model.OrchestrationOutcome{
		RunID:        rec.RunID,
		Strategy:     rec.Strategy.Kind,
		AgentResults: results,
		Error:        InterruptedMessage,
	})
}

func importArtifacts(ctx context.Context, store *db.Store, rec db.RunRecord, known map[string]struct{}, next int) ([]model.AgentResult, error) {
	if rec.RunDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(rec.RunDir, "results"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read results dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var imported []model.AgentResult
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		res, err := artifact.Load(filepath.Join(rec.RunDir, "results", entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("run_id", rec.RunID).Str("file", entry.Name()).Msg("skip unreadable artifact")
			continue
		}
		if _, ok := known[res.AgentID]; ok {
			continue
		}
		task := model.AgentTask{AgentID: res.AgentID, BranchName: res.BranchName}
		if err := store.SaveAgentResult(ctx, rec.RunID, next, task, res, 0); err != nil {
			return nil, err
		}
		known[res.AgentID] = struct{}{}
		imported = append(imported, res)
		next++
	}
	return imported, nil
}
