package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/metalagman/swarm/internal/db"
	"github.com/rs/zerolog/log"
)

// RetentionPolicy controls run cleanup.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	Skipped    int
}

// PruneRuns deletes old run records and their directories. Running runs are
// always kept.
func PruneRuns(ctx context.Context, store *db.Store, layout Layout, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
		return PruneResult{}, nil
	}
	cutoff := time.Time{}
	if policy.KeepDays > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}

	res := PruneResult{Considered: len(runs)}
	for idx, row := range runs {
		keep := row.Status == db.StatusRunning
		if !keep && policy.KeepLast > 0 && idx < policy.KeepLast {
			keep = true
		}
		if !keep && policy.KeepDays > 0 {
			if row.CreatedAt.IsZero() || row.CreatedAt.After(cutoff) {
				keep = true
			}
		}
		if keep {
			res.Kept++
			continue
		}
		if dryRun {
			res.Deleted++
			continue
		}
		targetDir := row.RunDir
		if targetDir == "" {
			targetDir = layout.RunDir(row.RunID)
		}
		if err := os.RemoveAll(targetDir); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("run_id", row.RunID).Msg("remove run dir")
			res.Skipped++
			continue
		}
		_ = os.RemoveAll(filepath.Join(layout.WorkspacesDir(), row.RunID))
		if err := store.DeleteRun(ctx, row.RunID); err != nil {
			return res, err
		}
		res.Deleted++
	}
	return res, nil
}

// PurgeAll removes every run, its directories and leftover workspaces.
func PurgeAll(ctx context.Context, store *db.Store, layout Layout) error {
	for _, dir := range []string{layout.RunsDir(), layout.WorkspacesDir()} {
		if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	for _, table := range []string{"events", "agent_results", "runs"} {
		if _, err := store.DB().ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s table: %w", table, err)
		}
	}
	return nil
}
