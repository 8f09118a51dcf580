package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metalagman/swarm/internal/model"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store provides persistence for runs, agent results and events.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID       string
	CreatedAt   time.Time
	RepoURL     string
	Feature     string
	Strategy    model.MergeStrategy
	Status      string
	FinalBranch string
	PRURL       string
	Error       string
	RunDir      string
	FinishedAt  *time.Time
	// Outcome is nil until the run finished.
	Outcome *model.OrchestrationOutcome
}

// Event represents a timeline event for a run.
type Event struct {
	Seq      int
	TS       time.Time
	Type     string
	Message  string
	DataJSON string
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, run RunRecord) error {
	weights, err := json.Marshal(run.Strategy.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return s.inTx(ctx, "create run", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, repo_url, feature, strategy, weights_json, status, run_dir)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, createdAt.UTC().Format(time.RFC3339), run.RepoURL, run.Feature,
			string(run.Strategy.Kind), string(weights), StatusRunning, run.RunDir); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return s.insertEvent(ctx, tx, run.RunID, Event{Type: "run_started", Message: "run started"})
	})
}

// AddEvent appends an event to the run timeline.
func (s *Store) AddEvent(ctx context.Context, runID string, ev Event) error {
	return s.inTx(ctx, "add event", func(tx *sql.Tx) error {
		return s.insertEvent(ctx, tx, runID, ev)
	})
}

// SaveAgentResult stores the result of the agent at index with its score.
func (s *Store) SaveAgentResult(ctx context.Context, runID string, index int, task model.AgentTask, res model.AgentResult, score float64) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal agent result: %w", err)
	}
	return s.inTx(ctx, "save agent result", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO agent_results(run_id, agent_index, agent_id, preset, provider, branch_name, success, composite_score, result_json)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, index, res.AgentID, task.Preset.Name, task.Preset.Provider, res.BranchName, res.Success, score, string(data)); err != nil {
			return fmt.Errorf("insert agent result: %w", err)
		}
		msg := "agent succeeded"
		if !res.Success {
			msg = "agent failed: " + res.Error
		}
		return s.insertEvent(ctx, tx, runID, Event{Type: "agent_finished", Message: msg, DataJSON: fmt.Sprintf(`{"agent_id":%q}`, res.AgentID)})
	})
}

// FinishRun stores the outcome and marks the run succeeded or failed.
func (s *Store) FinishRun(ctx context.Context, outcome model.OrchestrationOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	status := StatusFailed
	msg := "run failed: " + outcome.Error
	if outcome.Success {
		status = StatusSucceeded
		msg = "run succeeded"
	}
	finishedAt := time.Now().UTC().Format(time.RFC3339)
	return s.inTx(ctx, "finish run", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, final_branch=?, pr_url=?, error=?, outcome_json=?, finished_at=? WHERE run_id=?`,
			status, nullableString(outcome.FinalBranch), nullableString(outcome.PullRequestURL), nullableString(outcome.Error),
			string(data), finishedAt, outcome.RunID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, outcome.RunID)
		}
		return s.insertEvent(ctx, tx, outcome.RunID, Event{Type: "run_finished", Message: msg})
	})
}

const runColumns = `run_id, created_at, repo_url, feature, strategy, weights_json, status,
	COALESCE(final_branch, ''), COALESCE(pr_url, ''), COALESCE(error, ''), COALESCE(outcome_json, ''), run_dir, COALESCE(finished_at, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec                          RunRecord
		createdAt, strategy, weights string
		outcomeJSON, finishedAt      string
	)
	if err := row.Scan(&rec.RunID, &createdAt, &rec.RepoURL, &rec.Feature, &strategy, &weights, &rec.Status,
		&rec.FinalBranch, &rec.PRURL, &rec.Error, &outcomeJSON, &rec.RunDir, &finishedAt); err != nil {
		return RunRecord{}, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.Strategy.Kind = model.MergeKind(strategy)
	if err := json.Unmarshal([]byte(weights), &rec.Strategy.Weights); err != nil {
		return RunRecord{}, fmt.Errorf("decode weights of %s: %w", rec.RunID, err)
	}
	if finishedAt != "" {
		if t, err := time.Parse(time.RFC3339, finishedAt); err == nil {
			rec.FinishedAt = &t
		}
	}
	if outcomeJSON != "" {
		var out model.OrchestrationOutcome
		if err := json.Unmarshal([]byte(outcomeJSON), &out); err != nil {
			return RunRecord{}, fmt.Errorf("decode outcome of %s: %w", rec.RunID, err)
		}
		rec.Outcome = &out
	}
	return rec, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run: %w", err)
	}
	return rec, nil
}

// ListRuns returns runs newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, run_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// AgentResults returns the stored results of a run in task order.
func (s *Store) AgentResults(ctx context.Context, runID string) ([]model.AgentResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT result_json FROM agent_results WHERE run_id=? ORDER BY agent_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list agent results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []model.AgentResult{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan agent result: %w", err)
		}
		var r model.AgentResult
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode agent result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent results: %w", err)
	}
	return results, nil
}

// Events returns the timeline of a run in order.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, type, message, COALESCE(data_json, '') FROM events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ev.Seq, &ts, &ev.Type, &ev.Message, &ev.DataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.TS, _ = time.Parse(time.RFC3339, ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetRunStatus returns the status for a run id, or empty if missing.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id=?`, runID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

// DeleteRun removes a run with its results and events.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin %s: %w", what, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", what, err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID string, ev Event) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, ts, ev.Type, ev.Message, nullableString(ev.DataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
