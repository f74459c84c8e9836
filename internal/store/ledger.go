package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Status values for workflow and stage runs.
const (
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"

	// StatusInterrupted marks a workflow run stopped by cancellation.
	StatusInterrupted = "interrupted"
)

// WorkflowRun is one execution of a workflow file.
type WorkflowRun struct {
	ID         string `json:"id"`
	Workflow   string `json:"workflow"`
	OutputRoot string `json:"output_root"`
	Seq        int64  `json:"seq"`
	Status     string `json:"status"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
}

// StageRun is one stage invocation within a workflow run.
type StageRun struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Seq        int64  `json:"seq"`
	Scenario   string `json:"scenario"`
	Stage      string `json:"stage"`
	ConfigPath string `json:"config_path"`
	OutputDir  string `json:"output_dir,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// BeginRun inserts a workflow run with status "running".
// Uses ON CONFLICT(id) DO NOTHING - re-recording the same run is a no-op.
func (s *Store) BeginRun(ctx context.Context, run WorkflowRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow, output_root, seq, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Workflow, run.OutputRoot, run.Seq, StatusRunning)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a workflow run.
func (s *Store) FinishRun(ctx context.Context, id, status string, passed, failed int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = ?, passed = ?, failed = ?
		WHERE id = ?
	`, status, passed, failed, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// WriteStageRun inserts a stage record. The referenced workflow run must
// exist (foreign key constraint).
func (s *Store) WriteStageRun(ctx context.Context, r StageRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_runs
		(id, run_id, seq, scenario, stage, config_path, output_dir, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.RunID,
		r.Seq,
		r.Scenario,
		r.Stage,
		r.ConfigPath,
		r.OutputDir,
		r.Status,
		r.Error,
		r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("write stage run: %w", err)
	}
	return nil
}

// ReadRuns returns the most recent workflow runs, oldest first.
// limit <= 0 returns all of them.
func (s *Store) ReadRuns(ctx context.Context, limit int) ([]WorkflowRun, error) {
	query := `
		SELECT id, workflow, output_root, seq, status, passed, failed
		FROM (
			SELECT * FROM workflow_runs
			ORDER BY seq DESC, id COLLATE BINARY DESC
			LIMIT ?
		)
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []WorkflowRun{}
	for rows.Next() {
		var r WorkflowRun
		if err := rows.Scan(&r.ID, &r.Workflow, &r.OutputRoot, &r.Seq, &r.Status, &r.Passed, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadStageRuns returns the stage records of one workflow run.
// Results are ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the run has no records.
func (s *Store) ReadStageRuns(ctx context.Context, runID string) ([]StageRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, scenario, stage, config_path, output_dir, status, error, duration_ms
		FROM stage_runs
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stage runs: %w", err)
	}
	defer rows.Close()

	out := []StageRun{}
	for rows.Next() {
		r, err := scanStageRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage runs: %w", err)
	}
	return out, nil
}

func scanStageRun(rows *sql.Rows) (StageRun, error) {
	var r StageRun
	err := rows.Scan(
		&r.ID,
		&r.RunID,
		&r.Seq,
		&r.Scenario,
		&r.Stage,
		&r.ConfigPath,
		&r.OutputDir,
		&r.Status,
		&r.Error,
		&r.DurationMS,
	)
	if err != nil {
		return StageRun{}, fmt.Errorf("scan stage run: %w", err)
	}
	return r, nil
}

// LastSeq returns the highest seq recorded in the ledger, or 0 when empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM workflow_runs
			UNION ALL
			SELECT seq FROM stage_runs
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}
