package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one execution of an action.
type Run struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	Params     map[string]string `json:"params"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

// RunMessage is one progress line emitted by a run.
type RunMessage struct {
	RunID     string    `json:"runId"`
	Seq       int       `json:"seq"`
	Msg       string    `json:"msg"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordStart inserts a run in the running state.
func (s *Store) RecordStart(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	params := run.Params
	if params == nil {
		params = map[string]string{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, action, params, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Action, string(raw), RunStatusRunning, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// AppendMessage stores a progress line for a run.
func (s *Store) AppendMessage(ctx context.Context, runID string, seq int, msg string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_messages (run_id, seq, msg, created_at) VALUES (?, ?, ?, ?)`,
		runID, seq, msg, at,
	)
	if err != nil {
		return fmt.Errorf("insert message %s/%d: %w", runID, seq, err)
	}
	return nil
}

// Finish marks a run as succeeded or failed.
func (s *Store) Finish(ctx context.Context, runID, status, errMsg string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, at, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// ListRuns returns the most recent runs, optionally filtered by action.
func (s *Store) ListRuns(ctx context.Context, action string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, action, params, status, error, started_at, finished_at FROM runs`
	args := []any{}
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns a run by id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, action, params, status, error, started_at, finished_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// Messages returns a run's progress lines in emission order.
func (s *Store) Messages(ctx context.Context, runID string) ([]RunMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, msg, created_at FROM run_messages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []RunMessage
	for rows.Next() {
		var m RunMessage
		if err := rows.Scan(&m.RunID, &m.Seq, &m.Msg, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var params string
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Action, &params, &run.Status, &run.Error, &run.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("decode params for %s: %w", run.ID, err)
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
