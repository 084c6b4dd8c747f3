package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/camppoia/leozera/internal/database"
)

// Store persists run history in the job_runs table.
type Store struct {
	db *sql.DB
}

// NewStore creates a run store over db, creating the table as needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate job_runs: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_runs (
			id           TEXT PRIMARY KEY,
			job          TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			started_at   TEXT NOT NULL,
			completed_at TEXT,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL,
			result       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job, started_at);
		CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs(status);
	`)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// CreateRun records the start of r, assigning an id when empty.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, job, trigger_kind, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Job, string(r.Trigger), database.FormatTime(r.StartedAt), string(r.Status),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.Job, err)
	}
	return nil
}

// FinishRun stores the outcome of r.
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	var completed any
	if r.CompletedAt != nil {
		completed = database.FormatTime(*r.CompletedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET completed_at = ?, duration_ms = ?, status = ?, result = ?
		WHERE id = ?`,
		completed, r.Duration.Milliseconds(), string(r.Status), r.Result, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns a run by id, or nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	runs, err := s.list(ctx, `WHERE id = ?`, id)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs, newest first. An empty job
// lists every job. A non-positive limit defaults to 100.
func (s *Store) ListRuns(ctx context.Context, job string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	if job == "" {
		return s.list(ctx, `ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	}
	return s.list(ctx, `WHERE job = ? ORDER BY started_at DESC, id DESC LIMIT ?`, job, limit)
}

// InterruptDangling marks runs left in the running state by a previous
// process as interrupted and returns how many it changed.
func (s *Store) InterruptDangling(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET status = ?, completed_at = ?, result = 'process stopped before completion'
		WHERE status = ?`,
		string(StatusInterrupted), database.FormatTime(at), string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("interrupt dangling runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) list(ctx context.Context, tail string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job, trigger_kind, started_at, completed_at, duration_ms, status, result
		FROM job_runs `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r         Run
			trigger   string
			status    string
			started   string
			completed sql.NullString
			ms        int64
		)
		if err := rows.Scan(&r.ID, &r.Job, &trigger, &started, &completed, &ms, &status, &r.Result); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Trigger = TriggerKind(trigger)
		r.Status = RunStatus(status)
		r.Duration = time.Duration(ms) * time.Millisecond
		if r.StartedAt, err = database.ParseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			t, err := database.ParseTime(completed.String)
			if err != nil {
				return nil, err
			}
			r.CompletedAt = &t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
