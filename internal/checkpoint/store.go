package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/camppoia/leozera/internal/database"
)

// Store persists one gzip-compressed JSON state per thread.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a checkpoint store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate checkpoints: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id     TEXT PRIMARY KEY,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			turns         INTEGER NOT NULL DEFAULT 1,
			state_gz      BLOB NOT NULL,
			byte_size     INTEGER NOT NULL,
			message_count INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_thread_checkpoints_updated
			ON thread_checkpoints(updated_at);
	`)
	return err
}

// Save upserts the state of threadID.
func (s *Store) Save(ctx context.Context, threadID string, state *State) (*Checkpoint, error) {
	if threadID == "" {
		return nil, errors.New("checkpoint: empty thread id")
	}
	if state == nil {
		state = &State{}
	}

	compressed, err := compress(state)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thread_checkpoints (thread_id, created_at, updated_at, turns, state_gz, byte_size, message_count)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			updated_at    = excluded.updated_at,
			turns         = thread_checkpoints.turns + 1,
			state_gz      = excluded.state_gz,
			byte_size     = excluded.byte_size,
			message_count = excluded.message_count`,
		threadID, database.FormatTime(now), database.FormatTime(now),
		compressed, len(compressed), len(state.Messages),
	)
	if err != nil {
		return nil, fmt.Errorf("save checkpoint %s: %w", threadID, err)
	}

	cp, err := s.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Load returns the checkpoint for threadID, or nil if none exists.
func (s *Store) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, created_at, updated_at, turns, byte_size, message_count, state_gz
		FROM thread_checkpoints WHERE thread_id = ?`, threadID)

	var (
		cp               Checkpoint
		created, updated string
		stateGz          []byte
	)
	err := row.Scan(&cp.ThreadID, &created, &updated, &cp.Turns, &cp.ByteSize, &cp.MessageCount, &stateGz)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	if err := parseTimes(&cp, created, updated); err != nil {
		return nil, err
	}
	if cp.State, err = decompress(stateGz); err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

// List returns checkpoints ordered by last update (newest first),
// without state.
func (s *Store) List(ctx context.Context, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, created_at, updated_at, turns, byte_size, message_count
		FROM thread_checkpoints
		ORDER BY updated_at DESC, thread_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var (
			cp               Checkpoint
			created, updated string
		)
		if err := rows.Scan(&cp.ThreadID, &created, &updated, &cp.Turns, &cp.ByteSize, &cp.MessageCount); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if err := parseTimes(&cp, created, updated); err != nil {
			return nil, err
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// Delete removes the checkpoint of threadID. Deleting a missing thread
// is not an error.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM thread_checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Prune removes threads idle for longer than olderThan, keeping at
// least the minKeep most recently updated.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration, minKeep int) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM thread_checkpoints
		WHERE updated_at < ?
		  AND thread_id NOT IN (
			SELECT thread_id FROM thread_checkpoints
			ORDER BY updated_at DESC
			LIMIT ?
		  )`, database.FormatTime(cutoff), minKeep)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return int(deleted), nil
}

// Status summarises stored threads.
func (s *Store) Status(ctx context.Context) (*StartupStatus, error) {
	var (
		st      StartupStatus
		last    sql.NullString
		msgsSum sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(message_count), MAX(updated_at) FROM thread_checkpoints`,
	).Scan(&st.Threads, &msgsSum, &last)
	if err != nil {
		return nil, fmt.Errorf("checkpoint status: %w", err)
	}
	st.Messages = int(msgsSum.Int64)
	if last.Valid {
		t, err := database.ParseTime(last.String)
		if err != nil {
			return nil, err
		}
		st.LastUpdate = &t
	}
	return &st, nil
}

func parseTimes(cp *Checkpoint, created, updated string) error {
	var err error
	if cp.CreatedAt, err = database.ParseTime(created); err != nil {
		return err
	}
	cp.UpdatedAt, err = database.ParseTime(updated)
	return err
}

func compress(state *State) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (*State, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
