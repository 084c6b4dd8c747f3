// Package appointments stores user calendar appointments and the
// per-appointment notification flags.
//
// Notification flags only ever move from false to true, and only
// through conditional updates that report whether this caller was the
// one to flip them. A send must be gated on that report.
package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/camppoia/leozera/internal/database"
	"github.com/camppoia/leozera/internal/dates"
)

// Status is an appointment lifecycle state.
type Status string

// Statuses.
const (
	StatusPending   Status = "pendente"
	StatusConfirmed Status = "confirmado"
	StatusDone      Status = "concluido"
	StatusCancelled Status = "cancelado"
)

// Flag names a one-shot notification flag.
type Flag string

// Notification flags.
const (
	FlagReminder12h      Flag = "lembrete_12h_enviado"
	FlagReminder1h       Flag = "lembrete_1h_enviado"
	FlagConfirmationSent Flag = "confirmacao_enviada"
)

func (f Flag) valid() bool {
	switch f {
	case FlagReminder12h, FlagReminder1h, FlagConfirmationSent:
		return true
	}
	return false
}

const storeDate = "2006-01-02"

// Appointment is one scheduled user event.
type Appointment struct {
	ID          string
	UserID      string
	Date        time.Time // midnight, store location
	StartTime   string    // HH:MM
	EndTime     string    // HH:MM, may be empty on legacy rows
	Title       string
	Description string
	Status      Status

	Reminder12hSent     bool
	Reminder1hSent      bool
	ConfirmationSent    bool
	ConfirmationPending bool
	UserConfirmed       bool
	ConfirmationCode    string
	ConfirmedAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayTitle is the title, falling back to the description.
func (a *Appointment) DisplayTitle() string {
	switch {
	case a.Title != "":
		return a.Title
	case a.Description != "":
		return a.Description
	default:
		return "Compromisso"
	}
}

// Confirmed reports whether the user has confirmed, either through the
// explicit flag or the status.
func (a *Appointment) Confirmed() bool {
	return a.UserConfirmed || a.Status == StatusConfirmed
}

// StartsAt returns the absolute start instant. It fails when the stored
// start time is malformed.
func (a *Appointment) StartsAt() (time.Time, error) {
	c, err := dates.ParseClock(a.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	return c.On(a.Date, a.Date.Location()), nil
}

// Store is the SQLite-backed appointment store.
type Store struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// NewStore creates a store over db. Dates are interpreted in loc.
func NewStore(db *sql.DB, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{db: db, loc: loc, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate appointments: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS appointments (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			data                 TEXT NOT NULL,
			hora_inicio          TEXT NOT NULL,
			hora_fim             TEXT NOT NULL DEFAULT '',
			titulo               TEXT NOT NULL DEFAULT '',
			descricao            TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL DEFAULT 'pendente',
			lembrete_12h_enviado INTEGER NOT NULL DEFAULT 0,
			lembrete_1h_enviado  INTEGER NOT NULL DEFAULT 0,
			confirmacao_enviada  INTEGER NOT NULL DEFAULT 0,
			confirmacao_pendente INTEGER NOT NULL DEFAULT 0,
			confirmado_usuario   INTEGER NOT NULL DEFAULT 0,
			codigo_confirmacao   TEXT NOT NULL DEFAULT '',
			confirmado_em        TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_appointments_slot ON appointments(user_id, data, hora_inicio);
		CREATE INDEX IF NOT EXISTS idx_appointments_code ON appointments(codigo_confirmacao);
	`)
	return err
}

const columns = `id, user_id, data, hora_inicio, hora_fim, titulo, descricao, status,
	lembrete_12h_enviado, lembrete_1h_enviado, confirmacao_enviada, confirmacao_pendente,
	confirmado_usuario, codigo_confirmacao, confirmado_em, created_at, updated_at`

// Create inserts a new pending appointment with every flag cleared.
// It does not check for slot conflicts; see FindBySlot.
func (s *Store) Create(ctx context.Context, a *Appointment) error {
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		a.ID = id.String()
	}
	now := s.now()
	a.Status = StatusPending
	a.Reminder12hSent, a.Reminder1hSent, a.ConfirmationSent = false, false, false
	a.ConfirmationPending, a.UserConfirmed = false, false
	a.ConfirmationCode, a.ConfirmedAt = "", nil
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, '', NULL, ?, ?)`,
		a.ID, a.UserID, a.Date.Format(storeDate), a.StartTime, a.EndTime, a.Title, a.Description,
		string(a.Status), database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// Get returns the appointment with id, or nil.
func (s *Store) Get(ctx context.Context, id string) (*Appointment, error) {
	return s.one(ctx, `id = ?`, id)
}

// FindBySlot returns the user's appointment on day starting at start.
// When end is non-empty the end time must match as well.
func (s *Store) FindBySlot(ctx context.Context, userID string, day time.Time, start, end string) (*Appointment, error) {
	if end != "" {
		return s.one(ctx, `user_id = ? AND data = ? AND hora_inicio = ? AND hora_fim = ?`,
			userID, day.Format(storeDate), start, end)
	}
	return s.one(ctx, `user_id = ? AND data = ? AND hora_inicio = ?`,
		userID, day.Format(storeDate), start)
}

// ListRange returns the user's appointments with dates in [from, to],
// ordered by date then start time.
func (s *Store) ListRange(ctx context.Context, userID string, from, to time.Time) ([]*Appointment, error) {
	return s.list(ctx, `user_id = ? AND data >= ? AND data <= ? ORDER BY data, hora_inicio`,
		userID, from.Format(storeDate), to.Format(storeDate))
}

// Delete removes the appointment. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete appointment %s: %w", id, err)
	}
	return nil
}

// SetFlagIfUnset sets flag on appointment id only if it is still false,
// and reports whether this call changed it.
func (s *Store) SetFlagIfUnset(ctx context.Context, id string, flag Flag) (bool, error) {
	if !flag.valid() {
		return false, fmt.Errorf("unknown flag %q", flag)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET `+string(flag)+` = 1, updated_at = ? WHERE id = ? AND `+string(flag)+` = 0`,
		database.FormatTime(s.now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("set %s on %s: %w", flag, id, err)
	}
	return affectedOne(res)
}

// RequestConfirmation marks the confirmation as sent, pending, and
// stamps code, only if no confirmation was sent before and the
// appointment is still pending. It reports whether this call did so.
func (s *Store) RequestConfirmation(ctx context.Context, id, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET confirmacao_enviada = 1, confirmacao_pendente = 1, codigo_confirmacao = ?, updated_at = ?
		WHERE id = ? AND confirmacao_enviada = 0 AND status = ?`,
		code, database.FormatTime(s.now()), id, string(StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("request confirmation %s: %w", id, err)
	}
	return affectedOne(res)
}

// FindPendingByCode returns the user's appointment awaiting
// confirmation under code, or nil.
func (s *Store) FindPendingByCode(ctx context.Context, userID, code string) (*Appointment, error) {
	if code == "" {
		return nil, nil
	}
	return s.one(ctx, `user_id = ? AND codigo_confirmacao = ? AND confirmacao_pendente = 1`, userID, code)
}

// Confirm records the user's confirmation. It applies only while the
// confirmation is still pending and reports whether it did.
func (s *Store) Confirm(ctx context.Context, id string) (bool, error) {
	now := database.FormatTime(s.now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?, confirmado_usuario = 1, confirmacao_pendente = 0, confirmado_em = ?, updated_at = ?
		WHERE id = ? AND confirmacao_pendente = 1`,
		string(StatusConfirmed), now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("confirm %s: %w", id, err)
	}
	return affectedOne(res)
}

// CancelPending cancels an appointment whose confirmation is pending.
func (s *Store) CancelPending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?, confirmacao_pendente = 0, updated_at = ?
		WHERE id = ? AND confirmacao_pendente = 1`,
		string(StatusCancelled), database.FormatTime(s.now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", id, err)
	}
	return affectedOne(res)
}

// ListTwelveHourCandidates returns non-cancelled appointments still
// missing the 12h reminder or the confirmation request, on or after
// from. The time window itself is checked by the caller.
func (s *Store) ListTwelveHourCandidates(ctx context.Context, from time.Time) ([]*Appointment, error) {
	return s.list(ctx, `status != ? AND (lembrete_12h_enviado = 0 OR confirmacao_enviada = 0) AND data >= ?
		ORDER BY data, hora_inicio`,
		string(StatusCancelled), from.In(s.loc).Format(storeDate))
}

// ListOneHourCandidates returns confirmed appointments still missing
// the 1h reminder, on or after from.
func (s *Store) ListOneHourCandidates(ctx context.Context, from time.Time) ([]*Appointment, error) {
	return s.list(ctx, `status = ? AND lembrete_1h_enviado = 0 AND data >= ? ORDER BY data, hora_inicio`,
		string(StatusConfirmed), from.In(s.loc).Format(storeDate))
}

func (s *Store) one(ctx context.Context, where string, args ...any) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM appointments WHERE `+where+` LIMIT 1`, args...)
	a, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find appointment: %w", err)
	}
	return a, nil
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]*Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM appointments WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (*Appointment, error) {
	var (
		a                Appointment
		day, status      string
		confirmedAt      sql.NullString
		created, updated string
	)
	err := row.Scan(&a.ID, &a.UserID, &day, &a.StartTime, &a.EndTime, &a.Title, &a.Description, &status,
		&a.Reminder12hSent, &a.Reminder1hSent, &a.ConfirmationSent, &a.ConfirmationPending,
		&a.UserConfirmed, &a.ConfirmationCode, &confirmedAt, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if a.Date, err = time.ParseInLocation(storeDate, day, s.loc); err != nil {
		return nil, fmt.Errorf("parse date %q: %w", day, err)
	}
	if a.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = database.ParseTime(updated); err != nil {
		return nil, err
	}
	if confirmedAt.Valid && confirmedAt.String != "" {
		t, err := database.ParseTime(confirmedAt.String)
		if err != nil {
			return nil, err
		}
		a.ConfirmedAt = &t
	}
	return &a, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
