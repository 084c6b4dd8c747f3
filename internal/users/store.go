// Package users is the user directory: identity lookups by phone,
// email or id, and the subscription fields that gate paid features.
//
// Lookups return (nil, nil) when no user matches. Every plan downgrade,
// whether from the conversation plan check or from the expiry sweeps,
// writes the same target values (see [PlanNone] and
// [SubscriptionInactive]) so the two writers can never disagree.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/camppoia/leozera/internal/database"
)

// Plan is a subscription tier.
type Plan string

// Plans.
const (
	PlanTrial   Plan = "trial"
	PlanMonthly Plan = "mensal"
	PlanAnnual  Plan = "anual"
	PlanNone    Plan = "sem_plano"
)

// Subscription and payment status values written on downgrade.
const (
	SubscriptionActive   = "ativa"
	SubscriptionInactive = "inativa"
	SubscriptionOverdue  = "vencida"
	PaymentExpired       = "expirado"
)

// User is a directory record.
type User struct {
	ID                 string
	Name               string
	Phone              string // national number without country code
	Email              string
	Plan               Plan
	SubscriptionStatus string
	PaymentStatus      string
	PlanExpiresAt      *time.Time
	TrialNotified      bool
	DowngradedAt       *time.Time
	CreatedAt          time.Time
}

// Expired reports whether the plan has a known expiry before now.
// A missing expiry is never expired.
func (u *User) Expired(now time.Time) bool {
	return u.PlanExpiresAt != nil && u.PlanExpiresAt.Before(now)
}

// Blocked reports whether paid features must be withheld.
func (u *User) Blocked() bool {
	return u.Plan == PlanNone ||
		u.SubscriptionStatus == SubscriptionOverdue ||
		u.SubscriptionStatus == SubscriptionInactive
}

// Store is the SQLite-backed user directory.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a directory over db, creating tables as needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                    TEXT PRIMARY KEY,
			nome                  TEXT NOT NULL DEFAULT '',
			telefone              TEXT NOT NULL DEFAULT '',
			email                 TEXT NOT NULL DEFAULT '',
			plano                 TEXT NOT NULL DEFAULT 'trial',
			status_assinatura     TEXT NOT NULL DEFAULT 'ativa',
			status_pagamento      TEXT NOT NULL DEFAULT '',
			data_vencimento_plano TEXT,
			trial_notificado      INTEGER NOT NULL DEFAULT 0,
			downgraded_at         TEXT,
			created_at            TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_telefone ON users(telefone);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS user_categories (
			user_id TEXT NOT NULL,
			grupo   TEXT NOT NULL,
			nome    TEXT NOT NULL,
			PRIMARY KEY (user_id, grupo, nome)
		);
	`)
	return err
}

const userColumns = `id, nome, telefone, email, plano, status_assinatura, status_pagamento,
	data_vencimento_plano, trial_notificado, downgraded_at, created_at`

// Create inserts u, assigning an id when empty. Email is stored
// lowercased and the phone as digits only.
func (s *Store) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		u.ID = id.String()
	}
	if u.Plan == "" {
		u.Plan = PlanTrial
	}
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = SubscriptionActive
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Phone = digits(u.Phone)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Phone, u.Email, string(u.Plan), u.SubscriptionStatus, u.PaymentStatus,
		nullTime(u.PlanExpiresAt), u.TrialNotified, nullTime(u.DowngradedAt), database.FormatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByPhone looks a user up by national phone number.
func (s *Store) FindByPhone(ctx context.Context, phone string) (*User, error) {
	phone = digits(phone)
	if phone == "" {
		return nil, nil
	}
	return s.findOne(ctx, `telefone = ?`, phone)
}

// FindByEmail looks a user up by email, case-insensitively.
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	return s.findOne(ctx, `email = ?`, email)
}

// FindByID looks a user up by id.
func (s *Store) FindByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}
	return s.findOne(ctx, `id = ?`, id)
}

func (s *Store) findOne(ctx context.Context, where string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// PlanUpdate carries the subscription fields UpdatePlanFields may set.
// Nil fields are left unchanged.
type PlanUpdate struct {
	Plan               *Plan
	SubscriptionStatus *string
	PaymentStatus      *string
	PlanExpiresAt      *time.Time
}

// UpdatePlanFields sets the non-nil fields of upd on user id.
func (s *Store) UpdatePlanFields(ctx context.Context, id string, upd PlanUpdate) error {
	var sets []string
	var args []any
	if upd.Plan != nil {
		sets = append(sets, "plano = ?")
		args = append(args, string(*upd.Plan))
	}
	if upd.SubscriptionStatus != nil {
		sets = append(sets, "status_assinatura = ?")
		args = append(args, *upd.SubscriptionStatus)
	}
	if upd.PaymentStatus != nil {
		sets = append(sets, "status_pagamento = ?")
		args = append(args, *upd.PaymentStatus)
	}
	if upd.PlanExpiresAt != nil {
		sets = append(sets, "data_vencimento_plano = ?")
		args = append(args, database.FormatTime(*upd.PlanExpiresAt))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update plan fields for %s: %w", id, err)
	}
	return nil
}

// Downgrade moves user id to [PlanNone] with an inactive subscription.
// It reports whether the record changed; a user already on PlanNone is
// left untouched.
func (s *Store) Downgrade(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET plano = ?, status_assinatura = ?, downgraded_at = ?
		WHERE id = ? AND plano != ?`,
		string(PlanNone), SubscriptionInactive, database.FormatTime(at), id, string(PlanNone),
	)
	if err != nil {
		return false, fmt.Errorf("downgrade %s: %w", id, err)
	}
	return affectedOne(res)
}

// ListExpiredTrials returns trial users whose trial ended before now
// and who have not been told yet.
func (s *Store) ListExpiredTrials(ctx context.Context, now time.Time) ([]*User, error) {
	return s.list(ctx, `
		plano = ? AND trial_notificado = 0
		AND data_vencimento_plano IS NOT NULL AND data_vencimento_plano < ?`,
		string(PlanTrial), database.FormatTime(now))
}

// MarkTrialExpired flags the trial notification as sent and downgrades
// the user in a single conditional update. It reports false when
// another run got there first.
func (s *Store) MarkTrialExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET trial_notificado = 1, plano = ?, status_pagamento = ?, status_assinatura = ?, downgraded_at = ?
		WHERE id = ? AND trial_notificado = 0 AND plano = ?`,
		string(PlanNone), PaymentExpired, SubscriptionInactive, database.FormatTime(at), id, string(PlanTrial),
	)
	if err != nil {
		return false, fmt.Errorf("mark trial expired %s: %w", id, err)
	}
	return affectedOne(res)
}

// ListExpiredPlans returns users not yet on PlanNone whose expiry has
// passed.
func (s *Store) ListExpiredPlans(ctx context.Context, now time.Time) ([]*User, error) {
	return s.list(ctx, `
		plano != ? AND data_vencimento_plano IS NOT NULL AND data_vencimento_plano < ?`,
		string(PlanNone), database.FormatTime(now))
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var (
		u                   User
		plan, created       string
		expires, downgraded sql.NullString
		trialNotified       bool
	)
	err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &plan, &u.SubscriptionStatus, &u.PaymentStatus,
		&expires, &trialNotified, &downgraded, &created)
	if err != nil {
		return nil, err
	}
	u.Plan = Plan(plan)
	u.TrialNotified = trialNotified
	if u.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}
	if u.PlanExpiresAt, err = parseNullTime(expires); err != nil {
		return nil, err
	}
	if u.DowngradedAt, err = parseNullTime(downgraded); err != nil {
		return nil, err
	}
	return &u, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := database.ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return database.FormatTime(*t)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
