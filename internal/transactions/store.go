// Package transactions records user income and expenses and computes
// the aggregates behind financial reports.
//
// Amounts are always stored as positive magnitudes; the direction lives
// in [Type].
package transactions

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

// Type is the transaction direction.
type Type string

// Types.
const (
	Expense Type = "expense"
	Income  Type = "income"
)

// ParseType accepts "expense" or "income".
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case Expense:
		return Expense, true
	case Income:
		return Income, true
	}
	return "", false
}

// Label returns the Portuguese noun for t.
func (t Type) Label() string {
	if t == Expense {
		return "gasto"
	}
	return "entrada"
}

// Validation errors returned by Create.
var (
	ErrInvalidType  = errors.New("invalid transaction type")
	ErrInvalidValue = errors.New("transaction value must be positive")
)

// Transaction is one recorded movement of money.
type Transaction struct {
	ID          string
	UserID      string
	Type        Type
	Category    string
	Description string
	Value       float64
	CreatedAt   time.Time // in the store location
	Hour        int       // local hour of CreatedAt
}

// Store is the SQLite-backed transaction store.
type Store struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

// NewStore creates a store over db. Local hours and days use loc.
func NewStore(db *sql.DB, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{db: db, loc: loc, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate transactions: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			type        TEXT NOT NULL CHECK (type IN ('expense', 'income')),
			category    TEXT NOT NULL DEFAULT 'Outros',
			description TEXT NOT NULL DEFAULT '',
			value       REAL NOT NULL CHECK (value > 0),
			created_at  TEXT NOT NULL,
			hour        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at);
	`)
	return err
}

// Create validates and inserts tx, stamping CreatedAt and Hour from the
// store clock when CreatedAt is zero.
func (s *Store) Create(ctx context.Context, tx *Transaction) error {
	if _, ok := ParseType(string(tx.Type)); !ok {
		return ErrInvalidType
	}
	if !(tx.Value > 0) {
		return ErrInvalidValue
	}
	if tx.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		tx.ID = id.String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	tx.CreatedAt = tx.CreatedAt.In(s.loc)
	tx.Hour = tx.CreatedAt.Hour()
	tx.Category = strings.TrimSpace(tx.Category)
	if tx.Category == "" {
		tx.Category = "Outros"
	}
	tx.Description = strings.TrimSpace(tx.Description)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, category, description, value, created_at, hour)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, string(tx.Type), tx.Category, tx.Description, tx.Value,
		database.FormatTime(tx.CreatedAt), tx.Hour,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Filter selects transactions for List. Zero-valued fields do not
// filter. Category matches case-insensitively.
type Filter struct {
	UserID   string
	From, To time.Time
	Type     Type
	Category string
}

// List returns matching transactions, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Transaction, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, database.FormatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, database.FormatTime(f.To))
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, category, description, value, created_at, hour
		FROM transactions WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var (
			tx      Transaction
			typ     string
			created string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &typ, &tx.Category, &tx.Description, &tx.Value, &created, &tx.Hour); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Type = Type(typ)
		t, err := database.ParseTime(created)
		if err != nil {
			return nil, err
		}
		tx.CreatedAt = t.In(s.loc)
		if f.Category != "" && !strings.EqualFold(strings.TrimSpace(tx.Category), strings.TrimSpace(f.Category)) {
			continue
		}
		out = append(out, &tx)
	}
	return out, rows.Err()
}
