package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Account status values.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"
)

// AccountRow is one registered account. PasswordHash never leaves the auth
// layer.
type AccountRow struct {
	ID            string
	Email         string
	PasswordHash  string
	DisplayName   string
	Status        string
	EmailVerified bool
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, a AccountRow) error {
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO accounts (
	id, email, password_hash, display_name, status, email_verified, created_at_unix_ms, last_login_at_unix_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, q,
		a.ID, a.Email, a.PasswordHash, a.DisplayName, a.Status, boolToInt(a.EmailVerified),
		a.CreatedAt.UnixMilli(), unixMilliOrZero(a.LastLoginAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEmailExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	slog.Info("account created", "account_id", a.ID, "email", a.Email)
	return nil
}

// AccountByEmail looks up one account by its stored email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (AccountRow, error) {
	const q = accountSelect + ` WHERE email = ?`
	return s.scanAccount(s.db.QueryRowContext(ctx, q, email))
}

// AccountByID looks up one account by primary key.
func (s *Store) AccountByID(ctx context.Context, id string) (AccountRow, error) {
	const q = accountSelect + ` WHERE id = ?`
	return s.scanAccount(s.db.QueryRowContext(ctx, q, id))
}

// SetEmailVerified flips the email_verified flag for an account.
func (s *Store) SetEmailVerified(ctx context.Context, email string) error {
	const q = `UPDATE accounts SET email_verified = 1 WHERE email = ?`
	res, err := s.db.ExecContext(ctx, q, email)
	if err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// TouchLastLogin records a successful login time.
func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE accounts SET last_login_at_unix_ms = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, at.UnixMilli(), id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

const accountSelect = `
SELECT id, email, password_hash, display_name, status, email_verified, created_at_unix_ms, last_login_at_unix_ms
FROM accounts`

func (s *Store) scanAccount(row *sql.Row) (AccountRow, error) {
	var (
		a         AccountRow
		verified  int
		createdMs int64
		loginMs   int64
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.Status, &verified, &createdMs, &loginMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AccountRow{}, ErrAccountNotFound
		}
		return AccountRow{}, fmt.Errorf("query account: %w", err)
	}
	a.EmailVerified = verified != 0
	a.CreatedAt = time.UnixMilli(createdMs).UTC()
	if loginMs > 0 {
		a.LastLoginAt = time.UnixMilli(loginMs).UTC()
	}
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
