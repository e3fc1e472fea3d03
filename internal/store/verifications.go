package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Verification code purposes.
const (
	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
	PurposeLoginVerification = "login_verification"
)

// VerificationRow is one issued email code.
type VerificationRow struct {
	Email     string
	Code      string
	Purpose   string
	ExpiresAt time.Time
	CreatedAt time.Time
	Used      bool
}

// Valid reports whether the code can still be consumed at now.
func (v VerificationRow) Valid(now time.Time) bool {
	return !v.Used && now.Before(v.ExpiresAt)
}

// DeleteVerifications removes every code for one (email, purpose) pair.
// Called before issuing a fresh code.
func (s *Store) DeleteVerifications(ctx context.Context, email, purpose string) error {
	const q = `DELETE FROM email_verifications WHERE email = ? AND purpose = ?`
	if _, err := s.db.ExecContext(ctx, q, email, purpose); err != nil {
		return fmt.Errorf("delete verifications: %w", err)
	}
	return nil
}

// InsertVerification stores one issued code.
func (s *Store) InsertVerification(ctx context.Context, v VerificationRow) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO email_verifications (email, code, purpose, expires_at_unix_ms, created_at_unix_ms, used)
VALUES (?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, q, v.Email, v.Code, v.Purpose, v.ExpiresAt.UnixMilli(), v.CreatedAt.UnixMilli(), boolToInt(v.Used))
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	slog.Debug("verification code issued", "email", v.Email, "purpose", v.Purpose, "expires_at", v.ExpiresAt)
	return nil
}

// LatestVerification returns the most recent row matching the exact triple.
func (s *Store) LatestVerification(ctx context.Context, email, code, purpose string) (VerificationRow, error) {
	const q = `
SELECT email, code, purpose, expires_at_unix_ms, created_at_unix_ms, used
FROM email_verifications
WHERE email = ? AND code = ? AND purpose = ?
ORDER BY created_at_unix_ms DESC
LIMIT 1
`
	var (
		v         VerificationRow
		expiresMs int64
		createdMs int64
		used      int
	)
	err := s.db.QueryRowContext(ctx, q, email, code, purpose).Scan(&v.Email, &v.Code, &v.Purpose, &expiresMs, &createdMs, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VerificationRow{}, ErrVerificationNotFound
		}
		return VerificationRow{}, fmt.Errorf("query verification: %w", err)
	}
	v.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	v.CreatedAt = time.UnixMilli(createdMs).UTC()
	v.Used = used != 0
	return v, nil
}

// MarkVerificationUsed consumes a code. Idempotent.
func (s *Store) MarkVerificationUsed(ctx context.Context, email, code, purpose string) error {
	const q = `UPDATE email_verifications SET used = 1 WHERE email = ? AND code = ? AND purpose = ?`
	if _, err := s.db.ExecContext(ctx, q, email, code, purpose); err != nil {
		return fmt.Errorf("mark verification used: %w", err)
	}
	return nil
}
