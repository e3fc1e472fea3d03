package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SessionRow is one refresh-token session. The refresh token itself is never
// stored, only its fingerprint.
type SessionRow struct {
	ID          string
	AccountID   string
	Fingerprint string
	DeviceInfo  string
	IP          string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time
	Active      bool
}

// InsertSession records a freshly issued refresh token.
func (s *Store) InsertSession(ctx context.Context, row SessionRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.LastUsedAt.IsZero() {
		row.LastUsedAt = row.CreatedAt
	}
	const q = `
INSERT INTO sessions (
	id, account_id, refresh_token_fingerprint, device_info, ip,
	created_at_unix_ms, expires_at_unix_ms, last_used_at_unix_ms, active
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err := s.db.ExecContext(ctx, q,
		row.ID, row.AccountID, row.Fingerprint, row.DeviceInfo, row.IP,
		row.CreatedAt.UnixMilli(), row.ExpiresAt.UnixMilli(), row.LastUsedAt.UnixMilli(), boolToInt(row.Active),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	slog.Debug("session created", "session_id", row.ID, "account_id", row.AccountID)
	return nil
}

// SessionByFingerprint looks up one session by refresh-token fingerprint.
func (s *Store) SessionByFingerprint(ctx context.Context, fingerprint string) (SessionRow, error) {
	const q = `
SELECT id, account_id, refresh_token_fingerprint, device_info, ip,
	created_at_unix_ms, expires_at_unix_ms, last_used_at_unix_ms, active
FROM sessions
WHERE refresh_token_fingerprint = ?
ORDER BY created_at_unix_ms DESC
LIMIT 1
`
	var (
		row       SessionRow
		createdMs int64
		expiresMs int64
		usedMs    int64
		active    int
	)
	err := s.db.QueryRowContext(ctx, q, fingerprint).Scan(
		&row.ID, &row.AccountID, &row.Fingerprint, &row.DeviceInfo, &row.IP,
		&createdMs, &expiresMs, &usedMs, &active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRow{}, ErrSessionNotFound
		}
		return SessionRow{}, fmt.Errorf("query session: %w", err)
	}
	row.CreatedAt = time.UnixMilli(createdMs).UTC()
	row.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	row.LastUsedAt = time.UnixMilli(usedMs).UTC()
	row.Active = active != 0
	return row, nil
}

// TouchSession updates last_used_at after a successful refresh.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE sessions SET last_used_at_unix_ms = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, at.UnixMilli(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeactivateSession ends the session matching a refresh-token fingerprint.
func (s *Store) DeactivateSession(ctx context.Context, fingerprint string) error {
	const q = `UPDATE sessions SET active = 0 WHERE refresh_token_fingerprint = ?`
	res, err := s.db.ExecContext(ctx, q, fingerprint)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeactivateAccountSessions ends every session for one account.
func (s *Store) DeactivateAccountSessions(ctx context.Context, accountID string) (int64, error) {
	const q = `UPDATE sessions SET active = 0 WHERE account_id = ? AND active = 1`
	res, err := s.db.ExecContext(ctx, q, accountID)
	if err != nil {
		return 0, fmt.Errorf("deactivate account sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
