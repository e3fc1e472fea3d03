package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Row lookup sentinels. Callers translate these into their own taxonomy.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrEmailExists          = errors.New("email already exists")
	ErrVerificationNotFound = errors.New("verification code not found")
	ErrSessionNotFound      = errors.New("session not found")
)

// Store persists accounts, verification codes, refresh sessions and messages
// in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	from_user_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	content_data TEXT NOT NULL,
	ts_unix_ms INTEGER NOT NULL,
	from_nick TEXT NOT NULL DEFAULT '',
	room_id TEXT NOT NULL DEFAULT '',
	created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts_unix_ms DESC);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_user_id);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);

CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	email_verified INTEGER NOT NULL DEFAULT 0,
	created_at_unix_ms INTEGER NOT NULL,
	last_login_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);

CREATE TABLE IF NOT EXISTS email_verifications (
	email TEXT NOT NULL,
	code TEXT NOT NULL,
	purpose TEXT NOT NULL,
	expires_at_unix_ms INTEGER NOT NULL,
	created_at_unix_ms INTEGER NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (email, code, purpose)
);
CREATE INDEX IF NOT EXISTS idx_verifications_email ON email_verifications(email);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	refresh_token_fingerprint TEXT NOT NULL,
	device_info TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	created_at_unix_ms INTEGER NOT NULL,
	expires_at_unix_ms INTEGER NOT NULL,
	last_used_at_unix_ms INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id);
CREATE INDEX IF NOT EXISTS idx_sessions_fingerprint ON sessions(refresh_token_fingerprint);
`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	slog.Debug("sqlite migrations applied")
	return nil
}
