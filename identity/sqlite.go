package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS identity_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStore is a durable [Store] backed by a SQLite file.
//
// It plays the role of a persistent cookie jar for command-line sessions:
// the visitor id survives between runs while session entries are cleared
// by [SQLiteStore.EndSession]. Expiry is stored as unix milliseconds,
// zero marking a session entry.
type SQLiteStore struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite identity store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get loads a value by key, ignoring expired rows.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT value, expires_at FROM identity_entries WHERE key = ?`,
		key,
	)

	var value string
	var expiresAt int64
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get identity entry: %w", err)
	}

	if expiresAt != 0 && s.now().UnixMilli() >= expiresAt {
		if _, err := s.sqlDB.ExecContext(ctx,
			`DELETE FROM identity_entries WHERE key = ? AND expires_at = ?`, key, expiresAt,
		); err != nil {
			return "", fmt.Errorf("purge expired identity entry: %w", err)
		}
		return "", ErrNotFound
	}
	return value, nil
}

// Set upserts a value. A ttl of zero or less stores a session entry.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO identity_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("put identity entry: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM identity_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete identity entry: %w", err)
	}
	return nil
}

// EndSession removes every session-scoped row.
func (s *SQLiteStore) EndSession(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM identity_entries WHERE expires_at = 0`); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}
