package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"metrics-relay/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the key-value and queue primitives in a local SQLite
// file, for single-node setups without Redis.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{dbPath: path}
}

func (s *SQLiteStore) Init() error {
	var err error

	s.db, err = sql.Open("sqlite3", s.dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	s.db.SetMaxOpenConns(1)

	if err = s.db.Ping(); err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	createTablesSQL := `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS queue (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		name  TEXT NOT NULL,
		value BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS queue_name_id ON queue(name, id);`

	if _, err = s.db.Exec(createTablesSQL); err != nil {
		return fmt.Errorf("error creating tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %q: %w", domain.ErrStoreUnavailable, key, err)
	}
	return value, true, nil
}

// PopFront deletes and returns the oldest queue entry in a single statement,
// so two concurrent poppers can never receive the same entry.
func (s *SQLiteStore) PopFront(ctx context.Context, queueKey string) ([]byte, bool, error) {
	const popSQL = `
	DELETE FROM queue
	WHERE id = (SELECT id FROM queue WHERE name = ? ORDER BY id LIMIT 1)
	RETURNING value`

	var value []byte
	err := s.db.QueryRowContext(ctx, popSQL, queueKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: pop %q: %w", domain.ErrStoreUnavailable, queueKey, err)
	}
	return value, true, nil
}

// KeysMatching uses SQLite GLOB, which shares the *, ? and [..] syntax of
// Redis patterns.
func (s *SQLiteStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv WHERE key GLOB ? ORDER BY key", pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: keys %q: %w", domain.ErrStoreUnavailable, pattern, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: scan key: %w", domain.ErrStoreUnavailable, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: keys %q: %w", domain.ErrStoreUnavailable, pattern, err)
	}
	return keys, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("%w: set %q: %w", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteStore) PushBack(ctx context.Context, queueKey string, value []byte) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO queue(name, value) VALUES(?, ?)", queueKey, value)
	if err != nil {
		return fmt.Errorf("%w: push %q: %w", domain.ErrStoreUnavailable, queueKey, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
