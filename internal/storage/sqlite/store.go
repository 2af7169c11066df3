// Package sqlite persists projection checkpoints in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eventweave/eventweave/internal/storage"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    consumer_name TEXT PRIMARY KEY,
    last_sequence INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Store is a SQLite-backed checkpoint store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the checkpoint database at path, creating the schema when
// missing.
func Open(path string) (*Store, error) {
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
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure checkpoint schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database. Nil-safe so callers can defer it in
// all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save upserts a consumer's checkpoint.
func (s *Store) Save(ctx context.Context, cp storage.Checkpoint) error {
	if strings.TrimSpace(cp.ConsumerName) == "" {
		return fmt.Errorf("consumer name is required")
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO checkpoints (consumer_name, last_sequence, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(consumer_name) DO UPDATE SET
    last_sequence = excluded.last_sequence,
    updated_at = excluded.updated_at
`, cp.ConsumerName, int64(cp.LastSequence), toMillis(updated))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ConsumerName, err)
	}
	return nil
}

// Get returns a consumer's checkpoint.
func (s *Store) Get(ctx context.Context, consumerName string) (storage.Checkpoint, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT last_sequence, updated_at FROM checkpoints WHERE consumer_name = ?
`, consumerName)
	var lastSeq, updated int64
	if err := row.Scan(&lastSeq, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Checkpoint{}, fmt.Errorf("checkpoint %s: %w", consumerName, storage.ErrNotFound)
		}
		return storage.Checkpoint{}, fmt.Errorf("get checkpoint %s: %w", consumerName, err)
	}
	return storage.Checkpoint{
		ConsumerName: consumerName,
		LastSequence: uint64(lastSeq),
		UpdatedAt:    fromMillis(updated),
	}, nil
}

// List returns every checkpoint ordered by consumer name.
func (s *Store) List(ctx context.Context) ([]storage.Checkpoint, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT consumer_name, last_sequence, updated_at FROM checkpoints ORDER BY consumer_name
`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []storage.Checkpoint
	for rows.Next() {
		var name string
		var lastSeq, updated int64
		if err := rows.Scan(&name, &lastSeq, &updated); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, storage.Checkpoint{
			ConsumerName: name,
			LastSequence: uint64(lastSeq),
			UpdatedAt:    fromMillis(updated),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}
	return out, nil
}

// Delete removes a consumer's checkpoint.
func (s *Store) Delete(ctx context.Context, consumerName string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM checkpoints WHERE consumer_name = ?
`, consumerName); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", consumerName, err)
	}
	return nil
}
