package checklog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS check_log (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL DEFAULT '',
    content_type   TEXT NOT NULL DEFAULT '',
    content_prefix TEXT NOT NULL DEFAULT '',
    error_count    INTEGER NOT NULL DEFAULT 0,
    located_count  INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    error          TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_log_created ON check_log(created_at);
`

// SQLiteStore is a [Store] backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) the database at path and applies
// the schema. path may be ":memory:".
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("checklog: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("checklog: open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// busy_timeout goes first so the remaining statements wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if err := execWithRetry(db, p, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("checklog: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checklog: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// execWithRetry retries stmt with exponential backoff while the database is
// locked by another process.
func execWithRetry(db *sql.DB, stmt string, attempts int, delay time.Duration) error {
	var err error
	for range attempts {
		if _, err = db.Exec(stmt); err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

// Record inserts e.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO check_log (
			id, user_id, content_type, content_prefix,
			error_count, located_count, duration_ms, error, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.User, e.ContentType, e.ContentPrefix,
		e.ErrorCount, e.LocatedCount, e.Duration.Milliseconds(), e.Error, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("checklog: insert %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns the newest limit entries.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, user_id, content_type, content_prefix,
		       error_count, located_count, duration_ms, error, created_at
		FROM check_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("checklog: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(
			&e.ID, &e.User, &e.ContentType, &e.ContentPrefix,
			&e.ErrorCount, &e.LocatedCount, &ms, &e.Error, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("checklog: scan: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checklog: recent: %w", err)
	}
	return out, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("checklog: ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
