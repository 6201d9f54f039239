package checklog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the PostgreSQL DDL for the check log. Apply it with
// [PostgresStore.Migrate] or during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS check_log (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL DEFAULT '',
    content_type   TEXT NOT NULL DEFAULT '',
    content_prefix TEXT NOT NULL DEFAULT '',
    error_count    INTEGER NOT NULL DEFAULT 0,
    located_count  INTEGER NOT NULL DEFAULT 0,
    duration_ms    BIGINT NOT NULL DEFAULT 0,
    error          TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_check_log_created ON check_log(created_at DESC);
`

// DB is the subset of *pgxpool.Pool and *pgx.Conn used by [PostgresStore].
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL. It does not own db;
// closing the pool is the caller's job.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store over db. Call [PostgresStore.Migrate]
// before the first write.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the check_log table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("checklog: migrate: %w", err)
	}
	return nil
}

// Record inserts e.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	const query = `
		INSERT INTO check_log (
			id, user_id, content_type, content_prefix,
			error_count, located_count, duration_ms, error, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.db.Exec(ctx, query,
		e.ID, e.User, e.ContentType, e.ContentPrefix,
		e.ErrorCount, e.LocatedCount, e.Duration.Milliseconds(), e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("checklog: insert %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns the newest limit entries.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, user_id, content_type, content_prefix,
		       error_count, located_count, duration_ms, error, created_at
		FROM check_log
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
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

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("checklog: ping postgres: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
