package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/results"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store keeps the history of processed rows in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS row_results (
    id BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL,
    row_number INTEGER NOT NULL,
    username TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    exception TEXT NOT NULL DEFAULT '',
    filled TEXT[] NOT NULL DEFAULT '{}',
    field_errors TEXT[] NOT NULL DEFAULT '{}',
    skipped TEXT[] NOT NULL DEFAULT '{}',
    screenshot TEXT NOT NULL DEFAULT '',
    state_file TEXT NOT NULL DEFAULT '',
    target_url TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS row_results_run_idx ON row_results (run_id, row_number);
`

const insertSQL = `
INSERT INTO row_results (run_id, row_number, username, success, exception, filled, field_errors, skipped,
    screenshot, state_file, target_url, attempts, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
`

const recentSQL = `
SELECT run_id, row_number, username, success, exception, filled, field_errors, skipped,
    screenshot, state_file, target_url, attempts, started_at, finished_at
FROM row_results
ORDER BY finished_at DESC, id DESC
LIMIT $1;
`

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the history table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Record stores one finished row. It satisfies results.Sink.
func (s *Store) Record(ctx context.Context, r results.RowResult) error {
	_, err := s.pool.Exec(ctx, insertSQL,
		r.RunID, r.Row, r.Username, r.Success, r.Exception,
		nonNil(r.Filled), nonNil(r.FieldErrors), nonNil(r.Skipped),
		r.Screenshot, r.StateFile, r.TargetURL, r.Attempts,
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert row result: %w", err)
	}
	return nil
}

// Recent returns the latest limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]results.RowResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, recentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query row results: %w", err)
	}
	defer rows.Close()

	var out []results.RowResult
	for rows.Next() {
		var r results.RowResult
		if err := rows.Scan(
			&r.RunID, &r.Row, &r.Username, &r.Success, &r.Exception,
			&r.Filled, &r.FieldErrors, &r.Skipped,
			&r.Screenshot, &r.StateFile, &r.TargetURL, &r.Attempts,
			&r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating row results: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
