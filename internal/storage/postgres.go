package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
)

// PgxPool is the subset of pgxpool.Pool the store needs. pgxmock
// satisfies it, which is how the Postgres path is tested without a
// server.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore persists collections in a kv table. Updates take a row
// lock (SELECT ... FOR UPDATE) so concurrent writers on the same
// collection serialize; serialization and deadlock failures surface as
// StorageConflict.
type PostgresStore struct {
	pool PgxPool
}

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// NewPostgresStore wraps an existing pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool PgxPool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) ReadCollection(ctx context.Context, col Collection) ([]byte, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1`, string(col)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", col, err)
	}
	return []byte(value), nil
}

func (s *PostgresStore) UpdateCollection(ctx context.Context, col Collection, fn MutateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyPostgres(fmt.Errorf("begin update %s: %w", col, err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	var current []byte
	var value string
	err = tx.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1 FOR UPDATE`, string(col)).Scan(&value)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		current = nil
	case err != nil:
		return classifyPostgres(fmt.Errorf("read collection %s: %w", col, err))
	default:
		current = []byte(value)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		string(col), string(next))
	if err != nil {
		return classifyPostgres(fmt.Errorf("write collection %s: %w", col, err))
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPostgres(fmt.Errorf("commit collection %s: %w", col, err))
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// classifyPostgres maps serialization_failure and deadlock_detected to a
// retryable conflict.
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return apperrors.StorageConflict("postgres contention", err)
		}
	}
	return err
}
