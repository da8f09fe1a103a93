// Package db provides the shared database access interfaces and pool setup.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Querier is the minimal query surface shared by *pgxpool.Pool, pgx.Tx and
// pgxmock. Core stores take a Querier so the same code runs inside the
// per-run transaction and against the pool for admin reads.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool extends Querier with transaction support.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect creates a pgx connection pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.New("db: no database_url configured (set database.url or REGSYNC_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping database")
	}

	return pool, nil
}
