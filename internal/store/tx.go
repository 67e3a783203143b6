package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execer is satisfied by both *Pool and pgx.Tx, letting a store method
// that issues a single statement run either standalone against the pool
// or inside a caller-managed transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// dbTx extends execer with the row lookup the concurrency release needs.
// *Pool and pgx.Tx both satisfy it.
type dbTx interface {
	execer
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
