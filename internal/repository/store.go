package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/ches/pkg/db"
)

// PGStore is a Store backed by a pgx connection pool.
type PGStore struct {
	*Queries
	pool *pgxpool.Pool
}

// NewStore wraps pool in a Store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Queries: New(pool), pool: pool}
}

// InTx runs fn inside a database transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(New(tx))
	})
}

var _ Store = (*PGStore)(nil)
