package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of pgxpool.Pool used by the store. It is implemented
// by *pgxpool.Pool and by pgxmock.PgxPoolIface, which lets repository tests
// run without a live database.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool PgxPool

	Schedules ScheduleRepository
}

// New wires concrete repository implementations with a shared connection pool.
func New(pool PgxPool) *Store {
	return &Store{
		pool:      pool,
		Schedules: &scheduleRepo{pool: pool},
	}
}

// NewFromPool is a convenience constructor for the production pgxpool case.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return New(pool)
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

// Close shuts down the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
