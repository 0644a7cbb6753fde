// Package postgres implements the event repository on pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/trailblaze-app/trailblaze-scraper/internal/events"
)

// db is the subset of pgxpool.Pool the repository uses. pgxmock
// satisfies it, so tests run without a server.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Repository is the Postgres-backed event store.
type Repository struct {
	pool     db
	clock    events.Clock
	log      *zap.Logger
	triggers events.TriggerQueue
}

var _ events.Repository = (*Repository)(nil)

// Connect opens a pgx pool against the given database URL and pings it.
func Connect(ctx context.Context, databaseURL string, maxConns int32, clock events.Clock, log *zap.Logger) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewWithDB(pool, clock, log), nil
}

// NewWithDB wraps an existing pool or mock.
func NewWithDB(pool db, clock events.Clock, log *zap.Logger) *Repository {
	return &Repository{pool: pool, clock: clock, log: log}
}

// Close releases the underlying pool.
func (r *Repository) Close() {
	r.pool.Close()
}
