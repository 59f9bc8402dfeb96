package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/weather-ingest/internal/weather"
)

// Warehouse implements weather.Warehouse on top of a pgx pool.
type Warehouse struct {
	pool *pgxpool.Pool
}

// NewWarehouse wraps an existing pool.
func NewWarehouse(pool *pgxpool.Pool) *Warehouse {
	return &Warehouse{pool: pool}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Warehouse, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping: %w", err)
	}
	return &Warehouse{pool: pool}, nil
}

var _ weather.Warehouse = (*Warehouse)(nil)

// Pool exposes the underlying pool.
func (w *Warehouse) Pool() *pgxpool.Pool {
	return w.pool
}

// Close releases all pooled connections.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// Ping checks database connectivity
func (w *Warehouse) Ping(ctx context.Context) error {
	if err := w.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// Migrate applies pending schema migrations.
func (w *Warehouse) Migrate(ctx context.Context) error {
	runner, err := NewMigrationsRunner(w.pool)
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}
