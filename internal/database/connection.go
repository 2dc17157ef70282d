package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolLimits bounds the connection pool. Zero values keep the pgx
// defaults.
type PoolLimits struct {
	MaxConns int32
	MinConns int32
}

// NewPool opens a pgx connection pool against dsn and verifies it with
// a ping before returning.
func NewPool(ctx context.Context, dsn string, limits PoolLimits) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if limits.MaxConns > 0 {
		poolConfig.MaxConns = limits.MaxConns
	}
	if limits.MinConns > 0 {
		poolConfig.MinConns = limits.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
