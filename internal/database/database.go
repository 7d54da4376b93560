// Package database owns the portal's Postgres connection pool and schema.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the shared Postgres handle that every repository borrows from.
type DB struct {
	pool *pgxpool.Pool
}

// New dials databaseURL and fails fast if the server does not answer.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close releases all pooled connections. Call it once at shutdown.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping backs the /health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Pool hands out the raw pool to repository constructors.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}
