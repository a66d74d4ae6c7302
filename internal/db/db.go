// Package db wraps the shared PostgreSQL connection pool and holds the
// file-based migration runner (migrate.go). The persistence-bridge queries
// themselves live in internal/store.
package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a connection pool from the ACEMARKET_DB environment variable.
func New(ctx context.Context) (*DB, error) {
	databaseURL := os.Getenv("ACEMARKET_DB")
	if databaseURL == "" {
		return nil, fmt.Errorf("ACEMARKET_DB not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("database connection pool created")
	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		log.Info().Msg("database connection pool closed")
	}
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	if db.pool == nil {
		return fmt.Errorf("database connection pool is nil")
	}
	return db.pool.Ping(ctx)
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// SetPool overrides the connection pool; used by internal/db/testhelpers to
// inject a pool connected to a test container.
func (db *DB) SetPool(pool *pgxpool.Pool) {
	db.pool = pool
}
