// Package rms is the typed read/write boundary onto the retail-management
// database (§3, §4.4). The teacher's internal/db.NewPool builds a pool from
// a single DATABASE_URL; this generalizes that shape to the discrete
// RMS_DB_* fields config.Load assembles. NewPool pings the pool once before
// returning it; no further check runs before later uses.
package rms

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"retailsync/internal/config"
)

// NewPool builds and pings a connection pool for the RMS-backing store,
// sized and timed out per cfg.
func NewPool(ctx context.Context, cfg config.RMSConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse RMS connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.PoolSize)
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create RMS connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping RMS database: %w", err)
	}

	return pool, nil
}
