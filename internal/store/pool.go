// Package store is the durable-store layer: a Postgres-backed connection
// pool plus one struct per storage concern (job, queue, concurrency,
// worker ping, lock cache, secret), each satisfying an interface in
// interfaces.go.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bobmcallan/quartzqueue/internal/platform/config"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
)

// Pool wraps a pgxpool.Pool. Workers and the store-facing API server share
// one Pool per process; its MaxConns is the only bound on in-flight
// database operations for that process (spec §5).
type Pool struct {
	*pgxpool.Pool
	logger *log.Logger
}

// Open connects to Postgres and enables the extensions the schema needs.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *log.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.MaxConnLifetime = cfg.GetConnMaxLifetime()

	logger.Info().Msg("connecting to postgres")
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &Pool{Pool: pool, logger: logger}, nil
}

// Migrate applies the schema. It is idempotent: every statement uses
// CREATE ... IF NOT EXISTS so it is safe to run on every process start.
func (p *Pool) Migrate(ctx context.Context) error {
	p.logger.Info().Msg("applying schema")
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.Pool.Close()
}
