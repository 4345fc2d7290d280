package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NewPool creates a pgx connection pool from a postgres:// URL and
// verifies connectivity.
func NewPool(ctx context.Context, url string, log zerolog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	log.Info().Str("db", cfg.ConnConfig.Database).Msg("PostgreSQL connected")
	return pool, nil
}

// HealthCheck verifies PostgreSQL connectivity for deep health endpoints.
type HealthCheck struct {
	pool *pgxpool.Pool
}

// NewHealthCheck creates a PostgreSQL health checker.
func NewHealthCheck(pool *pgxpool.Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

// Name identifies the dependency.
func (h *HealthCheck) Name() string { return "postgres" }

// Check pings the pool.
func (h *HealthCheck) Check(ctx context.Context) error {
	return h.pool.Ping(ctx)
}
