// Package db opens the PostgreSQL pool behind the repository store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"task-reward-engine/internal/config"
	"task-reward-engine/internal/metrics"
)

// MinConns is kept at a quarter of MaxConns.
const minConnShare = 4

// Pool is the pgx pool used by repository.Store.
type Pool struct {
	*pgxpool.Pool
}

// poolConfig maps database settings onto a pgx pool config. Zero durations
// fall back to the built-in defaults.
func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.PoolSize > 0 {
		pc.MaxConns = int32(cfg.PoolSize)
	}
	pc.MinConns = max(pc.MaxConns/minConnShare, 1)

	pc.ConnConfig.ConnectTimeout = orDefault(cfg.ConnectTimeout, 10*time.Second)
	pc.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, time.Hour)
	pc.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, 30*time.Minute)
	pc.HealthCheckPeriod = 30 * time.Second
	return pc, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// NewPool connects to PostgreSQL and verifies the connection.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", pc.MaxConns).
		Msg("Connecting to PostgreSQL")

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")
	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("PostgreSQL connection pool closed")
	}
}

// HealthCheck publishes the pool's connection counts and pings the server,
// giving up after timeout.
func (p *Pool) HealthCheck(ctx context.Context, timeout time.Duration) error {
	reportStats(p.Stat())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func reportStats(st *pgxpool.Stat) {
	metrics.DBPoolConns.WithLabelValues("acquired").Set(float64(st.AcquiredConns()))
	metrics.DBPoolConns.WithLabelValues("idle").Set(float64(st.IdleConns()))
	metrics.DBPoolConns.WithLabelValues("total").Set(float64(st.TotalConns()))
	metrics.DBPoolConns.WithLabelValues("max").Set(float64(st.MaxConns()))
}
