// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package store is the Postgres persistence layer: title and details
// upserts, taxonomy ensure-or-create, junction linking, the content read
// queries and the cache performance metric log.
//
// All writes are sparse upserts keyed by a natural unique key (external ID
// or name), so concurrent writers converge instead of corrupting rows and a
// partially completed sync is safe to resume from any page.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/metrics"
)

// ErrDataUnavailable indicates a content read failed at the database layer.
// The API maps it to 503 with a Retry-After hint.
var ErrDataUnavailable = errors.New("data unavailable")

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pool with the configured limits and verifies connectivity.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Msg("Connected to Postgres")

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// observe records query duration and, on failure, the error counter.
func observe(operation, table string, start time.Time, err error) {
	metrics.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// readErr wraps a content read failure as ErrDataUnavailable.
func readErr(table string, err error) error {
	return fmt.Errorf("%w: %s query failed: %v", ErrDataUnavailable, table, err)
}
