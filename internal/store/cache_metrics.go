// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/toriisync/torii/internal/models"
)

// RecordCacheMetric appends one cache performance log row. The log is
// append-only; rows are never mutated and are pruned by age.
func (s *Store) RecordCacheMetric(ctx context.Context, m *models.CacheMetric) error {
	start := time.Now()
	var metadata interface{}
	if m.Metadata != "" {
		metadata = m.Metadata
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_performance_metrics (metric_type, cache_key, value, metadata)
		VALUES ($1, $2, $3, $4)`,
		m.Type, m.Key, m.DurationMS, metadata)
	observe("insert", "cache_performance_metrics", start, err)
	if err != nil {
		return fmt.Errorf("failed to record cache metric: %w", err)
	}
	return nil
}

// HitRatio computes hits / (hits + misses) x 100 over the given window,
// zero when the window saw no reads.
func (s *Store) HitRatio(ctx context.Context, window time.Duration) (float64, error) {
	start := time.Now()
	var hits, misses int64
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE metric_type = 'hit'),
			count(*) FILTER (WHERE metric_type = 'miss')
		FROM cache_performance_metrics
		WHERE created_at > now() - $1::interval`,
		window.String(),
	).Scan(&hits, &misses)
	observe("select", "cache_performance_metrics", start, err)
	if err != nil {
		return 0, readErr("cache_performance_metrics", err)
	}

	total := hits + misses
	if total == 0 {
		return 0, nil
	}
	return float64(hits) / float64(total) * 100, nil
}

// PruneCacheMetrics deletes metric rows older than the retention window and
// returns how many were removed.
func (s *Store) PruneCacheMetrics(ctx context.Context, olderThan time.Duration) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM cache_performance_metrics
		WHERE created_at < now() - $1::interval`,
		olderThan.String())
	observe("delete", "cache_performance_metrics", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}
