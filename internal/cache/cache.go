// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package cache is the Redis read-through content cache with explicit
// hit/miss/set/invalidate/error instrumentation.
//
// Every Redis failure is non-fatal: a failed read counts as a miss, a
// failed write is a logged no-op. A disabled cache (nil client) degrades
// the same way, so callers never branch on cache availability.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/metrics"
	"github.com/toriisync/torii/internal/models"
)

// invalidateBatchSize bounds one DEL call's payload during pattern
// invalidation.
const invalidateBatchSize = 100

// MetricSink receives the append-only cache performance log. The Postgres
// store implements it; tests use an in-memory recorder.
type MetricSink interface {
	RecordCacheMetric(ctx context.Context, m *models.CacheMetric) error
	HitRatio(ctx context.Context, window time.Duration) (float64, error)
}

// Store wraps a Redis client plus the metric sink.
type Store struct {
	client *redis.Client
	sink   MetricSink
	prefix string
	ttl    config.TTLConfig
}

// New creates the cache store. When Redis is disabled in config the client
// stays nil and every operation degrades to a miss or no-op.
func New(cfg *config.RedisConfig, cacheCfg *config.CacheConfig, sink MetricSink) *Store {
	s := &Store{
		sink:   sink,
		prefix: cacheCfg.KeyPrefix,
		ttl:    cacheCfg.TTL,
	}
	if !cfg.Enabled {
		logging.Info().Msg("Content cache disabled, reads go straight to Postgres")
		return s
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return s
}

// Enabled reports whether a Redis client is configured.
func (s *Store) Enabled() bool { return s.client != nil }

// Ping verifies Redis connectivity for health checks. A disabled cache
// pings clean: degraded mode is an expected deployment shape.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Key builds the deterministic cache key
// <prefix>:<domain>:<contentType>:<limit>[:<extra>] so identical logical
// requests collide and pattern invalidation can scope to one domain.
func (s *Store) Key(domain string, contentType models.MediaType, limit int, extra string) string {
	key := s.prefix + ":" + domain + ":" + string(contentType) + ":" + strconv.Itoa(limit)
	if extra != "" {
		key += ":" + extra
	}
	return key
}

// DomainPattern returns the glob matching every key in one domain.
func (s *Store) DomainPattern(domain string) string {
	return s.prefix + ":" + domain + ":*"
}

// TTLFor returns the domain's TTL tier. Unknown domains get the detail
// tier, the middle of the volatility range.
func (s *Store) TTLFor(domain string) time.Duration {
	seconds := map[string]int{
		"trending": s.ttl.Trending,
		"popular":  s.ttl.Popular,
		"recent":   s.ttl.Recent,
		"search":   s.ttl.Search,
		"detail":   s.ttl.Detail,
		"stats":    s.ttl.Stats,
		"homepage": s.ttl.Homepage,
		"genres":   s.ttl.Genres,
	}[domain]
	if seconds <= 0 {
		seconds = s.ttl.Detail
	}
	return time.Duration(seconds) * time.Second
}

// GetWithStats attempts a cache read. The second return is true only on a
// hit; a Redis failure records an error metric and reports a miss so the
// caller falls through to Postgres.
func (s *Store) GetWithStats(ctx context.Context, key string) ([]byte, bool) {
	if s.client == nil {
		s.record(ctx, "miss", key, 0)
		return nil, false
	}

	start := time.Now()
	val, err := s.client.Get(ctx, key).Bytes()
	elapsed := time.Since(start)

	switch {
	case err == redis.Nil:
		s.record(ctx, "miss", key, elapsed)
		return nil, false
	case err != nil:
		logging.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		s.record(ctx, "error", key, elapsed)
		return nil, false
	default:
		s.record(ctx, "hit", key, elapsed)
		return val, true
	}
}

// SetWithStats serializes the value and writes it with the given TTL.
// Failures are logged and swallowed; a cache-write failure must never fail
// the request that produced the value.
func (s *Store) SetWithStats(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.client == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		logging.Error().Err(err).Str("key", key).Msg("Cache serialization failed")
		s.record(ctx, "error", key, 0)
		return
	}

	start := time.Now()
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		s.record(ctx, "error", key, time.Since(start))
		return
	}
	s.record(ctx, "set", key, time.Since(start))
}

// InvalidatePattern deletes every key matching the glob pattern, in batches
// to bound a single DEL call. Returns the number of keys removed.
func (s *Store) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if s.client == nil {
		return 0, nil
	}

	start := time.Now()

	// Collect the full key list before deleting anything: DEL during a live
	// SCAN invalidates the cursor's view and keys get skipped.
	keys, err := s.scanKeys(ctx, pattern, 0)
	if err != nil {
		s.record(ctx, "error", pattern, time.Since(start))
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	deleted := 0
	for len(keys) > 0 {
		batch := keys
		if len(batch) > invalidateBatchSize {
			batch = batch[:invalidateBatchSize]
		}
		keys = keys[len(batch):]

		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			s.record(ctx, "error", pattern, time.Since(start))
			return deleted, fmt.Errorf("failed to delete cache batch: %w", err)
		}
		deleted += int(n)
	}

	metrics.CacheKeysDeleted.Add(float64(deleted))
	s.record(ctx, "invalidate", pattern, time.Since(start))
	logging.Info().Str("pattern", pattern).Int("deleted", deleted).Msg("Cache pattern invalidated")
	return deleted, nil
}

// InvalidateDomains invalidates a set of domains, logging per-domain
// failures without stopping. Used after a successful sync run.
func (s *Store) InvalidateDomains(ctx context.Context, domains ...string) int {
	total := 0
	for _, domain := range domains {
		n, err := s.InvalidatePattern(ctx, s.DomainPattern(domain))
		if err != nil {
			logging.Warn().Err(err).Str("domain", domain).Msg("Domain invalidation failed")
			continue
		}
		total += n
	}
	return total
}

// record updates the Prometheus counters and appends to the metric log.
// Sink failures are logged, never propagated.
func (s *Store) record(ctx context.Context, op, key string, elapsed time.Duration) {
	metrics.CacheOperations.WithLabelValues(op).Inc()
	metrics.CacheOperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if s.sink == nil {
		return
	}
	m := &models.CacheMetric{
		Type:       op,
		Key:        key,
		DurationMS: float64(elapsed.Microseconds()) / 1000,
		RecordedAt: time.Now().UTC(),
	}
	if err := s.sink.RecordCacheMetric(ctx, m); err != nil {
		logging.Warn().Err(err).Str("op", op).Msg("Cache metric log write failed")
	}
}
