// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package cache

import (
	"context"
	"fmt"
	"time"
)

// statsDomains is the fixed set of reported cache domains.
var statsDomains = []string{
	"trending", "popular", "recent", "search", "detail", "stats", "homepage", "genres",
}

// sampleKeys is how many keys per domain are sized to extrapolate an
// estimated total byte size.
const sampleKeys = 5

// DomainStats is the per-domain portion of a stats report.
type DomainStats struct {
	KeyCount       int   `json:"key_count"`
	SampledBytes   int64 `json:"sampled_bytes"`
	EstimatedBytes int64 `json:"estimated_bytes"`
}

// Stats is the admin cache report: key census per domain, estimated sizes
// and the 24-hour hit ratio from the metric log.
type Stats struct {
	Enabled        bool                   `json:"enabled"`
	TotalKeys      int                    `json:"total_keys"`
	EstimatedBytes int64                  `json:"estimated_bytes"`
	HitRatio24h    float64                `json:"hit_ratio_24h"`
	Domains        map[string]DomainStats `json:"domains"`
}

// CollectStats walks every domain pattern, counts keys and sizes the first
// few to estimate total memory. The hit ratio comes from the metric log,
// not from Redis, so it survives cache restarts.
func (s *Store) CollectStats(ctx context.Context) (*Stats, error) {
	out := &Stats{
		Enabled: s.Enabled(),
		Domains: make(map[string]DomainStats, len(statsDomains)),
	}

	if s.sink != nil {
		ratio, err := s.sink.HitRatio(ctx, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("failed to compute hit ratio: %w", err)
		}
		out.HitRatio24h = ratio
	}

	if s.client == nil {
		return out, nil
	}

	for _, domain := range statsDomains {
		keys, err := s.scanKeys(ctx, s.DomainPattern(domain), 0)
		if err != nil {
			return nil, fmt.Errorf("failed to scan domain %s: %w", domain, err)
		}

		ds := DomainStats{KeyCount: len(keys)}
		sampled := 0
		for _, key := range keys {
			if sampled >= sampleKeys {
				break
			}
			size, err := s.client.StrLen(ctx, key).Result()
			if err != nil {
				continue
			}
			ds.SampledBytes += size
			sampled++
		}
		if sampled > 0 {
			ds.EstimatedBytes = ds.SampledBytes / int64(sampled) * int64(ds.KeyCount)
		}

		out.Domains[domain] = ds
		out.TotalKeys += ds.KeyCount
		out.EstimatedBytes += ds.EstimatedBytes
	}

	return out, nil
}

// ListKeys returns up to limit keys matching the pattern. Zero limit means
// unbounded, which is fine for the admin surface this serves.
func (s *Store) ListKeys(ctx context.Context, pattern string, limit int) ([]string, error) {
	if s.client == nil {
		return nil, nil
	}
	keys, err := s.scanKeys(ctx, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

func (s *Store) scanKeys(ctx context.Context, pattern string, limit int) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, int64(invalidateBatchSize)).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
