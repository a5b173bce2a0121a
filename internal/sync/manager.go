// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"

	"github.com/toriisync/torii/internal/cache"
	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/models"
	"github.com/toriisync/torii/internal/source"
)

// ErrSyncInProgress is returned when a run for the same source and content
// type is already active.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrUnknownSource is returned for a source name with no configured
// strategy.
var ErrUnknownSource = errors.New("unknown sync source")

// Manager owns the configured strategies and serializes runs: at most one
// sync per (source, content type) pair at a time.
type Manager struct {
	orch       *Orchestrator
	cache      *cache.Store
	strategies map[string]Strategy
	invalidate bool

	mu      stdsync.Mutex
	running map[string]bool
}

// NewManager builds the per-source strategies from configuration. Every
// enabled adapter is wrapped in a circuit breaker. The oracle rides along
// only on the Kitsu merge, which carries no native schedule data.
func NewManager(persister Persister, cacheStore *cache.Store, cfg *config.Config, oracle ScheduleOracle) *Manager {
	strategies := make(map[string]Strategy)

	if cfg.Sources.AniList.Enabled {
		strategies["anilist"] = Strategy{
			Adapter:           source.WithBreaker(source.NewAniListClient(&cfg.Sources.AniList)),
			PageSize:          cfg.Sources.AniList.PageSize,
			WithRelationships: true,
			ReplaceCoreLinks:  true,
			Oracle:            NoopOracle{},
		}
	}
	if cfg.Sources.Kitsu.Enabled {
		strategies["kitsu"] = Strategy{
			Adapter:           source.WithBreaker(source.NewKitsuClient(&cfg.Sources.Kitsu)),
			PageSize:          cfg.Sources.Kitsu.PageSize,
			WithRelationships: true,
			Oracle:            oracle,
		}
	}
	if cfg.Sources.Jikan.Enabled {
		strategies["jikan"] = Strategy{
			Adapter:    source.WithBreaker(source.NewJikanClient(&cfg.Sources.Jikan)),
			PageSize:   cfg.Sources.Jikan.PageSize,
			EnrichOnly: true,
			Oracle:     NoopOracle{},
		}
	}

	return &Manager{
		orch:       NewOrchestrator(persister, &cfg.Sync),
		cache:      cacheStore,
		strategies: strategies,
		invalidate: cfg.Sync.InvalidateCacheOnFinish,
		running:    make(map[string]bool),
	}
}

// Sources returns the configured source names.
func (m *Manager) Sources() []string {
	names := make([]string, 0, len(m.strategies))
	for name := range m.strategies {
		names = append(names, name)
	}
	return names
}

// Run executes one sync for the requested source. A successful run
// invalidates the content cache so readers see the new data without waiting
// for TTL expiry.
func (m *Manager) Run(ctx context.Context, req *models.SyncRequest) (*models.SyncResult, error) {
	strat, ok := m.strategies[req.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}

	key := req.Source + ":" + req.ContentType
	if !m.acquire(key) {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, key)
	}
	defer m.release(key)

	result, err := m.orch.Run(ctx, strat, req)
	if err != nil {
		return nil, err
	}

	if result.Success && m.invalidate && m.cache.Enabled() {
		deleted := m.cache.InvalidateDomains(ctx,
			"trending", "popular", "recent", "search", "detail", "stats", "homepage", "genres")
		logging.Info().
			Str("run_id", result.RunID).
			Int("keys_deleted", deleted).
			Msg("Invalidated content cache after sync")
	}
	return result, nil
}

func (m *Manager) acquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[key] {
		return false
	}
	m.running[key] = true
	return true
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, key)
}
