// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package content serves the read side: trending, popular, recent, search,
// detail, genre list, stats and the homepage aggregate, each read through
// the Redis cache with Postgres as the source of truth.
package content

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/toriisync/torii/internal/cache"
	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/models"
)

// Reader is the store surface the content service needs.
type Reader interface {
	TrendingCandidates(ctx context.Context, mediaType models.MediaType, limit int) ([]models.ContentItem, error)
	Popular(ctx context.Context, mediaType models.MediaType, limit int) ([]models.ContentItem, error)
	Recent(ctx context.Context, mediaType models.MediaType, limit int) ([]models.ContentItem, error)
	Search(ctx context.Context, mediaType models.MediaType, query string, limit int) ([]models.ContentItem, error)
	Detail(ctx context.Context, mediaType models.MediaType, id int64) (*models.ContentItem, error)
	GenreList(ctx context.Context) ([]models.TaxonomyEntity, error)
	Stats(ctx context.Context) (*models.LibraryStats, error)
}

// Service is the cached read-side facade over the store.
type Service struct {
	store Reader
	cache *cache.Store
}

// New creates the content service.
func New(store Reader, cacheStore *cache.Store) *Service {
	return &Service{store: store, cache: cacheStore}
}

// Result carries a payload plus whether it came from cache, surfaced to
// clients as the X-Cache header.
type Result struct {
	Data   json.RawMessage `json:"data"`
	Cached bool            `json:"-"`
}

// readThrough is the shared cache path: key lookup, on miss run fetch,
// serialize, set with the domain's TTL. Cache failures on either side
// degrade to a direct fetch.
func (s *Service) readThrough(ctx context.Context, domain, key string, fetch func() (interface{}, error)) (*Result, error) {
	if raw, hit := s.cache.GetWithStats(ctx, key); hit {
		return &Result{Data: raw, Cached: true}, nil
	}

	value, err := fetch()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s payload: %w", domain, err)
	}
	s.cache.SetWithStats(ctx, key, json.RawMessage(payload), s.cache.TTLFor(domain))

	return &Result{Data: payload, Cached: false}, nil
}

// Trending returns the weighted-trending view: a popularity-ordered
// candidate window re-sorted in process so recency and "currently
// releasing" dominate raw popularity.
func (s *Service) Trending(ctx context.Context, mediaType models.MediaType, limit int) (*Result, error) {
	key := s.cache.Key("trending", mediaType, limit, "")
	return s.readThrough(ctx, "trending", key, func() (interface{}, error) {
		items, err := s.store.TrendingCandidates(ctx, mediaType, limit)
		if err != nil {
			return nil, err
		}
		sortByTrendingScore(items, time.Now().UTC())
		if len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	})
}

// Popular returns titles by raw popularity.
func (s *Service) Popular(ctx context.Context, mediaType models.MediaType, limit int) (*Result, error) {
	key := s.cache.Key("popular", mediaType, limit, "")
	return s.readThrough(ctx, "popular", key, func() (interface{}, error) {
		return s.store.Popular(ctx, mediaType, limit)
	})
}

// Recent returns the most recently added titles.
func (s *Service) Recent(ctx context.Context, mediaType models.MediaType, limit int) (*Result, error) {
	key := s.cache.Key("recent", mediaType, limit, "")
	return s.readThrough(ctx, "recent", key, func() (interface{}, error) {
		return s.store.Recent(ctx, mediaType, limit)
	})
}

// Search matches titles against a free-text query.
func (s *Service) Search(ctx context.Context, mediaType models.MediaType, query string, limit int) (*Result, error) {
	key := s.cache.Key("search", mediaType, limit, query)
	return s.readThrough(ctx, "search", key, func() (interface{}, error) {
		return s.store.Search(ctx, mediaType, query, limit)
	})
}

// Detail returns one title by id; (nil, nil) result data means not found.
func (s *Service) Detail(ctx context.Context, mediaType models.MediaType, id int64) (*Result, error) {
	key := s.cache.Key("detail", mediaType, 1, strconv.FormatInt(id, 10))
	return s.readThrough(ctx, "detail", key, func() (interface{}, error) {
		return s.store.Detail(ctx, mediaType, id)
	})
}

// Genres returns the full genre taxonomy.
func (s *Service) Genres(ctx context.Context) (*Result, error) {
	key := s.cache.Key("genres", "all", 0, "")
	return s.readThrough(ctx, "genres", key, func() (interface{}, error) {
		return s.store.GenreList(ctx)
	})
}

// Stats returns the library row counts.
func (s *Service) Stats(ctx context.Context) (*Result, error) {
	key := s.cache.Key("stats", "all", 0, "")
	return s.readThrough(ctx, "stats", key, func() (interface{}, error) {
		return s.store.Stats(ctx)
	})
}

// homepageSection names one slot of the homepage aggregate.
type homepageSection struct {
	name      string
	mediaType models.MediaType
	fetch     func(context.Context, models.MediaType, int) (*Result, error)
}

// homepageLimit is the per-section size of the homepage aggregate.
const homepageLimit = 10

// Homepage fans out to the six hot lookups (trending/popular/recent x
// anime/manga) in parallel plus the stats block, then caches the combined
// payload under its own key. Each underlying lookup is itself cached, so a
// cold homepage mostly assembles warm sections.
func (s *Service) Homepage(ctx context.Context) (*Result, error) {
	key := s.cache.Key("homepage", "all", homepageLimit, "")
	return s.readThrough(ctx, "homepage", key, func() (interface{}, error) {
		sections := []homepageSection{
			{"trending_anime", models.MediaTypeAnime, s.Trending},
			{"trending_manga", models.MediaTypeManga, s.Trending},
			{"popular_anime", models.MediaTypeAnime, s.Popular},
			{"popular_manga", models.MediaTypeManga, s.Popular},
			{"recent_anime", models.MediaTypeAnime, s.Recent},
			{"recent_manga", models.MediaTypeManga, s.Recent},
		}

		type sectionResult struct {
			name string
			data json.RawMessage
			err  error
		}
		results := make(chan sectionResult, len(sections)+1)

		for _, section := range sections {
			go func(sec homepageSection) {
				res, err := sec.fetch(ctx, sec.mediaType, homepageLimit)
				if err != nil {
					results <- sectionResult{name: sec.name, err: err}
					return
				}
				results <- sectionResult{name: sec.name, data: res.Data}
			}(section)
		}
		go func() {
			res, err := s.Stats(ctx)
			if err != nil {
				results <- sectionResult{name: "stats", err: err}
				return
			}
			results <- sectionResult{name: "stats", data: res.Data}
		}()

		combined := make(map[string]json.RawMessage, len(sections)+1)
		var firstErr error
		for i := 0; i < len(sections)+1; i++ {
			res := <-results
			if res.err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("homepage section %s: %w", res.name, res.err)
				}
				logging.Warn().Err(res.err).Str("section", res.name).Msg("Homepage section failed")
				continue
			}
			combined[res.name] = res.data
		}
		if firstErr != nil {
			return nil, firstErr
		}
		return combined, nil
	})
}

// Warm replays the real fetch-and-cache path for the hot endpoints, so
// warmup is "pretend N requests arrived" rather than a separate code path.
func (s *Service) Warm(ctx context.Context) []string {
	var warmed []string
	run := func(name string, fn func() (*Result, error)) {
		if _, err := fn(); err != nil {
			logging.Warn().Err(err).Str("endpoint", name).Msg("Cache warmup fetch failed")
			return
		}
		warmed = append(warmed, name)
	}

	for _, mt := range []models.MediaType{models.MediaTypeAnime, models.MediaTypeManga} {
		mt := mt
		run("trending:"+string(mt), func() (*Result, error) { return s.Trending(ctx, mt, 20) })
		run("popular:"+string(mt), func() (*Result, error) { return s.Popular(ctx, mt, 20) })
		run("recent:"+string(mt), func() (*Result, error) { return s.Recent(ctx, mt, 20) })
	}
	run("genres", func() (*Result, error) { return s.Genres(ctx) })
	run("stats", func() (*Result, error) { return s.Stats(ctx) })
	run("homepage", func() (*Result, error) { return s.Homepage(ctx) })

	return warmed
}
