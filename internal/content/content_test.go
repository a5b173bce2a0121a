// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package content

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"

	"github.com/toriisync/torii/internal/cache"
	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/models"
)

// fakeReader serves canned rows and counts store round trips.
type fakeReader struct {
	items   []models.ContentItem
	stats   models.LibraryStats
	genres  []models.TaxonomyEntity
	err     error
	queries int
}

func (f *fakeReader) TrendingCandidates(_ context.Context, _ models.MediaType, _ int) ([]models.ContentItem, error) {
	f.queries++
	return f.items, f.err
}

func (f *fakeReader) Popular(_ context.Context, _ models.MediaType, _ int) ([]models.ContentItem, error) {
	f.queries++
	return f.items, f.err
}

func (f *fakeReader) Recent(_ context.Context, _ models.MediaType, _ int) ([]models.ContentItem, error) {
	f.queries++
	return f.items, f.err
}

func (f *fakeReader) Search(_ context.Context, _ models.MediaType, _ string, _ int) ([]models.ContentItem, error) {
	f.queries++
	return f.items, f.err
}

func (f *fakeReader) Detail(_ context.Context, mediaType models.MediaType, id int64) (*models.ContentItem, error) {
	f.queries++
	for i := range f.items {
		if f.items[i].ID == id && f.items[i].Type == mediaType {
			return &f.items[i], nil
		}
	}
	return nil, f.err
}

func (f *fakeReader) GenreList(_ context.Context) ([]models.TaxonomyEntity, error) {
	f.queries++
	return f.genres, f.err
}

func (f *fakeReader) Stats(_ context.Context) (*models.LibraryStats, error) {
	f.queries++
	return &f.stats, f.err
}

func newTestService(t *testing.T, reader *fakeReader) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	cacheStore := cache.New(
		&config.RedisConfig{Enabled: true, Addr: mr.Addr()},
		&config.CacheConfig{
			KeyPrefix: "cache",
			TTL: config.TTLConfig{
				Trending: 300, Popular: 600, Recent: 300, Search: 180,
				Detail: 1800, Stats: 3600, Homepage: 600, Genres: 7200,
			},
		},
		nil,
	)
	t.Cleanup(func() { _ = cacheStore.Close() })
	return New(reader, cacheStore)
}

func intPtr(i int) *int              { return &i }
func f64Ptr(f float64) *float64      { return &f }
func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func TestTrendingScoreOrdering(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	classic := models.ContentItem{
		ID: 1, Type: models.MediaTypeAnime, Title: "Old Classic",
		Popularity: intPtr(900000), Favourites: intPtr(50000),
		Score:     f64Ptr(9.0),
		Status:    strPtr("FINISHED"),
		CreatedAt: now.AddDate(0, -6, 0),
	}
	airing := models.ContentItem{
		ID: 2, Type: models.MediaTypeAnime, Title: "New Airing Show",
		Popularity: intPtr(120000), Favourites: intPtr(8000),
		Score:         f64Ptr(8.1),
		Status:        strPtr("RELEASING"),
		NextReleaseAt: timePtr(now.Add(48 * time.Hour)),
		CreatedAt:     now.AddDate(0, 0, -3),
	}

	items := []models.ContentItem{classic, airing}
	sortByTrendingScore(items, now)

	if items[0].ID != 2 {
		t.Errorf("trending order = [%s, %s], want the airing show first",
			items[0].Title, items[1].Title)
	}
}

func TestTrendingScoreComponents(t *testing.T) {
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	bare := models.ContentItem{Type: models.MediaTypeAnime, CreatedAt: now.AddDate(-1, 0, 0)}
	if got := trendingScore(&bare, now); got != 0 {
		t.Errorf("score of empty item = %v, want 0", got)
	}

	fresh := bare
	fresh.CreatedAt = now
	if got := trendingScore(&fresh, now); got != 300 {
		t.Errorf("recency bonus = %v, want 300 for a just-created item", got)
	}

	publishing := models.ContentItem{
		Type: models.MediaTypeManga, Status: strPtr("Publishing"),
		CreatedAt: now.AddDate(-1, 0, 0),
	}
	if got := trendingScore(&publishing, now); got != 40 {
		t.Errorf("publishing bonus = %v, want 40", got)
	}

	// Audience terms saturate: sheer member count alone cannot exceed the
	// combined recency and releasing bonuses.
	giant := models.ContentItem{
		Type:       models.MediaTypeAnime,
		Popularity: intPtr(5_000_000), Favourites: intPtr(1_000_000),
		Status:    strPtr("FINISHED"),
		CreatedAt: now.AddDate(-1, 0, 0),
	}
	if got := trendingScore(&giant, now); got != 200 {
		t.Errorf("capped audience score = %v, want 200", got)
	}
}

func TestReleasingNow(t *testing.T) {
	tests := []struct {
		status    string
		mediaType models.MediaType
		want      bool
	}{
		{"RELEASING", models.MediaTypeAnime, true},
		{"current", models.MediaTypeAnime, true},
		{"Currently Airing", models.MediaTypeAnime, true},
		{"Finished Airing", models.MediaTypeAnime, false},
		{"FINISHED", models.MediaTypeAnime, false},
		{"Publishing", models.MediaTypeManga, true},
		{"On Hiatus", models.MediaTypeManga, false},
	}

	for _, tt := range tests {
		if got := releasingNow(tt.status, tt.mediaType); got != tt.want {
			t.Errorf("releasingNow(%q, %s) = %v, want %v", tt.status, tt.mediaType, got, tt.want)
		}
	}
}

func TestReadThroughCachesSecondCall(t *testing.T) {
	reader := &fakeReader{items: []models.ContentItem{
		{ID: 1, Type: models.MediaTypeAnime, Title: "Cached Anime"},
	}}
	svc := newTestService(t, reader)
	ctx := context.Background()

	first, err := svc.Popular(ctx, models.MediaTypeAnime, 20)
	if err != nil {
		t.Fatalf("Popular() error = %v", err)
	}
	if first.Cached {
		t.Error("first call reported Cached = true")
	}

	second, err := svc.Popular(ctx, models.MediaTypeAnime, 20)
	if err != nil {
		t.Fatalf("Popular() error = %v", err)
	}
	if !second.Cached {
		t.Error("second call reported Cached = false")
	}
	if reader.queries != 1 {
		t.Errorf("store queries = %d, want 1", reader.queries)
	}

	var items []models.ContentItem
	if err := json.Unmarshal(second.Data, &items); err != nil {
		t.Fatalf("unmarshal cached payload: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Cached Anime" {
		t.Errorf("cached payload = %+v", items)
	}
}

func TestSearchKeyIncludesQuery(t *testing.T) {
	reader := &fakeReader{}
	svc := newTestService(t, reader)
	ctx := context.Background()

	if _, err := svc.Search(ctx, models.MediaTypeAnime, "naruto", 10); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if _, err := svc.Search(ctx, models.MediaTypeAnime, "bleach", 10); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if reader.queries != 2 {
		t.Errorf("store queries = %d, want 2 (distinct queries must not share a key)", reader.queries)
	}
}

func TestDetailScopedToMediaType(t *testing.T) {
	reader := &fakeReader{items: []models.ContentItem{
		{ID: 7, Type: models.MediaTypeAnime, Title: "Anime Only"},
	}}
	svc := newTestService(t, reader)
	ctx := context.Background()

	// An anime id requested as manga must not resolve, and the miss must
	// not land under the anime key.
	miss, err := svc.Detail(ctx, models.MediaTypeManga, 7)
	if err != nil {
		t.Fatalf("Detail(manga) error = %v", err)
	}
	if string(miss.Data) != "null" {
		t.Errorf("Detail(manga) payload = %s, want null", miss.Data)
	}

	hit, err := svc.Detail(ctx, models.MediaTypeAnime, 7)
	if err != nil {
		t.Fatalf("Detail(anime) error = %v", err)
	}
	if hit.Cached {
		t.Error("Detail(anime) served from cache after a manga-typed miss")
	}
	var item models.ContentItem
	if err := json.Unmarshal(hit.Data, &item); err != nil {
		t.Fatalf("unmarshal detail payload: %v", err)
	}
	if item.Title != "Anime Only" {
		t.Errorf("Detail(anime) title = %q", item.Title)
	}
	if reader.queries != 2 {
		t.Errorf("store queries = %d, want 2 (type-scoped keys must not collide)", reader.queries)
	}
}

func TestStoreErrorPropagates(t *testing.T) {
	wantErr := errors.New("connection refused")
	reader := &fakeReader{err: wantErr}
	svc := newTestService(t, reader)

	_, err := svc.Trending(context.Background(), models.MediaTypeAnime, 20)
	if !errors.Is(err, wantErr) {
		t.Errorf("Trending() error = %v, want %v", err, wantErr)
	}
}

func TestHomepageCombinesSections(t *testing.T) {
	reader := &fakeReader{items: []models.ContentItem{
		{ID: 1, Type: models.MediaTypeAnime, Title: "A"},
	}}
	svc := newTestService(t, reader)

	res, err := svc.Homepage(context.Background())
	if err != nil {
		t.Fatalf("Homepage() error = %v", err)
	}

	var combined map[string]json.RawMessage
	if err := json.Unmarshal(res.Data, &combined); err != nil {
		t.Fatalf("unmarshal homepage payload: %v", err)
	}
	for _, section := range []string{
		"trending_anime", "trending_manga", "popular_anime", "popular_manga",
		"recent_anime", "recent_manga", "stats",
	} {
		if _, ok := combined[section]; !ok {
			t.Errorf("homepage missing section %s", section)
		}
	}
}

func TestWarmPopulatesHotEndpoints(t *testing.T) {
	reader := &fakeReader{}
	svc := newTestService(t, reader)

	warmed := svc.Warm(context.Background())
	if len(warmed) != 9 {
		t.Errorf("warmed %d endpoints (%v), want 9", len(warmed), warmed)
	}

	// A follow-up trending read must be served from cache.
	before := reader.queries
	res, err := svc.Trending(context.Background(), models.MediaTypeAnime, 20)
	if err != nil {
		t.Fatalf("Trending() error = %v", err)
	}
	if !res.Cached {
		t.Error("post-warm trending read missed the cache")
	}
	if reader.queries != before {
		t.Errorf("post-warm read hit the store (%d -> %d queries)", before, reader.queries)
	}
}
