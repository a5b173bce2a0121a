// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/toriisync/torii/internal/cache"
	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/models"
	"github.com/toriisync/torii/internal/source"
	"github.com/toriisync/torii/internal/store"
)

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		ItemDelay:              time.Microsecond,
		PageDelay:              time.Microsecond,
		MaxConsecutiveFailures: 3,
		DefaultMaxPages:        5,
		SynopsisMaxLen:         2000,
		ErrorCap:               3,
	}
}

func animeRaw(id int64, title string) models.RawMedia {
	return models.RawMedia{
		Source:      "anilist",
		Type:        models.MediaTypeAnime,
		AnilistID:   &id,
		TitleRomaji: &title,
	}
}

// scriptedAdapter replays a fixed sequence of page results in call order.
type scriptedAdapter struct {
	name  string
	pages []pageResult
	calls int
}

type pageResult struct {
	page *source.Page
	err  error
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) FetchPage(ctx context.Context, mediaType models.MediaType, page, perPage int) (*source.Page, error) {
	if a.calls >= len(a.pages) {
		return &source.Page{}, nil
	}
	r := a.pages[a.calls]
	a.calls++
	return r.page, r.err
}

type linkCall struct {
	kind    store.RelationshipKind
	titleID int64
	rels    int
	mode    models.LinkMode
}

// fakePersister satisfies Persister in memory, handing out sequential IDs
// and recording every call for assertions.
type fakePersister struct {
	nextID     int64
	titleIDs   map[int64]int64 // external id -> assigned title id
	upserts    []models.TitleRow
	upsertErr  error
	links      []linkCall
	voiceLinks int
	candidates []models.TitleRow
	malSet     map[int64]int64 // title id -> attached mal id
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		titleIDs: make(map[int64]int64),
		malSet:   make(map[int64]int64),
	}
}

func (p *fakePersister) UpsertTitle(ctx context.Context, row *models.TitleRow) (int64, bool, error) {
	if p.upsertErr != nil {
		return 0, false, p.upsertErr
	}
	p.upserts = append(p.upserts, *row)
	var ext int64
	if row.AnilistID != nil {
		ext = *row.AnilistID
	} else if row.MALID != nil {
		ext = *row.MALID
	}
	if id, ok := p.titleIDs[ext]; ok {
		return id, false, nil
	}
	p.nextID++
	p.titleIDs[ext] = p.nextID
	return p.nextID, true, nil
}

func (p *fakePersister) UpsertAnimeDetails(ctx context.Context, d *models.AnimeDetailsRow) (bool, error) {
	return true, nil
}

func (p *fakePersister) UpsertMangaDetails(ctx context.Context, d *models.MangaDetailsRow) (bool, error) {
	return true, nil
}

func (p *fakePersister) ensure(names []string) (map[string]int64, int, error) {
	out := make(map[string]int64, len(names))
	for _, name := range names {
		p.nextID++
		out[name] = p.nextID
	}
	return out, len(names), nil
}

func (p *fakePersister) EnsureGenres(ctx context.Context, names []string) (map[string]int64, int, error) {
	return p.ensure(names)
}

func (p *fakePersister) EnsureStudios(ctx context.Context, names []string) (map[string]int64, int, error) {
	return p.ensure(names)
}

func (p *fakePersister) EnsureAuthors(ctx context.Context, names []string) (map[string]int64, int, error) {
	return p.ensure(names)
}

func (p *fakePersister) EnsureContentTags(ctx context.Context, names []string) (map[string]int64, int, error) {
	return p.ensure(names)
}

func (p *fakePersister) EnsurePeople(ctx context.Context, names []string) (map[string]int64, int, error) {
	return p.ensure(names)
}

func (p *fakePersister) EnsureCharacters(ctx context.Context, names []string) (map[string]int64, int, error) {
	return p.ensure(names)
}

func (p *fakePersister) LinkRelationships(ctx context.Context, kind store.RelationshipKind, titleID int64, rels []models.Relationship, mode models.LinkMode) (int, error) {
	p.links = append(p.links, linkCall{kind: kind, titleID: titleID, rels: len(rels), mode: mode})
	return len(rels), nil
}

func (p *fakePersister) LinkVoiceActors(ctx context.Context, characterID int64, personIDs []int64) (int, error) {
	p.voiceLinks += len(personIDs)
	return len(personIDs), nil
}

func (p *fakePersister) TitleCandidates(ctx context.Context, mediaType models.MediaType, limit int) ([]models.TitleRow, error) {
	return p.candidates, nil
}

func (p *fakePersister) SetMALID(ctx context.Context, titleID, malID int64) error {
	p.malSet[titleID] = malID
	return nil
}

func TestRunProcessesPages(t *testing.T) {
	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{page: &source.Page{Items: []models.RawMedia{animeRaw(1, "Cowboy Bebop"), animeRaw(2, "Trigun")}, HasNext: true}},
		{page: &source.Page{Items: []models.RawMedia{animeRaw(3, "Hellsing")}, HasNext: false}},
	}}
	persister := newFakePersister()
	orch := NewOrchestrator(persister, testSyncConfig())

	result, err := orch.Run(context.Background(), Strategy{Adapter: adapter, PageSize: 2, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success {
		t.Error("Run() success = false, want true")
	}
	if result.TotalProcessed != 3 {
		t.Errorf("TotalProcessed = %d, want 3", result.TotalProcessed)
	}
	if result.PagesProcessed != 2 {
		t.Errorf("PagesProcessed = %d, want 2", result.PagesProcessed)
	}
	if result.Results.TitlesInserted != 3 {
		t.Errorf("TitlesInserted = %d, want 3", result.Results.TitlesInserted)
	}
	if result.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestRunDedupesWithinPage(t *testing.T) {
	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{page: &source.Page{Items: []models.RawMedia{
			animeRaw(1, "Cowboy Bebop"),
			animeRaw(1, "Cowboy Bebop"),
			animeRaw(2, "Trigun"),
		}}},
	}}
	persister := newFakePersister()
	orch := NewOrchestrator(persister, testSyncConfig())

	result, err := orch.Run(context.Background(), Strategy{Adapter: adapter, PageSize: 3, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalProcessed != 2 {
		t.Errorf("TotalProcessed = %d, want 2 after dedupe", result.TotalProcessed)
	}
	if len(persister.upserts) != 2 {
		t.Errorf("upsert calls = %d, want 2", len(persister.upserts))
	}
}

func TestRunAbortsAfterConsecutiveFailures(t *testing.T) {
	boom := fmt.Errorf("%w: listing endpoint down", source.ErrUnavailable)
	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{err: boom}, {err: boom}, {err: boom}, {err: boom}, {err: boom},
	}}
	orch := NewOrchestrator(newFakePersister(), testSyncConfig())

	result, err := orch.Run(context.Background(), Strategy{Adapter: adapter, PageSize: 2, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Success {
		t.Error("Run() success = true, want false when nothing was processed")
	}
	if adapter.calls != 3 {
		t.Errorf("fetch calls = %d, want 3 (abort threshold)", adapter.calls)
	}
	if result.Results.ErrorCount != 3 {
		t.Errorf("ErrorCount = %d, want 3", result.Results.ErrorCount)
	}
}

func TestRunRecoversFromSingleBadPage(t *testing.T) {
	boom := fmt.Errorf("%w: flaky", source.ErrUnavailable)
	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{err: boom},
		{page: &source.Page{Items: []models.RawMedia{animeRaw(1, "Monster")}}},
	}}
	orch := NewOrchestrator(newFakePersister(), testSyncConfig())

	result, err := orch.Run(context.Background(), Strategy{Adapter: adapter, PageSize: 2, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success {
		t.Error("Run() success = false, want true after recovering")
	}
	if result.TotalProcessed != 1 {
		t.Errorf("TotalProcessed = %d, want 1", result.TotalProcessed)
	}
	if result.Results.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", result.Results.ErrorCount)
	}
}

func TestRunCapsReportedErrors(t *testing.T) {
	items := make([]models.RawMedia, 6)
	for i := range items {
		items[i] = animeRaw(int64(i+1), fmt.Sprintf("Show %d", i+1))
	}
	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{page: &source.Page{Items: items}},
	}}
	persister := newFakePersister()
	persister.upsertErr = errors.New("connection refused")
	orch := NewOrchestrator(persister, testSyncConfig())

	result, err := orch.Run(context.Background(), Strategy{Adapter: adapter, PageSize: 6, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Results.ErrorCount != 6 {
		t.Errorf("ErrorCount = %d, want 6", result.Results.ErrorCount)
	}
	if len(result.Results.Errors) != 3 {
		t.Errorf("reported errors = %d, want cap of 3", len(result.Results.Errors))
	}
}

func TestRunSkipsUntitledRecords(t *testing.T) {
	id := int64(99)
	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{page: &source.Page{Items: []models.RawMedia{
			{Source: "anilist", Type: models.MediaTypeAnime, AnilistID: &id},
			animeRaw(1, "Cowboy Bebop"),
		}}},
	}}
	orch := NewOrchestrator(newFakePersister(), testSyncConfig())

	result, err := orch.Run(context.Background(), Strategy{Adapter: adapter, PageSize: 2, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalProcessed != 1 {
		t.Errorf("TotalProcessed = %d, want 1 (untitled record skipped)", result.TotalProcessed)
	}
	if result.Results.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0 (skip is not a failure)", result.Results.ErrorCount)
	}
}

func TestRunLinksRelationships(t *testing.T) {
	role := "Director"
	raw := animeRaw(1, "Cowboy Bebop")
	raw.Genres = []string{"Action", "Sci-Fi"}
	raw.Studios = []string{"Sunrise"}
	raw.Tags = []models.RawTag{{Name: "Space"}}
	raw.Staff = []models.RawStaff{{Name: "Shinichiro Watanabe", Role: &role}}
	raw.Characters = []models.RawCharacter{
		{Name: "Spike Spiegel", IsMain: true, VoiceActors: []string{"Koichi Yamadera"}},
	}

	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{page: &source.Page{Items: []models.RawMedia{raw}}},
	}}
	persister := newFakePersister()
	orch := NewOrchestrator(persister, testSyncConfig())

	_, err := orch.Run(context.Background(),
		Strategy{Adapter: adapter, PageSize: 1, WithRelationships: true, ReplaceCoreLinks: true, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	modes := make(map[store.RelationshipKind]models.LinkMode)
	counts := make(map[store.RelationshipKind]int)
	for _, call := range persister.links {
		modes[call.kind] = call.mode
		counts[call.kind] = call.rels
	}
	if modes[store.RelGenres] != models.LinkReplace {
		t.Errorf("genres mode = %v, want replace", modes[store.RelGenres])
	}
	if modes[store.RelTags] != models.LinkAdditive {
		t.Errorf("tags mode = %v, want additive", modes[store.RelTags])
	}
	if counts[store.RelGenres] != 2 {
		t.Errorf("genre links = %d, want 2", counts[store.RelGenres])
	}
	if counts[store.RelCharacters] != 1 {
		t.Errorf("character links = %d, want 1", counts[store.RelCharacters])
	}
	if persister.voiceLinks != 1 {
		t.Errorf("voice actor links = %d, want 1", persister.voiceLinks)
	}
}

func TestReplaceModeClearsEmptySnapshots(t *testing.T) {
	// An authoritative re-sync that carries no genres/studios/authors must
	// still issue replace-mode link calls so stale junction rows are removed.
	adapter := &scriptedAdapter{name: "anilist", pages: []pageResult{
		{page: &source.Page{Items: []models.RawMedia{animeRaw(1, "Cowboy Bebop")}}},
	}}
	persister := newFakePersister()
	orch := NewOrchestrator(persister, testSyncConfig())

	_, err := orch.Run(context.Background(),
		Strategy{Adapter: adapter, PageSize: 1, WithRelationships: true, ReplaceCoreLinks: true, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "anilist", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cleared := make(map[store.RelationshipKind]linkCall)
	for _, call := range persister.links {
		cleared[call.kind] = call
	}
	for _, kind := range []store.RelationshipKind{store.RelGenres, store.RelStudios, store.RelAuthors} {
		call, ok := cleared[kind]
		if !ok {
			t.Errorf("no replace call issued for %v with empty snapshot", kind)
			continue
		}
		if call.mode != models.LinkReplace {
			t.Errorf("%v mode = %v, want replace", kind, call.mode)
		}
		if call.rels != 0 {
			t.Errorf("%v rels = %d, want 0", kind, call.rels)
		}
	}
	if _, ok := cleared[store.RelTags]; ok {
		t.Error("additive tags were linked despite an empty snapshot")
	}
}

func TestRunEnrichOnlyMatchesCandidates(t *testing.T) {
	malA, malB := int64(1), int64(5114)
	titleA, titleB := "Fullmetal Alchemist: Brotherhood", "Some Show Nobody Has"
	adapter := &scriptedAdapter{name: "jikan", pages: []pageResult{
		{page: &source.Page{Items: []models.RawMedia{
			{Source: "jikan", Type: models.MediaTypeAnime, MALID: &malB, TitleEnglish: &titleA},
			{Source: "jikan", Type: models.MediaTypeAnime, MALID: &malA, TitleEnglish: &titleB},
		}}},
	}}
	persister := newFakePersister()
	persister.candidates = []models.TitleRow{
		{ID: 42, Title: "Fullmetal Alchemist: Brotherhood"},
	}
	orch := NewOrchestrator(persister, testSyncConfig())

	result, err := orch.Run(context.Background(),
		Strategy{Adapter: adapter, PageSize: 2, EnrichOnly: true, Oracle: NoopOracle{}},
		&models.SyncRequest{Source: "jikan", ContentType: "anime"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalProcessed != 1 {
		t.Errorf("TotalProcessed = %d, want 1 (only the matched record)", result.TotalProcessed)
	}
	if got := persister.malSet[42]; got != malB {
		t.Errorf("attached mal_id = %d, want %d", got, malB)
	}
	if len(persister.upserts) != 1 {
		t.Fatalf("upsert calls = %d, want 1", len(persister.upserts))
	}
	if persister.upserts[0].MALID == nil || *persister.upserts[0].MALID != malB {
		t.Error("enrichment upsert is missing the mal_id")
	}
}

func TestManagerRejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	adapter := &gatedAdapter{started: started, release: release}

	m := &Manager{
		orch:  NewOrchestrator(newFakePersister(), testSyncConfig()),
		cache: disabledCache(t),
		strategies: map[string]Strategy{
			"anilist": {Adapter: adapter, PageSize: 1, Oracle: NoopOracle{}},
		},
		running: make(map[string]bool),
	}

	req := &models.SyncRequest{Source: "anilist", ContentType: "anime", MaxPages: 1}

	var wg stdsync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := m.Run(context.Background(), req); err != nil {
			t.Errorf("first Run() error = %v", err)
		}
	}()

	<-started
	if _, err := m.Run(context.Background(), req); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second Run() error = %v, want ErrSyncInProgress", err)
	}
	close(release)
	wg.Wait()

	// The slot frees after the first run completes.
	if _, err := m.Run(context.Background(), req); err != nil {
		t.Errorf("Run() after release error = %v", err)
	}
}

func TestManagerUnknownSource(t *testing.T) {
	m := &Manager{
		orch:       NewOrchestrator(newFakePersister(), testSyncConfig()),
		cache:      disabledCache(t),
		strategies: map[string]Strategy{},
		running:    make(map[string]bool),
	}
	_, err := m.Run(context.Background(), &models.SyncRequest{Source: "anidb", ContentType: "anime"})
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("Run() error = %v, want ErrUnknownSource", err)
	}
}

// gatedAdapter signals when fetching starts and blocks until released, so
// tests can hold a run open.
type gatedAdapter struct {
	started chan struct{}
	release chan struct{}
	once    stdsync.Once
}

func (a *gatedAdapter) Name() string { return "anilist" }

func (a *gatedAdapter) FetchPage(ctx context.Context, mediaType models.MediaType, page, perPage int) (*source.Page, error) {
	a.once.Do(func() { close(a.started) })
	<-a.release
	return &source.Page{Items: []models.RawMedia{animeRaw(1, "Cowboy Bebop")}}, nil
}

func disabledCache(t *testing.T) *cache.Store {
	t.Helper()
	return cache.New(
		&config.RedisConfig{Enabled: false},
		&config.CacheConfig{KeyPrefix: "cache", TTL: config.TTLConfig{
			Trending: 300, Popular: 600, Recent: 300, Search: 180,
			Detail: 1800, Stats: 3600, Homepage: 600, Genres: 7200,
		}},
		nil,
	)
}
