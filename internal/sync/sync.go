// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package sync runs the metadata sync: one parameterized orchestrator with
// per-source strategies (AniList full sync with relationships, Kitsu
// additive merge, Jikan title enrichment).
//
// Page processing is strictly sequential. The rate-limit discipline against
// third-party quotas requires bounded, predictable request spacing, so the
// loop is deliberately not parallelized.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/metrics"
	"github.com/toriisync/torii/internal/models"
	"github.com/toriisync/torii/internal/source"
	"github.com/toriisync/torii/internal/store"
	"github.com/toriisync/torii/internal/transform"
)

// Persister is the store surface the orchestrator writes through.
type Persister interface {
	UpsertTitle(ctx context.Context, row *models.TitleRow) (int64, bool, error)
	UpsertAnimeDetails(ctx context.Context, d *models.AnimeDetailsRow) (bool, error)
	UpsertMangaDetails(ctx context.Context, d *models.MangaDetailsRow) (bool, error)
	EnsureGenres(ctx context.Context, names []string) (map[string]int64, int, error)
	EnsureStudios(ctx context.Context, names []string) (map[string]int64, int, error)
	EnsureAuthors(ctx context.Context, names []string) (map[string]int64, int, error)
	EnsureContentTags(ctx context.Context, names []string) (map[string]int64, int, error)
	EnsurePeople(ctx context.Context, names []string) (map[string]int64, int, error)
	EnsureCharacters(ctx context.Context, names []string) (map[string]int64, int, error)
	LinkRelationships(ctx context.Context, kind store.RelationshipKind, titleID int64, rels []models.Relationship, mode models.LinkMode) (int, error)
	LinkVoiceActors(ctx context.Context, characterID int64, personIDs []int64) (int, error)
	TitleCandidates(ctx context.Context, mediaType models.MediaType, limit int) ([]models.TitleRow, error)
	SetMALID(ctx context.Context, titleID, malID int64) error
}

// Strategy parameterizes one sync variant.
//
// ReplaceCoreLinks controls the link mode for genres, studios and authors:
// the AniList full sync owns those snapshots (replace), merge sources add
// to them (additive). Tags, people and characters are always additive
// because independent sources contribute non-overlapping sets.
//
// EnrichOnly restricts the run to records that fuzzy-match a title already
// in the library: matched records get their MAL ID attached and their sparse
// fields merged, unmatched records are dropped. The Jikan strategy runs this
// way because MAL has no stable listing order to sync from scratch.
type Strategy struct {
	Adapter           source.Adapter
	PageSize          int
	WithRelationships bool
	ReplaceCoreLinks  bool
	EnrichOnly        bool
	Oracle            ScheduleOracle
}

// enrichCandidateLimit bounds how many MAL-less titles one enrichment run
// loads as its matching pool.
const enrichCandidateLimit = 500

// Orchestrator drives the page/item loop for any strategy.
type Orchestrator struct {
	store Persister
	cfg   *config.SyncConfig
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(persister Persister, cfg *config.SyncConfig) *Orchestrator {
	return &Orchestrator{store: persister, cfg: cfg}
}

// run-scoped mutable state, threaded through the item pipeline.
type runState struct {
	strat      Strategy
	mediaType  models.MediaType
	counts     models.SyncCounts
	coreMode   models.LinkMode
	candidates []models.TitleRow
}

func (r *runState) addError(sourceName, errType string, err error) {
	r.counts.ErrorCount++
	metrics.SyncItemErrors.WithLabelValues(sourceName, errType).Inc()
	if len(r.counts.Errors) < cap(r.counts.Errors) {
		r.counts.Errors = append(r.counts.Errors, err.Error())
	}
}

// Run executes one sync per the request bounds. Success is false only when
// the run produced nothing: the first page fetch failed outright or the
// consecutive-failure threshold was hit before any item landed.
func (o *Orchestrator) Run(ctx context.Context, strat Strategy, req *models.SyncRequest) (*models.SyncResult, error) {
	mediaType := models.MediaType(req.ContentType)
	if !mediaType.Valid() {
		return nil, fmt.Errorf("invalid content type %q", req.ContentType)
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = o.cfg.DefaultMaxPages
	}
	startPage := req.StartPage
	if startPage <= 0 {
		startPage = 1
	}

	st := &runState{
		strat:     strat,
		mediaType: mediaType,
		coreMode:  models.LinkAdditive,
	}
	if strat.ReplaceCoreLinks {
		st.coreMode = models.LinkReplace
	}
	st.counts.Errors = make([]string, 0, o.cfg.ErrorCap)

	if strat.EnrichOnly {
		candidates, err := o.store.TitleCandidates(ctx, mediaType, enrichCandidateLimit)
		if err != nil {
			return nil, fmt.Errorf("load enrichment candidates: %w", err)
		}
		st.candidates = candidates
	}

	result := &models.SyncResult{
		RunID:       uuid.NewString(),
		Source:      strat.Adapter.Name(),
		ContentType: req.ContentType,
	}

	// The limiters space requests against external quotas: one token per
	// item delay, one per page delay, no burst beyond the first call.
	itemLimiter := rate.NewLimiter(rate.Every(o.cfg.ItemDelay), 1)
	pageLimiter := rate.NewLimiter(rate.Every(o.cfg.PageDelay), 1)

	logging.Info().
		Str("run_id", result.RunID).
		Str("source", result.Source).
		Str("content_type", req.ContentType).
		Int("max_pages", maxPages).
		Int("start_page", startPage).
		Msg("Sync run starting")

	start := time.Now()
	consecutiveFailures := 0

	for page := startPage; page < startPage+maxPages; page++ {
		if err := pageLimiter.Wait(ctx); err != nil {
			break
		}

		fetched, err := strat.Adapter.FetchPage(ctx, mediaType, page, strat.PageSize)
		if err != nil {
			st.addError(result.Source, "fetch", fmt.Errorf("page %d: %w", page, err))
			logging.Warn().Err(err).Int("page", page).Msg("Page fetch failed")
			consecutiveFailures++
			if consecutiveFailures >= o.cfg.MaxConsecutiveFailures {
				logging.Error().Int("page", page).Msg("Aborting sync after consecutive page failures")
				break
			}
			continue
		}
		metrics.SyncPagesProcessed.WithLabelValues(result.Source).Inc()

		items := dedupeByExternalID(fetched.Items)
		if len(items) == 0 {
			consecutiveFailures++
			if consecutiveFailures >= o.cfg.MaxConsecutiveFailures {
				break
			}
			if !fetched.HasNext {
				result.PagesProcessed++
				break
			}
			result.PagesProcessed++
			continue
		}
		consecutiveFailures = 0

		for i := range items {
			if err := itemLimiter.Wait(ctx); err != nil {
				break
			}
			if err := o.processItem(ctx, st, &items[i]); err != nil {
				if errors.Is(err, transform.ErrSkipRecord) {
					continue
				}
				st.addError(result.Source, itemErrorType(err), err)
				continue
			}
			result.TotalProcessed++
		}
		result.PagesProcessed++

		if !fetched.HasNext {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	elapsed := time.Since(start)
	result.DurationMS = elapsed.Milliseconds()
	if elapsed > 0 {
		result.AveragePerSecond = float64(result.TotalProcessed) / elapsed.Seconds()
	}
	result.Results = st.counts
	result.Success = result.TotalProcessed > 0 || (result.PagesProcessed > 0 && st.counts.ErrorCount == 0)

	metrics.SyncDuration.WithLabelValues(result.Source, req.ContentType).Observe(elapsed.Seconds())
	metrics.SyncItemsProcessed.WithLabelValues(result.Source, req.ContentType).Add(float64(result.TotalProcessed))
	if result.Success {
		metrics.SyncLastSuccess.WithLabelValues(result.Source, req.ContentType).SetToCurrentTime()
	}

	logging.Info().
		Str("run_id", result.RunID).
		Bool("success", result.Success).
		Int("total_processed", result.TotalProcessed).
		Int("pages_processed", result.PagesProcessed).
		Int("errors", st.counts.ErrorCount).
		Int64("duration_ms", result.DurationMS).
		Msg("Sync run finished")

	return result, nil
}

// processItem runs one record through transform, upsert, details and
// relationship linking. One bad item never aborts the page or the run.
func (o *Orchestrator) processItem(ctx context.Context, st *runState, raw *models.RawMedia) error {
	if st.strat.EnrichOnly {
		return o.enrichItem(ctx, st, raw)
	}

	row, err := transform.TitleRow(raw, o.cfg.SynopsisMaxLen)
	if err != nil {
		return err
	}

	// When the source carries no live schedule, let the oracle estimate the
	// next release before the details upsert.
	if st.mediaType == models.MediaTypeAnime && raw.NextReleaseAt == nil {
		if est := estimateSchedule(ctx, st.strat.Oracle, row.Title, nil); est != nil {
			date := est.Date
			raw.NextReleaseAt = &date
		}
	}

	titleID, inserted, err := o.store.UpsertTitle(ctx, row)
	if err != nil {
		return fmt.Errorf("persist %q: %w", row.Title, err)
	}
	if inserted {
		st.counts.TitlesInserted++
	} else {
		st.counts.TitlesUpdated++
	}

	if st.mediaType == models.MediaTypeAnime {
		created, err := o.store.UpsertAnimeDetails(ctx, transform.AnimeDetails(raw, titleID))
		if err != nil {
			return fmt.Errorf("persist details for %q: %w", row.Title, err)
		}
		if created {
			st.counts.DetailsInserted++
		}
	} else {
		created, err := o.store.UpsertMangaDetails(ctx, transform.MangaDetails(raw, titleID))
		if err != nil {
			return fmt.Errorf("persist details for %q: %w", row.Title, err)
		}
		if created {
			st.counts.DetailsInserted++
		}
	}

	if st.strat.WithRelationships {
		if err := o.linkItem(ctx, st, raw, titleID); err != nil {
			return fmt.Errorf("relationships for %q: %w", row.Title, err)
		}
	}
	return nil
}

// linkItem resolves and links every taxonomy the record carries.
func (o *Orchestrator) linkItem(ctx context.Context, st *runState, raw *models.RawMedia, titleID int64) error {
	sourceName := raw.Source

	if len(raw.Genres) > 0 || st.coreMode == models.LinkReplace {
		ids, created, err := o.store.EnsureGenres(ctx, raw.Genres)
		if err != nil {
			return err
		}
		st.counts.GenresCreated += created
		rels := make([]models.Relationship, 0, len(ids))
		for _, name := range raw.Genres {
			if id, ok := ids[name]; ok {
				rels = append(rels, models.Relationship{EntityID: id, Source: sourceName})
			}
		}
		n, err := o.store.LinkRelationships(ctx, store.RelGenres, titleID, rels, st.coreMode)
		if err != nil {
			return err
		}
		st.counts.RelationshipsCreated += n
	}

	if len(raw.Studios) > 0 || st.coreMode == models.LinkReplace {
		ids, created, err := o.store.EnsureStudios(ctx, raw.Studios)
		if err != nil {
			return err
		}
		st.counts.StudiosCreated += created
		rels := make([]models.Relationship, 0, len(ids))
		for _, name := range raw.Studios {
			if id, ok := ids[name]; ok {
				rels = append(rels, models.Relationship{EntityID: id, IsMain: true, Source: sourceName})
			}
		}
		n, err := o.store.LinkRelationships(ctx, store.RelStudios, titleID, rels, st.coreMode)
		if err != nil {
			return err
		}
		st.counts.RelationshipsCreated += n
	}

	if len(raw.Authors) > 0 || st.coreMode == models.LinkReplace {
		names := make([]string, 0, len(raw.Authors))
		for _, a := range raw.Authors {
			names = append(names, a.Name)
		}
		ids, created, err := o.store.EnsureAuthors(ctx, names)
		if err != nil {
			return err
		}
		st.counts.AuthorsCreated += created
		rels := make([]models.Relationship, 0, len(ids))
		for _, a := range raw.Authors {
			if id, ok := ids[a.Name]; ok {
				rels = append(rels, models.Relationship{EntityID: id, Role: a.Role, Source: sourceName})
			}
		}
		n, err := o.store.LinkRelationships(ctx, store.RelAuthors, titleID, rels, st.coreMode)
		if err != nil {
			return err
		}
		st.counts.RelationshipsCreated += n
	}

	if len(raw.Tags) > 0 {
		names := make([]string, 0, len(raw.Tags))
		for _, tag := range raw.Tags {
			names = append(names, tag.Name)
		}
		ids, created, err := o.store.EnsureContentTags(ctx, names)
		if err != nil {
			return err
		}
		st.counts.TagsCreated += created
		rels := make([]models.Relationship, 0, len(ids))
		for _, tag := range raw.Tags {
			if id, ok := ids[tag.Name]; ok {
				rels = append(rels, models.Relationship{
					EntityID: id, Rank: tag.Rank, IsSpoiler: tag.IsSpoiler, Source: sourceName,
				})
			}
		}
		n, err := o.store.LinkRelationships(ctx, store.RelTags, titleID, rels, models.LinkAdditive)
		if err != nil {
			return err
		}
		st.counts.RelationshipsCreated += n
	}

	if len(raw.Staff) > 0 {
		names := make([]string, 0, len(raw.Staff))
		for _, p := range raw.Staff {
			names = append(names, p.Name)
		}
		ids, created, err := o.store.EnsurePeople(ctx, names)
		if err != nil {
			return err
		}
		st.counts.PeopleCreated += created
		rels := make([]models.Relationship, 0, len(ids))
		for _, p := range raw.Staff {
			if id, ok := ids[p.Name]; ok {
				rels = append(rels, models.Relationship{EntityID: id, Role: p.Role, Source: sourceName})
			}
		}
		n, err := o.store.LinkRelationships(ctx, store.RelPeople, titleID, rels, models.LinkAdditive)
		if err != nil {
			return err
		}
		st.counts.RelationshipsCreated += n
	}

	if len(raw.Characters) > 0 {
		if err := o.linkCharacters(ctx, st, raw, titleID); err != nil {
			return err
		}
	}
	return nil
}

// linkCharacters links the title's characters and their voice actor
// credits.
func (o *Orchestrator) linkCharacters(ctx context.Context, st *runState, raw *models.RawMedia, titleID int64) error {
	names := make([]string, 0, len(raw.Characters))
	for _, c := range raw.Characters {
		names = append(names, c.Name)
	}
	ids, created, err := o.store.EnsureCharacters(ctx, names)
	if err != nil {
		return err
	}
	st.counts.CharactersCreated += created

	rels := make([]models.Relationship, 0, len(ids))
	for _, c := range raw.Characters {
		if id, ok := ids[c.Name]; ok {
			rels = append(rels, models.Relationship{
				EntityID: id, Role: c.Role, IsMain: c.IsMain, Source: raw.Source,
			})
		}
	}
	n, err := o.store.LinkRelationships(ctx, store.RelCharacters, titleID, rels, models.LinkAdditive)
	if err != nil {
		return err
	}
	st.counts.RelationshipsCreated += n

	for _, c := range raw.Characters {
		charID, ok := ids[c.Name]
		if !ok || len(c.VoiceActors) == 0 {
			continue
		}
		vaIDs, createdPeople, err := o.store.EnsurePeople(ctx, c.VoiceActors)
		if err != nil {
			return err
		}
		st.counts.PeopleCreated += createdPeople
		personIDs := make([]int64, 0, len(vaIDs))
		for _, va := range c.VoiceActors {
			if id, ok := vaIDs[va]; ok {
				personIDs = append(personIDs, id)
			}
		}
		if _, err := o.store.LinkVoiceActors(ctx, charID, personIDs); err != nil {
			return err
		}
	}
	return nil
}

// dedupeByExternalID keeps the first occurrence of each external ID within
// one page. Upstream APIs occasionally return the same record twice, which
// would otherwise trip a single-statement multi-row conflict on upsert.
func dedupeByExternalID(items []models.RawMedia) []models.RawMedia {
	seen := make(map[int64]bool, len(items))
	out := items[:0:0]
	for i := range items {
		id := items[i].ExternalID()
		if id != 0 && seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, items[i])
	}
	return out
}

// itemErrorType classifies an item failure for metrics.
func itemErrorType(err error) string {
	switch {
	case errors.Is(err, transform.ErrSkipRecord):
		return "transform"
	default:
		return "persist"
	}
}
