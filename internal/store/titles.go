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

// upsertTitleSQL is the sparse title upsert. Every updated column goes
// through COALESCE(EXCLUDED.col, titles.col), so a pass that did not fetch
// a field (nil pointer in the row) leaves the stored value untouched and a
// thinner source never nulls out a richer field. The conflict target is the
// external ID of the sync's source, substituted per call.
//
// (xmax = 0) distinguishes a fresh insert from a conflict update.
const upsertTitleSQL = `
	INSERT INTO titles (
		anilist_id, mal_id, kitsu_id, type, title, title_english,
		title_japanese, synopsis, cover_image, color, score, alt_score,
		popularity, favourites, rank, year, slug
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (%s) DO UPDATE SET
		anilist_id     = COALESCE(EXCLUDED.anilist_id, titles.anilist_id),
		mal_id         = COALESCE(EXCLUDED.mal_id, titles.mal_id),
		kitsu_id       = COALESCE(EXCLUDED.kitsu_id, titles.kitsu_id),
		title          = COALESCE(NULLIF(EXCLUDED.title, ''), titles.title),
		title_english  = COALESCE(EXCLUDED.title_english, titles.title_english),
		title_japanese = COALESCE(EXCLUDED.title_japanese, titles.title_japanese),
		synopsis       = COALESCE(EXCLUDED.synopsis, titles.synopsis),
		cover_image    = COALESCE(EXCLUDED.cover_image, titles.cover_image),
		color          = COALESCE(EXCLUDED.color, titles.color),
		score          = COALESCE(EXCLUDED.score, titles.score),
		alt_score      = COALESCE(EXCLUDED.alt_score, titles.alt_score),
		popularity     = COALESCE(EXCLUDED.popularity, titles.popularity),
		favourites     = COALESCE(EXCLUDED.favourites, titles.favourites),
		rank           = COALESCE(EXCLUDED.rank, titles.rank),
		year           = COALESCE(EXCLUDED.year, titles.year),
		slug           = COALESCE(NULLIF(EXCLUDED.slug, ''), titles.slug),
		updated_at     = now()
	RETURNING id, (xmax = 0)`

// UpsertTitle inserts or sparsely updates one title keyed by the external
// ID the row carries (AniList preferred, then Kitsu, then MAL). Returns the
// surrogate key and whether the row was freshly inserted.
func (s *Store) UpsertTitle(ctx context.Context, row *models.TitleRow) (int64, bool, error) {
	conflictCol, err := titleConflictColumn(row)
	if err != nil {
		return 0, false, err
	}

	start := time.Now()
	var id int64
	var inserted bool
	err = s.pool.QueryRow(ctx, fmt.Sprintf(upsertTitleSQL, conflictCol),
		row.AnilistID, row.MALID, row.KitsuID, string(row.Type), row.Title,
		row.TitleEnglish, row.TitleJapanese, row.Synopsis, row.CoverImage,
		row.Color, row.Score, row.AltScore, row.Popularity, row.Favourites,
		row.Rank, row.Year, row.Slug,
	).Scan(&id, &inserted)
	observe("upsert", "titles", start, err)
	if err != nil {
		return 0, false, fmt.Errorf("failed to upsert title %q: %w", row.Title, err)
	}
	return id, inserted, nil
}

// titleConflictColumn picks the dedup key for the row's source.
func titleConflictColumn(row *models.TitleRow) (string, error) {
	switch {
	case row.AnilistID != nil:
		return "anilist_id", nil
	case row.KitsuID != nil:
		return "kitsu_id", nil
	case row.MALID != nil:
		return "mal_id", nil
	default:
		return "", fmt.Errorf("title %q carries no external id", row.Title)
	}
}

// TitleCandidates returns titles of the given type that no MAL-backed sync
// has touched yet, ordered by popularity. The enrichment path fuzzy-matches
// Jikan records against these in process.
func (s *Store) TitleCandidates(ctx context.Context, mediaType models.MediaType, limit int) ([]models.TitleRow, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, title_english, title_japanese
		FROM titles
		WHERE type = $1 AND mal_id IS NULL
		ORDER BY popularity DESC NULLS LAST
		LIMIT $2`, string(mediaType), limit)
	observe("select", "titles", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query title candidates: %w", err)
	}
	defer rows.Close()

	var out []models.TitleRow
	for rows.Next() {
		var t models.TitleRow
		if err := rows.Scan(&t.ID, &t.Title, &t.TitleEnglish, &t.TitleJapanese); err != nil {
			return nil, fmt.Errorf("failed to scan title candidate: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetMALID attaches a MAL identifier to an existing title. The enrichment
// path calls this on a fuzzy match so the subsequent sparse upsert conflicts
// into the matched row instead of creating a duplicate.
func (s *Store) SetMALID(ctx context.Context, titleID, malID int64) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`UPDATE titles SET mal_id = $1, updated_at = now() WHERE id = $2 AND mal_id IS NULL`,
		malID, titleID)
	observe("update", "titles", start, err)
	if err != nil {
		return fmt.Errorf("failed to attach mal id to title %d: %w", titleID, err)
	}
	return nil
}

const upsertAnimeDetailsSQL = `
	INSERT INTO anime_details (
		title_id, episodes, duration, aired_from, aired_to, status, season,
		next_episode_date, next_episode_number
	) VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8, $9)
	ON CONFLICT (title_id) DO UPDATE SET
		episodes            = COALESCE(EXCLUDED.episodes, anime_details.episodes),
		duration            = COALESCE(EXCLUDED.duration, anime_details.duration),
		aired_from          = COALESCE(EXCLUDED.aired_from, anime_details.aired_from),
		aired_to            = COALESCE(EXCLUDED.aired_to, anime_details.aired_to),
		status              = COALESCE(EXCLUDED.status, anime_details.status),
		season              = COALESCE(EXCLUDED.season, anime_details.season),
		next_episode_date   = COALESCE(EXCLUDED.next_episode_date, anime_details.next_episode_date),
		next_episode_number = COALESCE(EXCLUDED.next_episode_number, anime_details.next_episode_number),
		updated_at          = now()
	RETURNING (xmax = 0)`

// UpsertAnimeDetails writes the 1:1 anime extension for a title. Returns
// whether the details row was freshly inserted.
func (s *Store) UpsertAnimeDetails(ctx context.Context, d *models.AnimeDetailsRow) (bool, error) {
	start := time.Now()
	var inserted bool
	err := s.pool.QueryRow(ctx, upsertAnimeDetailsSQL,
		d.TitleID, d.Episodes, d.Duration, d.AiredFrom, d.AiredTo,
		d.Status, d.Season, d.NextEpisodeDate, d.NextEpisodeNumber,
	).Scan(&inserted)
	observe("upsert", "anime_details", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to upsert anime details for title %d: %w", d.TitleID, err)
	}
	return inserted, nil
}

const upsertMangaDetailsSQL = `
	INSERT INTO manga_details (
		title_id, chapters, volumes, published_from, published_to, status,
		next_chapter_date, next_chapter_number
	) VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8)
	ON CONFLICT (title_id) DO UPDATE SET
		chapters            = COALESCE(EXCLUDED.chapters, manga_details.chapters),
		volumes             = COALESCE(EXCLUDED.volumes, manga_details.volumes),
		published_from      = COALESCE(EXCLUDED.published_from, manga_details.published_from),
		published_to        = COALESCE(EXCLUDED.published_to, manga_details.published_to),
		status              = COALESCE(EXCLUDED.status, manga_details.status),
		next_chapter_date   = COALESCE(EXCLUDED.next_chapter_date, manga_details.next_chapter_date),
		next_chapter_number = COALESCE(EXCLUDED.next_chapter_number, manga_details.next_chapter_number),
		updated_at          = now()
	RETURNING (xmax = 0)`

// UpsertMangaDetails writes the 1:1 manga extension for a title.
func (s *Store) UpsertMangaDetails(ctx context.Context, d *models.MangaDetailsRow) (bool, error) {
	start := time.Now()
	var inserted bool
	err := s.pool.QueryRow(ctx, upsertMangaDetailsSQL,
		d.TitleID, d.Chapters, d.Volumes, d.PublishedFrom, d.PublishedTo,
		d.Status, d.NextChapterDate, d.NextChapterNumber,
	).Scan(&inserted)
	observe("upsert", "manga_details", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to upsert manga details for title %d: %w", d.TitleID, err)
	}
	return inserted, nil
}
