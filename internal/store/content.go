// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package store

import (
	"context"
	"time"

	"github.com/toriisync/torii/internal/models"
)

// contentSelect joins titles with the matching details extension and
// aggregates genre names. "units" is episodes for anime, chapters for
// manga; next_release covers both the next-episode and next-chapter
// countdown fields.
const contentSelect = `
	SELECT
		t.id, t.type, t.title, t.title_english, t.synopsis, t.cover_image,
		t.color, t.score, t.alt_score, t.popularity, t.favourites, t.year,
		COALESCE(ad.status, md.status),
		COALESCE(ad.episodes, md.chapters),
		COALESCE(ad.next_episode_date, md.next_chapter_date),
		t.slug, t.created_at,
		COALESCE(array_remove(array_agg(g.name ORDER BY g.name), NULL), '{}')
	FROM titles t
	LEFT JOIN anime_details ad ON ad.title_id = t.id AND t.type = 'anime'
	LEFT JOIN manga_details md ON md.title_id = t.id AND t.type = 'manga'
	LEFT JOIN title_genres tg ON tg.title_id = t.id
	LEFT JOIN genres g ON g.id = tg.genre_id`

const contentGroupBy = ` GROUP BY t.id, ad.status, ad.episodes, ad.next_episode_date, md.status, md.chapters, md.next_chapter_date`

func (s *Store) queryContent(ctx context.Context, operation, sql string, args ...interface{}) ([]models.ContentItem, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, sql, args...)
	observe(operation, "titles", start, err)
	if err != nil {
		return nil, readErr("titles", err)
	}
	defer rows.Close()

	var out []models.ContentItem
	for rows.Next() {
		var item models.ContentItem
		var mediaType string
		if err := rows.Scan(
			&item.ID, &mediaType, &item.Title, &item.TitleEnglish,
			&item.Synopsis, &item.CoverImage, &item.Color, &item.Score,
			&item.AltScore, &item.Popularity, &item.Favourites, &item.Year,
			&item.Status, &item.Units, &item.NextReleaseAt,
			&item.Slug, &item.CreatedAt, &item.Genres,
		); err != nil {
			return nil, readErr("titles", err)
		}
		item.Type = models.MediaType(mediaType)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("titles", err)
	}
	return out, nil
}

// TrendingCandidates returns a popularity-ordered candidate window for the
// trending endpoint. The caller re-sorts in process by the weighted
// trending score, so the window is wider than the requested page.
func (s *Store) TrendingCandidates(ctx context.Context, mediaType models.MediaType, limit int) ([]models.ContentItem, error) {
	return s.queryContent(ctx, "trending", contentSelect+`
		WHERE t.type = $1`+contentGroupBy+`
		ORDER BY t.popularity DESC NULLS LAST
		LIMIT $2`, string(mediaType), limit*3)
}

// Popular returns titles ordered by raw popularity.
func (s *Store) Popular(ctx context.Context, mediaType models.MediaType, limit int) ([]models.ContentItem, error) {
	return s.queryContent(ctx, "popular", contentSelect+`
		WHERE t.type = $1`+contentGroupBy+`
		ORDER BY t.popularity DESC NULLS LAST
		LIMIT $2`, string(mediaType), limit)
}

// Recent returns the most recently added titles.
func (s *Store) Recent(ctx context.Context, mediaType models.MediaType, limit int) ([]models.ContentItem, error) {
	return s.queryContent(ctx, "recent", contentSelect+`
		WHERE t.type = $1`+contentGroupBy+`
		ORDER BY t.created_at DESC
		LIMIT $2`, string(mediaType), limit)
}

// Search matches the query against all three title strings and the
// synopsis, ordered by popularity so well-known works surface first.
func (s *Store) Search(ctx context.Context, mediaType models.MediaType, query string, limit int) ([]models.ContentItem, error) {
	pattern := "%" + query + "%"
	return s.queryContent(ctx, "search", contentSelect+`
		WHERE t.type = $1
		  AND (t.title ILIKE $2 OR t.title_english ILIKE $2
		       OR t.title_japanese ILIKE $2 OR t.synopsis ILIKE $2)`+contentGroupBy+`
		ORDER BY t.popularity DESC NULLS LAST
		LIMIT $3`, string(mediaType), pattern, limit)
}

// Detail returns one title by id and type, or ErrDataUnavailable wrapping the
// lookup failure. A missing or wrong-typed row returns (nil, nil).
func (s *Store) Detail(ctx context.Context, mediaType models.MediaType, id int64) (*models.ContentItem, error) {
	items, err := s.queryContent(ctx, "detail", contentSelect+`
		WHERE t.id = $1 AND t.type = $2`+contentGroupBy, id, string(mediaType))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// GenreList returns all genres for the taxonomy endpoint.
func (s *Store) GenreList(ctx context.Context) ([]models.TaxonomyEntity, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT id, name, slug FROM genres ORDER BY name`)
	observe("select", "genres", start, err)
	if err != nil {
		return nil, readErr("genres", err)
	}
	defer rows.Close()

	var out []models.TaxonomyEntity
	for rows.Next() {
		var g models.TaxonomyEntity
		if err := rows.Scan(&g.ID, &g.Name, &g.Slug); err != nil {
			return nil, readErr("genres", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("genres", err)
	}
	return out, nil
}

// Stats counts rows per entity table in one round trip.
func (s *Store) Stats(ctx context.Context) (*models.LibraryStats, error) {
	start := time.Now()
	var stats models.LibraryStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM titles WHERE type = 'anime'),
			(SELECT count(*) FROM titles WHERE type = 'manga'),
			(SELECT count(*) FROM genres),
			(SELECT count(*) FROM studios),
			(SELECT count(*) FROM authors),
			(SELECT count(*) FROM characters)`,
	).Scan(&stats.AnimeCount, &stats.MangaCount, &stats.GenreCount,
		&stats.StudioCount, &stats.AuthorCount, &stats.CharacterCount)
	observe("stats", "titles", start, err)
	if err != nil {
		return nil, readErr("titles", err)
	}
	return &stats, nil
}
