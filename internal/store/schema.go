// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 60*time.Second)
}

// EnsureSchema creates all tables and indexes if missing. Every statement
// is idempotent, so startup never needs a migration step.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := schemaContext(ctx)
	defer cancel()

	for _, query := range schemaStatements {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// schemaStatements is the full relational contract: titles, the 1:1 details
// extensions, the six taxonomy tables, their junctions and the cache metric
// log. Taxonomy names are unique so ensure-or-create can be a single
// ON CONFLICT round trip.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS titles (
		id             BIGSERIAL PRIMARY KEY,
		anilist_id     BIGINT UNIQUE,
		mal_id         BIGINT UNIQUE,
		kitsu_id       BIGINT UNIQUE,
		type           TEXT NOT NULL CHECK (type IN ('anime', 'manga')),
		title          TEXT NOT NULL,
		title_english  TEXT,
		title_japanese TEXT,
		synopsis       TEXT,
		cover_image    TEXT,
		color          TEXT,
		score          DOUBLE PRECISION,
		alt_score      DOUBLE PRECISION,
		popularity     INTEGER,
		favourites     INTEGER,
		rank           INTEGER,
		year           INTEGER,
		slug           TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS anime_details (
		title_id            BIGINT PRIMARY KEY REFERENCES titles(id) ON DELETE CASCADE,
		episodes            INTEGER,
		duration            INTEGER,
		aired_from          DATE,
		aired_to            DATE,
		status              TEXT,
		season              TEXT,
		next_episode_date   TIMESTAMPTZ,
		next_episode_number INTEGER,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS manga_details (
		title_id            BIGINT PRIMARY KEY REFERENCES titles(id) ON DELETE CASCADE,
		chapters            INTEGER,
		volumes             INTEGER,
		published_from      DATE,
		published_to        DATE,
		status              TEXT,
		next_chapter_date   TIMESTAMPTZ,
		next_chapter_number INTEGER,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS genres (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		slug       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS studios (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		slug       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS authors (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		slug       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS content_tags (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		slug       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS people (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		slug       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS characters (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		slug       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS title_genres (
		title_id BIGINT NOT NULL REFERENCES titles(id) ON DELETE CASCADE,
		genre_id BIGINT NOT NULL REFERENCES genres(id) ON DELETE CASCADE,
		source   TEXT,
		PRIMARY KEY (title_id, genre_id)
	)`,

	`CREATE TABLE IF NOT EXISTS title_studios (
		title_id  BIGINT NOT NULL REFERENCES titles(id) ON DELETE CASCADE,
		studio_id BIGINT NOT NULL REFERENCES studios(id) ON DELETE CASCADE,
		is_main   BOOLEAN NOT NULL DEFAULT false,
		source    TEXT,
		PRIMARY KEY (title_id, studio_id)
	)`,

	`CREATE TABLE IF NOT EXISTS title_authors (
		title_id  BIGINT NOT NULL REFERENCES titles(id) ON DELETE CASCADE,
		author_id BIGINT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
		role      TEXT,
		source    TEXT,
		PRIMARY KEY (title_id, author_id)
	)`,

	`CREATE TABLE IF NOT EXISTS title_content_tags (
		title_id   BIGINT NOT NULL REFERENCES titles(id) ON DELETE CASCADE,
		tag_id     BIGINT NOT NULL REFERENCES content_tags(id) ON DELETE CASCADE,
		rank       INTEGER,
		is_spoiler BOOLEAN NOT NULL DEFAULT false,
		source     TEXT,
		PRIMARY KEY (title_id, tag_id)
	)`,

	`CREATE TABLE IF NOT EXISTS title_people (
		title_id  BIGINT NOT NULL REFERENCES titles(id) ON DELETE CASCADE,
		person_id BIGINT NOT NULL REFERENCES people(id) ON DELETE CASCADE,
		role      TEXT,
		source    TEXT,
		PRIMARY KEY (title_id, person_id)
	)`,

	`CREATE TABLE IF NOT EXISTS title_content_characters (
		title_id     BIGINT NOT NULL REFERENCES titles(id) ON DELETE CASCADE,
		character_id BIGINT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
		role         TEXT,
		is_main      BOOLEAN NOT NULL DEFAULT false,
		source       TEXT,
		PRIMARY KEY (title_id, character_id)
	)`,

	`CREATE TABLE IF NOT EXISTS character_voice_actors (
		character_id BIGINT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
		person_id    BIGINT NOT NULL REFERENCES people(id) ON DELETE CASCADE,
		language     TEXT NOT NULL DEFAULT 'japanese',
		PRIMARY KEY (character_id, person_id)
	)`,

	`CREATE TABLE IF NOT EXISTS cache_performance_metrics (
		id          BIGSERIAL PRIMARY KEY,
		metric_type TEXT NOT NULL CHECK (metric_type IN ('hit', 'miss', 'set', 'invalidate', 'error')),
		cache_key   TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata    TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// Read path indexes: the content queries sort by popularity, score and
	// recency, always filtered by type.
	`CREATE INDEX IF NOT EXISTS idx_titles_type_popularity ON titles (type, popularity DESC NULLS LAST)`,
	`CREATE INDEX IF NOT EXISTS idx_titles_type_score ON titles (type, score DESC NULLS LAST)`,
	`CREATE INDEX IF NOT EXISTS idx_titles_type_created ON titles (type, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_titles_slug ON titles (slug)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_metrics_type_created ON cache_performance_metrics (metric_type, created_at)`,
}
