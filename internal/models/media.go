// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package models defines the relational row types, API request/response
// shapes and sync result structures shared across Torii.
package models

import "time"

// MediaType identifies the kind of work a title represents.
type MediaType string

// Supported media types.
const (
	MediaTypeAnime MediaType = "anime"
	MediaTypeManga MediaType = "manga"
)

// Valid reports whether the media type is one of the supported values.
func (m MediaType) Valid() bool {
	return m == MediaTypeAnime || m == MediaTypeManga
}

// TitleRow is the canonical record for one anime or manga work, independent
// of which source contributed it. One row represents one work regardless of
// how many sources have synced it.
//
// Pointer fields are sparse: nil means "this pass did not fetch the field"
// and the store must leave the stored value untouched. A thinner source can
// therefore never null out a richer field.
type TitleRow struct {
	ID            int64      `json:"id"`
	AnilistID     *int64     `json:"anilist_id,omitempty"`
	MALID         *int64     `json:"mal_id,omitempty"`
	KitsuID       *int64     `json:"kitsu_id,omitempty"`
	Type          MediaType  `json:"type"`
	Title         string     `json:"title"`
	TitleEnglish  *string    `json:"title_english,omitempty"`
	TitleJapanese *string    `json:"title_japanese,omitempty"`
	Synopsis      *string    `json:"synopsis,omitempty"`
	CoverImage    *string    `json:"cover_image,omitempty"`
	Color         *string    `json:"color,omitempty"`
	Score         *float64   `json:"score,omitempty"`     // 0-10 scale
	AltScore      *float64   `json:"alt_score,omitempty"` // secondary source score, 0-10 scale
	Popularity    *int       `json:"popularity,omitempty"`
	Favourites    *int       `json:"favourites,omitempty"`
	Rank          *int       `json:"rank,omitempty"`
	Year          *int       `json:"year,omitempty"`
	Slug          string     `json:"slug"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// AnimeDetailsRow is the one-to-one anime extension of a title, keyed by the
// title's own surrogate key so upsert is a replace-by-title_id.
type AnimeDetailsRow struct {
	TitleID           int64      `json:"title_id"`
	Episodes          *int       `json:"episodes,omitempty"`
	Duration          *int       `json:"duration,omitempty"` // minutes per episode
	AiredFrom         *string    `json:"aired_from,omitempty"`
	AiredTo           *string    `json:"aired_to,omitempty"`
	Status            *string    `json:"status,omitempty"`
	Season            *string    `json:"season,omitempty"`
	NextEpisodeDate   *time.Time `json:"next_episode_date,omitempty"`
	NextEpisodeNumber *int       `json:"next_episode_number,omitempty"`
}

// MangaDetailsRow is the one-to-one manga extension of a title.
type MangaDetailsRow struct {
	TitleID           int64      `json:"title_id"`
	Chapters          *int       `json:"chapters,omitempty"`
	Volumes           *int       `json:"volumes,omitempty"`
	PublishedFrom     *string    `json:"published_from,omitempty"`
	PublishedTo       *string    `json:"published_to,omitempty"`
	Status            *string    `json:"status,omitempty"`
	NextChapterDate   *time.Time `json:"next_chapter_date,omitempty"`
	NextChapterNumber *int       `json:"next_chapter_number,omitempty"`
}

// TaxonomyEntity is one shared reference entity (genre, studio, author,
// content tag, person or character). Name is the dedup key; the slug is
// derived deterministically from the name.
type TaxonomyEntity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// LinkMode selects how junction rows for a title are written.
type LinkMode string

const (
	// LinkReplace deletes all existing junction rows for the title before
	// inserting the new set. Used when a single authoritative source
	// re-syncs and the set must reflect its current snapshot.
	LinkReplace LinkMode = "replace"

	// LinkAdditive upserts each row individually ignoring conflicts. Used
	// when independent sources contribute different relationship types to
	// the same title.
	LinkAdditive LinkMode = "additive"
)

// Relationship is one junction row between a title and a taxonomy entity,
// optionally carrying edge metadata.
type Relationship struct {
	EntityID  int64   `json:"entity_id"`
	Role      *string `json:"role,omitempty"`
	Rank      *int    `json:"rank,omitempty"`
	IsMain    bool    `json:"is_main,omitempty"`
	IsSpoiler bool    `json:"is_spoiler,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// ContentItem is the aggregated read-side view of a title served by the
// content endpoints.
type ContentItem struct {
	ID            int64      `json:"id"`
	Type          MediaType  `json:"type"`
	Title         string     `json:"title"`
	TitleEnglish  *string    `json:"title_english,omitempty"`
	Synopsis      *string    `json:"synopsis,omitempty"`
	CoverImage    *string    `json:"cover_image,omitempty"`
	Color         *string    `json:"color,omitempty"`
	Score         *float64   `json:"score,omitempty"`
	AltScore      *float64   `json:"alt_score,omitempty"`
	Popularity    *int       `json:"popularity,omitempty"`
	Favourites    *int       `json:"favourites,omitempty"`
	Year          *int       `json:"year,omitempty"`
	Status        *string    `json:"status,omitempty"`
	Units         *int       `json:"units,omitempty"` // episodes or chapters
	NextReleaseAt *time.Time `json:"next_release_at,omitempty"`
	Genres        []string   `json:"genres,omitempty"`
	Slug          string     `json:"slug"`
	CreatedAt     time.Time  `json:"created_at"`
}

// LibraryStats summarizes row counts per entity table for the stats endpoint.
type LibraryStats struct {
	AnimeCount     int64 `json:"anime_count"`
	MangaCount     int64 `json:"manga_count"`
	GenreCount     int64 `json:"genre_count"`
	StudioCount    int64 `json:"studio_count"`
	AuthorCount    int64 `json:"author_count"`
	CharacterCount int64 `json:"character_count"`
}

// CacheMetric is one append-only cache performance log row. Rows are never
// mutated and are pruned by age.
type CacheMetric struct {
	Type       string    `json:"type"` // hit, miss, set, invalidate, error
	Key        string    `json:"key"`
	DurationMS float64   `json:"duration_ms"`
	Metadata   string    `json:"metadata,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
