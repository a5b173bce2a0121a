// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package models

import "time"

// FuzzyDate is a source date object in which any component may be absent.
// AniList start/end dates and Kitsu publication dates both arrive this way.
type FuzzyDate struct {
	Year  *int `json:"year"`
	Month *int `json:"month"`
	Day   *int `json:"day"`
}

// Zero reports whether the date carries no information at all.
func (d FuzzyDate) Zero() bool {
	return d.Year == nil && d.Month == nil && d.Day == nil
}

// RawTag is one content tag attached to a raw media record.
type RawTag struct {
	Name      string `json:"name"`
	Rank      *int   `json:"rank,omitempty"`
	IsSpoiler bool   `json:"is_spoiler,omitempty"`
}

// RawStaff is one staff credit (director, author, composer, ...) on a raw
// media record.
type RawStaff struct {
	Name string  `json:"name"`
	Role *string `json:"role,omitempty"`
}

// RawCharacter is one character appearing in a raw media record, with the
// names of any credited voice actors.
type RawCharacter struct {
	Name        string   `json:"name"`
	Role        *string  `json:"role,omitempty"`
	IsMain      bool     `json:"is_main,omitempty"`
	VoiceActors []string `json:"voice_actors,omitempty"`
}

// RawMedia is the validated, source-neutral shape every adapter decodes
// into. Adapters are responsible for schema validation at the boundary;
// downstream transformer code may assume this shape without re-checking.
//
// Numeric scores are on the source's 0-100 scale; the transformer rescales.
type RawMedia struct {
	Source string    `json:"source"`
	Type   MediaType `json:"type"`

	AnilistID *int64 `json:"anilist_id,omitempty"`
	MALID     *int64 `json:"mal_id,omitempty"`
	KitsuID   *int64 `json:"kitsu_id,omitempty"`

	TitleRomaji  *string `json:"title_romaji,omitempty"`
	TitleEnglish *string `json:"title_english,omitempty"`
	TitleNative  *string `json:"title_native,omitempty"`

	Description *string `json:"description,omitempty"`
	CoverImage  *string `json:"cover_image,omitempty"`
	Color       *string `json:"color,omitempty"`

	AverageScore *int `json:"average_score,omitempty"` // 0-100
	AltScore     *int `json:"alt_score,omitempty"`     // secondary source score, 0-100
	Popularity   *int `json:"popularity,omitempty"`
	Favourites   *int `json:"favourites,omitempty"`
	Rank         *int `json:"rank,omitempty"`

	Status   *string `json:"status,omitempty"`
	Season   *string `json:"season,omitempty"`
	Episodes *int    `json:"episodes,omitempty"`
	Duration *int    `json:"duration,omitempty"`
	Chapters *int    `json:"chapters,omitempty"`
	Volumes  *int    `json:"volumes,omitempty"`

	StartDate FuzzyDate `json:"start_date"`
	EndDate   FuzzyDate `json:"end_date"`

	Genres     []string       `json:"genres,omitempty"`
	Tags       []RawTag       `json:"tags,omitempty"`
	Studios    []string       `json:"studios,omitempty"`
	Authors    []RawStaff     `json:"authors,omitempty"`
	Staff      []RawStaff     `json:"staff,omitempty"`
	Characters []RawCharacter `json:"characters,omitempty"`

	NextReleaseAt     *time.Time `json:"next_release_at,omitempty"`
	NextReleaseNumber *int       `json:"next_release_number,omitempty"`
}

// ExternalID returns the source-native identifier used for in-page
// deduplication, preferring the ID belonging to the record's source.
func (r *RawMedia) ExternalID() int64 {
	switch {
	case r.AnilistID != nil:
		return *r.AnilistID
	case r.KitsuID != nil:
		return *r.KitsuID
	case r.MALID != nil:
		return *r.MALID
	default:
		return 0
	}
}
