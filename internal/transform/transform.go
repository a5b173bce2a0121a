// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package transform maps raw source records into normalized relational rows.
//
// Every function here is pure and total: for any shape an adapter can emit,
// the transformer produces a valid row or the explicit ErrSkipRecord signal.
// It never panics and never performs I/O.
package transform

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/toriisync/torii/internal/models"
)

// ErrSkipRecord signals that a raw record carries too little information to
// form a valid row (no title in any language). The orchestrator counts the
// skip but does not treat it as a failure.
var ErrSkipRecord = errors.New("record has no usable title")

var (
	stripPolicy     *bluemonday.Policy
	stripPolicyOnce sync.Once
)

// stripHTMLPolicy returns the shared strict sanitizer policy. bluemonday
// policies are safe for concurrent use once built.
func stripHTMLPolicy() *bluemonday.Policy {
	stripPolicyOnce.Do(func() {
		stripPolicy = bluemonday.StrictPolicy()
	})
	return stripPolicy
}

// StripHTML removes all markup from a source description and normalizes
// whitespace. Sources embed <br>, <i> and entity-escaped fragments freely.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	// <br> separators become spaces rather than being glued together.
	s = strings.NewReplacer("<br>", " ", "<br/>", " ", "<br />", " ").Replace(s)
	s = stripHTMLPolicy().Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// TruncateSynopsis bounds a synopsis to max runes to respect storage
// constraints. Truncation is rune-safe; no ellipsis is appended.
func TruncateSynopsis(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// FormatDate converts a fragmentary source date into an ISO YYYY-MM-DD
// string. Missing month or day default to 01; a missing year yields nil.
// Out-of-range month/day values also default to 01 rather than failing.
func FormatDate(d models.FuzzyDate) *string {
	if d.Year == nil {
		return nil
	}
	month, day := 1, 1
	if d.Month != nil && *d.Month >= 1 && *d.Month <= 12 {
		month = *d.Month
	}
	if d.Day != nil && *d.Day >= 1 && *d.Day <= 31 {
		day = *d.Day
	}
	s := fmt.Sprintf("%04d-%02d-%02d", *d.Year, month, day)
	return &s
}

// RescaleScore converts a 0-100 source score to the stored 0-10 scale.
// A nil input stays nil - it must never collapse to 0, which would be a
// real (terrible) score.
func RescaleScore(score *int) *float64 {
	if score == nil {
		return nil
	}
	v := float64(*score) / 10.0
	return &v
}

// DisplayTitle resolves the display title by preference order:
// romaji, then English, then native. Empty strings count as absent.
func DisplayTitle(romaji, english, native *string) string {
	for _, candidate := range []*string{romaji, english, native} {
		if candidate != nil && strings.TrimSpace(*candidate) != "" {
			return strings.TrimSpace(*candidate)
		}
	}
	return ""
}

// TitleRow maps a raw record to a titles row. maxSynopsis bounds the cleaned
// synopsis length in runes. Returns ErrSkipRecord when the record has no
// title in any language.
func TitleRow(raw *models.RawMedia, maxSynopsis int) (*models.TitleRow, error) {
	display := DisplayTitle(raw.TitleRomaji, raw.TitleEnglish, raw.TitleNative)
	if display == "" {
		return nil, ErrSkipRecord
	}

	row := &models.TitleRow{
		AnilistID:     raw.AnilistID,
		MALID:         raw.MALID,
		KitsuID:       raw.KitsuID,
		Type:          raw.Type,
		Title:         display,
		TitleEnglish:  raw.TitleEnglish,
		TitleJapanese: raw.TitleNative,
		CoverImage:    raw.CoverImage,
		Color:         raw.Color,
		Score:         RescaleScore(raw.AverageScore),
		AltScore:      RescaleScore(raw.AltScore),
		Popularity:    raw.Popularity,
		Favourites:    raw.Favourites,
		Rank:          raw.Rank,
		Year:          raw.StartDate.Year,
		Slug:          Slug(display),
	}

	if raw.Description != nil {
		cleaned := TruncateSynopsis(StripHTML(*raw.Description), maxSynopsis)
		if cleaned != "" {
			row.Synopsis = &cleaned
		}
	}

	return row, nil
}

// AnimeDetails maps a raw record to an anime_details row for the given
// title.
func AnimeDetails(raw *models.RawMedia, titleID int64) *models.AnimeDetailsRow {
	return &models.AnimeDetailsRow{
		TitleID:           titleID,
		Episodes:          raw.Episodes,
		Duration:          raw.Duration,
		AiredFrom:         FormatDate(raw.StartDate),
		AiredTo:           FormatDate(raw.EndDate),
		Status:            raw.Status,
		Season:            raw.Season,
		NextEpisodeDate:   raw.NextReleaseAt,
		NextEpisodeNumber: raw.NextReleaseNumber,
	}
}

// MangaDetails maps a raw record to a manga_details row for the given
// title.
func MangaDetails(raw *models.RawMedia, titleID int64) *models.MangaDetailsRow {
	return &models.MangaDetailsRow{
		TitleID:           titleID,
		Chapters:          raw.Chapters,
		Volumes:           raw.Volumes,
		PublishedFrom:     FormatDate(raw.StartDate),
		PublishedTo:       FormatDate(raw.EndDate),
		Status:            raw.Status,
		NextChapterDate:   raw.NextReleaseAt,
		NextChapterNumber: raw.NextReleaseNumber,
	}
}
