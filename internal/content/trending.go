// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package content

import (
	"sort"
	"strings"
	"time"

	"github.com/toriisync/torii/internal/models"
)

// audienceTermCap bounds each audience-size term (popularity, favourites).
// Uncapped, a classic with millions of members out-scores every recency and
// airing bonus combined, which inverts what "trending" means.
const audienceTermCap = 100

// trendingScore weighs a title for the trending view. Audience-size terms
// are capped so recency and "currently releasing" dominate them: a new
// airing show must outrank an old classic with ten times the members.
func trendingScore(item *models.ContentItem, now time.Time) float64 {
	var score float64

	if item.Popularity != nil {
		score += min(float64(*item.Popularity)/1000, audienceTermCap)
	}
	if item.Favourites != nil {
		score += min(float64(*item.Favourites)/10, audienceTermCap)
	}
	if item.Score != nil {
		score += *item.Score * 100
	}
	if item.AltScore != nil {
		score += *item.AltScore * 80
	}

	days := now.Sub(item.CreatedAt).Hours() / 24
	if bonus := 30 - days; bonus > 0 {
		score += bonus * 10
	}

	if item.Status != nil && releasingNow(*item.Status, item.Type) {
		if item.Type == models.MediaTypeAnime {
			score += 50
		} else {
			score += 40
		}
	}
	if item.NextReleaseAt != nil && item.NextReleaseAt.After(now) {
		if item.Type == models.MediaTypeAnime {
			score += 30
		} else {
			score += 25
		}
	}

	return score
}

// releasingNow matches the status vocabularies of all three sources:
// AniList RELEASING, Kitsu current, Jikan "Currently Airing"/"Publishing".
func releasingNow(status string, mediaType models.MediaType) bool {
	s := strings.ToLower(status)
	switch mediaType {
	case models.MediaTypeAnime:
		return s == "releasing" || s == "current" || strings.Contains(s, "airing") && !strings.Contains(s, "finished")
	case models.MediaTypeManga:
		return s == "releasing" || s == "current" || strings.Contains(s, "publishing")
	default:
		return false
	}
}

// sortByTrendingScore orders items by descending trending score, stable so
// equal scores keep the store's popularity order.
func sortByTrendingScore(items []models.ContentItem, now time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return trendingScore(&items[i], now) > trendingScore(&items[j], now)
	})
}
