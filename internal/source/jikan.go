// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package source

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/metrics"
	"github.com/toriisync/torii/internal/models"
)

// JikanClient is the Jikan (unofficial MyAnimeList) REST adapter. Jikan is
// the fallback source: plain paged GETs, no relationship expansion, strict
// public rate limits.
type JikanClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Adapter = (*JikanClient)(nil)

// NewJikanClient creates a Jikan adapter from source configuration.
func NewJikanClient(cfg *config.SourceConfig) *JikanClient {
	return &JikanClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: newHTTPClient(),
	}
}

// Name returns the source identifier.
func (c *JikanClient) Name() string { return "jikan" }

type jikanNamed struct {
	Name string `json:"name"`
}

type jikanDateRange struct {
	From *string `json:"from"` // ISO 8601, e.g. "2023-04-01T00:00:00+00:00"
	To   *string `json:"to"`
}

type jikanMedia struct {
	MALID         int64          `json:"mal_id"`
	Title         *string        `json:"title"`
	TitleEnglish  *string        `json:"title_english"`
	TitleJapanese *string        `json:"title_japanese"`
	Synopsis      *string        `json:"synopsis"`
	Score         *float64       `json:"score"` // 0-10
	Rank          *int           `json:"rank"`
	Members       *int           `json:"members"`
	Favorites     *int           `json:"favorites"`
	Status        *string        `json:"status"`
	Episodes      *int           `json:"episodes"`
	Chapters      *int           `json:"chapters"`
	Volumes       *int           `json:"volumes"`
	Aired         jikanDateRange `json:"aired"`
	Published     jikanDateRange `json:"published"`
	Images        struct {
		JPG struct {
			LargeImageURL *string `json:"large_image_url"`
		} `json:"jpg"`
	} `json:"images"`
	Genres  []jikanNamed `json:"genres"`
	Themes  []jikanNamed `json:"themes"`
	Studios []jikanNamed `json:"studios"`
	Authors []jikanNamed `json:"authors"`
}

type jikanResponse struct {
	Data       []jikanMedia `json:"data"`
	Pagination struct {
		HasNextPage bool `json:"has_next_page"`
	} `json:"pagination"`
}

// FetchPage fetches one page of the /anime or /manga listing.
func (c *JikanClient) FetchPage(ctx context.Context, mediaType models.MediaType, page, perPage int) (*Page, error) {
	resource := "anime"
	if mediaType == models.MediaTypeManga {
		resource = "manga"
	}

	reqURL := fmt.Sprintf("%s/%s?page=%d&limit=%d&order_by=members&sort=desc",
		c.baseURL, resource, page, perPage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create jikan request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: jikan request failed: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveSourceRequest(c.Name(), string(mediaType), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: jikan returned status %d: %s",
			ErrUnavailable, resp.StatusCode, readBodyForError(resp.Body))
	}

	var decoded jikanResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "protocol").Inc()
		return nil, fmt.Errorf("%w: failed to decode jikan response: %v", ErrProtocol, err)
	}

	items := make([]models.RawMedia, 0, len(decoded.Data))
	for i := range decoded.Data {
		items = append(items, c.toRawMedia(&decoded.Data[i], mediaType))
	}

	return &Page{Items: items, HasNext: decoded.Pagination.HasNextPage}, nil
}

func (c *JikanClient) toRawMedia(m *jikanMedia, mediaType models.MediaType) models.RawMedia {
	raw := models.RawMedia{
		Source:       c.Name(),
		Type:         mediaType,
		MALID:        &m.MALID,
		TitleRomaji:  m.Title,
		TitleEnglish: m.TitleEnglish,
		TitleNative:  m.TitleJapanese,
		Description:  m.Synopsis,
		CoverImage:   m.Images.JPG.LargeImageURL,
		Popularity:   m.Members,
		Favourites:   m.Favorites,
		Rank:         m.Rank,
		Status:       m.Status,
		Episodes:     m.Episodes,
		Chapters:     m.Chapters,
		Volumes:      m.Volumes,
	}

	// Jikan scores on a 0-10 scale; normalize to the 0-100 raw scale.
	if m.Score != nil {
		score := int(math.Round(*m.Score * 10))
		raw.AltScore = &score
	}

	dates := m.Aired
	if mediaType == models.MediaTypeManga {
		dates = m.Published
	}
	raw.StartDate = parseISODate(dates.From)
	raw.EndDate = parseISODate(dates.To)

	for _, g := range m.Genres {
		if g.Name != "" {
			raw.Genres = append(raw.Genres, g.Name)
		}
	}
	for _, t := range m.Themes {
		if t.Name != "" {
			raw.Tags = append(raw.Tags, models.RawTag{Name: t.Name})
		}
	}
	for _, s := range m.Studios {
		if s.Name != "" {
			raw.Studios = append(raw.Studios, s.Name)
		}
	}
	for _, a := range m.Authors {
		if a.Name != "" {
			raw.Authors = append(raw.Authors, models.RawStaff{Name: a.Name})
		}
	}

	return raw
}

// MatchTitle reports whether two titles plausibly name the same work.
// Jikan records carry no AniList or Kitsu IDs, so enrichment merges fall
// back to title comparison. Matching is case- and diacritic-insensitive
// and tolerates small edit distances relative to title length.
func MatchTitle(a, b string) bool {
	na := normalizeTitle(a)
	nb := normalizeTitle(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}

	// Order so the shorter string is the candidate subsequence.
	if len(na) > len(nb) {
		na, nb = nb, na
	}
	rank := fuzzy.RankMatchNormalizedFold(na, nb)
	if rank < 0 {
		return false
	}
	return rank <= len(nb)/4
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
