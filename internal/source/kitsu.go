// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package source

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/metrics"
	"github.com/toriisync/torii/internal/models"
)

// KitsuClient is the Kitsu JSON:API adapter. Kitsu paginates via
// offset/limit and ships related resources (genres, categories) through the
// JSON:API include/sparse-fieldset mechanism, which keeps one page to one
// round trip.
type KitsuClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Adapter = (*KitsuClient)(nil)

// NewKitsuClient creates a Kitsu adapter from source configuration.
func NewKitsuClient(cfg *config.SourceConfig) *KitsuClient {
	return &KitsuClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: newHTTPClient(),
	}
}

// Name returns the source identifier.
func (c *KitsuClient) Name() string { return "kitsu" }

// kitsuResource is one JSON:API resource object (primary or included).
type kitsuResource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		// Media attributes
		CanonicalTitle string `json:"canonicalTitle"`
		Titles         struct {
			En   string `json:"en"`
			EnJp string `json:"en_jp"`
			JaJp string `json:"ja_jp"`
		} `json:"titles"`
		Synopsis       *string `json:"synopsis"`
		AverageRating  *string `json:"averageRating"` // "82.5", 0-100 scale
		PopularityRank *int    `json:"popularityRank"`
		RatingRank     *int    `json:"ratingRank"`
		FavoritesCount *int    `json:"favoritesCount"`
		UserCount      *int    `json:"userCount"`
		StartDate      *string `json:"startDate"` // "2023-04-05"
		EndDate        *string `json:"endDate"`
		Status         *string `json:"status"`
		EpisodeCount   *int    `json:"episodeCount"`
		EpisodeLength  *int    `json:"episodeLength"`
		ChapterCount   *int    `json:"chapterCount"`
		VolumeCount    *int    `json:"volumeCount"`
		PosterImage    struct {
			Large *string `json:"large"`
		} `json:"posterImage"`

		// Taxonomy attributes (genres, categories)
		Name  *string `json:"name"`
		Title *string `json:"title"`
	} `json:"attributes"`
	Relationships map[string]struct {
		Data json.RawMessage `json:"data"`
	} `json:"relationships"`
}

// kitsuRef is one JSON:API relationship linkage {type, id}.
type kitsuRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type kitsuResponse struct {
	Data     []kitsuResource `json:"data"`
	Included []kitsuResource `json:"included"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

// FetchPage fetches one offset/limit page with genres and categories
// included as sparse fieldsets.
func (c *KitsuClient) FetchPage(ctx context.Context, mediaType models.MediaType, page, perPage int) (*Page, error) {
	resource := "anime"
	if mediaType == models.MediaTypeManga {
		resource = "manga"
	}

	params := url.Values{}
	params.Set("page[limit]", strconv.Itoa(perPage))
	params.Set("page[offset]", strconv.Itoa((page-1)*perPage))
	params.Set("include", "genres,categories")
	params.Set("fields[genres]", "name")
	params.Set("fields[categories]", "title")
	params.Set("sort", "popularityRank")

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, resource, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create kitsu request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: kitsu request failed: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveSourceRequest(c.Name(), string(mediaType), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: kitsu returned status %d: %s",
			ErrUnavailable, resp.StatusCode, readBodyForError(resp.Body))
	}

	var decoded kitsuResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "protocol").Inc()
		return nil, fmt.Errorf("%w: failed to decode kitsu response: %v", ErrProtocol, err)
	}

	// Resolve included resources by (type, id) so relationship linkage
	// lookups are O(1) per reference.
	included := make(map[string]*kitsuResource, len(decoded.Included))
	for i := range decoded.Included {
		inc := &decoded.Included[i]
		included[inc.Type+":"+inc.ID] = inc
	}

	items := make([]models.RawMedia, 0, len(decoded.Data))
	for i := range decoded.Data {
		items = append(items, c.toRawMedia(&decoded.Data[i], mediaType, included))
	}

	return &Page{Items: items, HasNext: decoded.Links.Next != ""}, nil
}

// toRawMedia maps one primary resource plus its resolved includes.
func (c *KitsuClient) toRawMedia(res *kitsuResource, mediaType models.MediaType, included map[string]*kitsuResource) models.RawMedia {
	raw := models.RawMedia{
		Source:      c.Name(),
		Type:        mediaType,
		Description: res.Attributes.Synopsis,
		CoverImage:  res.Attributes.PosterImage.Large,
		Popularity:  res.Attributes.UserCount,
		Favourites:  res.Attributes.FavoritesCount,
		Rank:        res.Attributes.RatingRank,
		Status:      res.Attributes.Status,
		Episodes:    res.Attributes.EpisodeCount,
		Duration:    res.Attributes.EpisodeLength,
		Chapters:    res.Attributes.ChapterCount,
		Volumes:     res.Attributes.VolumeCount,
		StartDate:   parseISODate(res.Attributes.StartDate),
		EndDate:     parseISODate(res.Attributes.EndDate),
	}

	if id, err := strconv.ParseInt(res.ID, 10, 64); err == nil {
		raw.KitsuID = &id
	}

	if t := res.Attributes.Titles.EnJp; t != "" {
		raw.TitleRomaji = &t
	} else if t := res.Attributes.CanonicalTitle; t != "" {
		raw.TitleRomaji = &t
	}
	if t := res.Attributes.Titles.En; t != "" {
		raw.TitleEnglish = &t
	}
	if t := res.Attributes.Titles.JaJp; t != "" {
		raw.TitleNative = &t
	}

	// Kitsu rates on a 0-100 scale serialized as a decimal string.
	if res.Attributes.AverageRating != nil {
		if f, err := strconv.ParseFloat(*res.Attributes.AverageRating, 64); err == nil {
			score := int(math.Round(f))
			raw.AltScore = &score
		}
	}

	for _, ref := range c.relationshipRefs(res, "genres") {
		if inc, ok := included["genres:"+ref.ID]; ok && inc.Attributes.Name != nil {
			raw.Genres = append(raw.Genres, *inc.Attributes.Name)
		}
	}
	for _, ref := range c.relationshipRefs(res, "categories") {
		if inc, ok := included["categories:"+ref.ID]; ok && inc.Attributes.Title != nil {
			raw.Tags = append(raw.Tags, models.RawTag{Name: *inc.Attributes.Title})
		}
	}

	return raw
}

// relationshipRefs extracts the linkage list for one relationship name.
// JSON:API allows both a single object and an array here.
func (c *KitsuClient) relationshipRefs(res *kitsuResource, name string) []kitsuRef {
	rel, ok := res.Relationships[name]
	if !ok || len(rel.Data) == 0 {
		return nil
	}

	var refs []kitsuRef
	if err := json.Unmarshal(rel.Data, &refs); err == nil {
		return refs
	}

	var single kitsuRef
	if err := json.Unmarshal(rel.Data, &single); err == nil && single.ID != "" {
		return []kitsuRef{single}
	}
	return nil
}

// parseISODate converts a "YYYY-MM-DD" (optionally with a time suffix)
// string into a fuzzy date. Unparseable input yields an empty date, never
// an error.
func parseISODate(s *string) models.FuzzyDate {
	if s == nil || *s == "" {
		return models.FuzzyDate{}
	}
	datePart := *s
	if idx := strings.IndexByte(datePart, 'T'); idx > 0 {
		datePart = datePart[:idx]
	}
	t, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return models.FuzzyDate{}
	}
	year, month, day := t.Year(), int(t.Month()), t.Day()
	return models.FuzzyDate{Year: &year, Month: &month, Day: &day}
}
