// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/metrics"
	"github.com/toriisync/torii/internal/models"
)

// anilistQuery requests the full field set in one query per page to
// minimize round-trips against the ~90 req/min quota: titles, dates,
// genres, tags, studios, staff, characters and the airing schedule.
const anilistQuery = `query ($page: Int, $perPage: Int, $type: MediaType) {
  Page(page: $page, perPage: $perPage) {
    pageInfo { hasNextPage }
    media(type: $type, sort: POPULARITY_DESC) {
      id
      idMal
      title { romaji english native }
      description
      startDate { year month day }
      endDate { year month day }
      season
      episodes
      duration
      chapters
      volumes
      status
      averageScore
      popularity
      favourites
      coverImage { extraLarge color }
      genres
      tags { name rank isMediaSpoiler }
      studios(isMain: true) { nodes { name } }
      staff(perPage: 8) { edges { role node { name { full } } } }
      characters(perPage: 10, sort: ROLE) {
        edges {
          role
          node { name { full } }
          voiceActors(language: JAPANESE) { name { full } }
        }
      }
      nextAiringEpisode { airingAt episode }
    }
  }
}`

// AniListClient is the AniList GraphQL adapter.
type AniListClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Adapter = (*AniListClient)(nil)

// NewAniListClient creates an AniList adapter from source configuration.
func NewAniListClient(cfg *config.SourceConfig) *AniListClient {
	return &AniListClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: newHTTPClient(),
	}
}

// Name returns the source identifier.
func (c *AniListClient) Name() string { return "anilist" }

// anilistMedia is the decoded GraphQL media node.
type anilistMedia struct {
	ID           int64            `json:"id"`
	IDMal        *int64           `json:"idMal"`
	Title        anilistTitle     `json:"title"`
	Description  *string          `json:"description"`
	StartDate    models.FuzzyDate `json:"startDate"`
	EndDate      models.FuzzyDate `json:"endDate"`
	Season       *string          `json:"season"`
	Episodes     *int             `json:"episodes"`
	Duration     *int             `json:"duration"`
	Chapters     *int             `json:"chapters"`
	Volumes      *int             `json:"volumes"`
	Status       *string          `json:"status"`
	AverageScore *int             `json:"averageScore"`
	Popularity   *int             `json:"popularity"`
	Favourites   *int             `json:"favourites"`
	CoverImage   struct {
		ExtraLarge *string `json:"extraLarge"`
		Color      *string `json:"color"`
	} `json:"coverImage"`
	Genres []string `json:"genres"`
	Tags   []struct {
		Name           string `json:"name"`
		Rank           *int   `json:"rank"`
		IsMediaSpoiler bool   `json:"isMediaSpoiler"`
	} `json:"tags"`
	Studios struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"studios"`
	Staff struct {
		Edges []struct {
			Role string          `json:"role"`
			Node anilistNameNode `json:"node"`
		} `json:"edges"`
	} `json:"staff"`
	Characters struct {
		Edges []struct {
			Role        string            `json:"role"`
			Node        anilistNameNode   `json:"node"`
			VoiceActors []anilistNameNode `json:"voiceActors"`
		} `json:"edges"`
	} `json:"characters"`
	NextAiringEpisode *struct {
		AiringAt int64 `json:"airingAt"`
		Episode  int   `json:"episode"`
	} `json:"nextAiringEpisode"`
}

type anilistTitle struct {
	Romaji  *string `json:"romaji"`
	English *string `json:"english"`
	Native  *string `json:"native"`
}

type anilistNameNode struct {
	Name struct {
		Full string `json:"full"`
	} `json:"name"`
}

type anilistResponse struct {
	Data *struct {
		Page struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			Media []anilistMedia `json:"media"`
		} `json:"Page"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchPage executes one GraphQL query for the given page.
func (c *AniListClient) FetchPage(ctx context.Context, mediaType models.MediaType, page, perPage int) (*Page, error) {
	gqlType := "ANIME"
	if mediaType == models.MediaTypeManga {
		gqlType = "MANGA"
	}

	body, err := json.Marshal(map[string]interface{}{
		"query": anilistQuery,
		"variables": map[string]interface{}{
			"page":    page,
			"perPage": perPage,
			"type":    gqlType,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anilist query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create anilist request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: anilist request failed: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.ObserveSourceRequest(c.Name(), string(mediaType), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: anilist returned status %d: %s",
			ErrUnavailable, resp.StatusCode, readBodyForError(resp.Body))
	}

	var decoded anilistResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "protocol").Inc()
		return nil, fmt.Errorf("%w: failed to decode anilist response: %v", ErrProtocol, err)
	}

	// A GraphQL-level errors array is a protocol failure even on HTTP 200.
	if len(decoded.Errors) > 0 {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "protocol").Inc()
		return nil, fmt.Errorf("%w: anilist graphql error: %s", ErrProtocol, decoded.Errors[0].Message)
	}
	if decoded.Data == nil {
		metrics.SourceRequestErrors.WithLabelValues(c.Name(), "protocol").Inc()
		return nil, fmt.Errorf("%w: anilist response missing data", ErrProtocol)
	}

	items := make([]models.RawMedia, 0, len(decoded.Data.Page.Media))
	for i := range decoded.Data.Page.Media {
		items = append(items, c.toRawMedia(&decoded.Data.Page.Media[i], mediaType))
	}

	return &Page{Items: items, HasNext: decoded.Data.Page.PageInfo.HasNextPage}, nil
}

// toRawMedia maps one decoded GraphQL node to the source-neutral shape.
func (c *AniListClient) toRawMedia(m *anilistMedia, mediaType models.MediaType) models.RawMedia {
	anilistID := m.ID
	raw := models.RawMedia{
		Source:       c.Name(),
		Type:         mediaType,
		AnilistID:    &anilistID,
		MALID:        m.IDMal,
		TitleRomaji:  m.Title.Romaji,
		TitleEnglish: m.Title.English,
		TitleNative:  m.Title.Native,
		Description:  m.Description,
		CoverImage:   m.CoverImage.ExtraLarge,
		Color:        m.CoverImage.Color,
		AverageScore: m.AverageScore,
		Popularity:   m.Popularity,
		Favourites:   m.Favourites,
		Status:       m.Status,
		Season:       m.Season,
		Episodes:     m.Episodes,
		Duration:     m.Duration,
		Chapters:     m.Chapters,
		Volumes:      m.Volumes,
		StartDate:    m.StartDate,
		EndDate:      m.EndDate,
		Genres:       m.Genres,
	}

	for _, tag := range m.Tags {
		raw.Tags = append(raw.Tags, models.RawTag{
			Name:      tag.Name,
			Rank:      tag.Rank,
			IsSpoiler: tag.IsMediaSpoiler,
		})
	}

	for _, node := range m.Studios.Nodes {
		if node.Name != "" {
			raw.Studios = append(raw.Studios, node.Name)
		}
	}

	for _, edge := range m.Staff.Edges {
		name := edge.Node.Name.Full
		if name == "" {
			continue
		}
		role := edge.Role
		credit := models.RawStaff{Name: name, Role: &role}
		if mediaType == models.MediaTypeManga && isAuthorRole(role) {
			raw.Authors = append(raw.Authors, credit)
		} else {
			raw.Staff = append(raw.Staff, credit)
		}
	}

	for _, edge := range m.Characters.Edges {
		name := edge.Node.Name.Full
		if name == "" {
			continue
		}
		role := edge.Role
		char := models.RawCharacter{
			Name:   name,
			Role:   &role,
			IsMain: strings.EqualFold(role, "MAIN"),
		}
		for _, va := range edge.VoiceActors {
			if va.Name.Full != "" {
				char.VoiceActors = append(char.VoiceActors, va.Name.Full)
			}
		}
		raw.Characters = append(raw.Characters, char)
	}

	if m.NextAiringEpisode != nil && m.NextAiringEpisode.AiringAt > 0 {
		at := time.Unix(m.NextAiringEpisode.AiringAt, 0).UTC()
		episode := m.NextAiringEpisode.Episode
		raw.NextReleaseAt = &at
		raw.NextReleaseNumber = &episode
	}

	return raw
}

// isAuthorRole reports whether an AniList staff role is a manga authorship
// credit ("Story", "Art", "Story & Art").
func isAuthorRole(role string) bool {
	lower := strings.ToLower(role)
	return strings.Contains(lower, "story") || strings.Contains(lower, "art")
}
