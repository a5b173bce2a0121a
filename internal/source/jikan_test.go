// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/models"
)

func newJikanTestClient(t *testing.T, handler http.HandlerFunc) *JikanClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewJikanClient(&config.SourceConfig{BaseURL: srv.URL, PageSize: 25})
}

func TestJikanFetchPage(t *testing.T) {
	var gotPath, gotPage string
	client := newJikanTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPage = r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"pagination": {"has_next_page": true},
			"data": [{
				"mal_id": 5114,
				"title": "Fullmetal Alchemist: Brotherhood",
				"title_english": "Fullmetal Alchemist: Brotherhood",
				"title_japanese": "鋼の錬金術師",
				"synopsis": "Two brothers search for the stone.",
				"score": 9.09,
				"rank": 1,
				"members": 3500000,
				"favorites": 230000,
				"status": "Finished Airing",
				"episodes": 64,
				"aired": {"from": "2009-04-05T00:00:00+00:00", "to": "2010-07-04T00:00:00+00:00"},
				"images": {"jpg": {"large_image_url": "https://img.example/5114l.jpg"}},
				"genres": [{"name": "Action"}, {"name": "Adventure"}],
				"themes": [{"name": "Military"}],
				"studios": [{"name": "Bones"}]
			}]
		}`))
	})

	page, err := client.FetchPage(context.Background(), models.MediaTypeAnime, 4, 25)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	if gotPath != "/anime" || gotPage != "4" {
		t.Errorf("request = %s?page=%s, want /anime?page=4", gotPath, gotPage)
	}
	if !page.HasNext {
		t.Error("HasNext = false, want true")
	}
	if len(page.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(page.Items))
	}

	item := page.Items[0]
	if item.Source != "jikan" {
		t.Errorf("Source = %s, want jikan", item.Source)
	}
	if item.MALID == nil || *item.MALID != 5114 {
		t.Errorf("MALID = %v, want 5114", item.MALID)
	}
	// 9.09 on the 0-10 MAL scale becomes 91 on the 0-100 raw scale.
	if item.AltScore == nil || *item.AltScore != 91 {
		t.Errorf("AltScore = %v, want 91", item.AltScore)
	}
	if item.StartDate.Zero() || *item.StartDate.Year != 2009 || *item.StartDate.Month != 4 {
		t.Errorf("StartDate = %+v, want 2009-04", item.StartDate)
	}
	if len(item.Genres) != 2 || item.Genres[1] != "Adventure" {
		t.Errorf("Genres = %v, want [Action Adventure]", item.Genres)
	}
	if len(item.Tags) != 1 || item.Tags[0].Name != "Military" {
		t.Errorf("Tags = %+v, want [Military]", item.Tags)
	}
	if len(item.Studios) != 1 || item.Studios[0] != "Bones" {
		t.Errorf("Studios = %v, want [Bones]", item.Studios)
	}
}

func TestJikanMangaUsesPublishedDates(t *testing.T) {
	client := newJikanTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manga" {
			t.Errorf("path = %s, want /manga", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"pagination": {"has_next_page": false},
			"data": [{
				"mal_id": 2,
				"title": "Berserk",
				"chapters": 364,
				"volumes": 41,
				"aired": {"from": null, "to": null},
				"published": {"from": "1989-08-25T00:00:00+00:00", "to": null},
				"authors": [{"name": "Miura, Kentarou"}]
			}]
		}`))
	})

	page, err := client.FetchPage(context.Background(), models.MediaTypeManga, 1, 25)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	item := page.Items[0]
	if item.StartDate.Zero() || *item.StartDate.Year != 1989 {
		t.Errorf("StartDate = %+v, want 1989", item.StartDate)
	}
	if len(item.Authors) != 1 || item.Authors[0].Name != "Miura, Kentarou" {
		t.Errorf("Authors = %+v, want [Miura, Kentarou]", item.Authors)
	}
	if item.Chapters == nil || *item.Chapters != 364 {
		t.Errorf("Chapters = %v, want 364", item.Chapters)
	}
}

func TestJikanFetchPageErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
			},
			wantErr: ErrUnavailable,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>gateway timeout</html>`))
			},
			wantErr: ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newJikanTestClient(t, tt.handler)
			_, err := client.FetchPage(context.Background(), models.MediaTypeAnime, 1, 25)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchPage() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchTitle(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{name: "exact", a: "Attack on Titan", b: "Attack on Titan", want: true},
		{name: "case and spacing", a: "attack  on titan", b: "Attack on Titan", want: true},
		{name: "small divergence", a: "Fullmetal Alchemist Brotherhood", b: "Fullmetal Alchemist: Brotherhood", want: true},
		{name: "different works", a: "Naruto", b: "Bleach", want: false},
		{name: "empty", a: "", b: "Naruto", want: false},
		{name: "shared prefix different work", a: "Attack on Titan", b: "Attack on Titan: Junior High", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchTitle(tt.a, tt.b); got != tt.want {
				t.Errorf("MatchTitle(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
