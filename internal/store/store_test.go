// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package store

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toriisync/torii/internal/models"
)

func int64Ptr(i int64) *int64 { return &i }

func TestTitleConflictColumn(t *testing.T) {
	tests := []struct {
		name    string
		row     models.TitleRow
		want    string
		wantErr bool
	}{
		{
			name: "anilist preferred",
			row:  models.TitleRow{AnilistID: int64Ptr(1), MALID: int64Ptr(2), KitsuID: int64Ptr(3)},
			want: "anilist_id",
		},
		{
			name: "kitsu before mal",
			row:  models.TitleRow{MALID: int64Ptr(2), KitsuID: int64Ptr(3)},
			want: "kitsu_id",
		},
		{
			name: "mal only",
			row:  models.TitleRow{MALID: int64Ptr(2)},
			want: "mal_id",
		},
		{
			name:    "no external id",
			row:     models.TitleRow{Title: "Orphan"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := titleConflictColumn(&tt.row)
			if tt.wantErr {
				if err == nil {
					t.Fatal("titleConflictColumn() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("titleConflictColumn() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("titleConflictColumn() = %s, want %s", got, tt.want)
			}
		})
	}
}

// fakeExecer captures the generated SQL and arguments.
type fakeExecer struct {
	sql  string
	args []interface{}
	tag  pgconn.CommandTag
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return f.tag, nil
}

func TestInsertJunctionRows(t *testing.T) {
	fake := &fakeExecer{tag: pgconn.NewCommandTag("INSERT 0 2")}
	rels := []models.Relationship{
		{EntityID: 10, Source: "anilist"},
		{EntityID: 11, Source: "anilist"},
	}

	created, err := insertJunctionRows(context.Background(), fake, junctionSpecs[RelGenres], 7, rels)
	if err != nil {
		t.Fatalf("insertJunctionRows() error = %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}
	if !strings.HasPrefix(fake.sql, "INSERT INTO title_genres (title_id, genre_id, source) VALUES ") {
		t.Errorf("sql prefix = %q", fake.sql)
	}
	if !strings.HasSuffix(fake.sql, " ON CONFLICT DO NOTHING") {
		t.Errorf("sql suffix = %q", fake.sql)
	}
	want := []interface{}{int64(7), int64(10), "anilist", int64(7), int64(11), "anilist"}
	if len(fake.args) != len(want) {
		t.Fatalf("len(args) = %d, want %d", len(fake.args), len(want))
	}
	for i := range want {
		if fake.args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, fake.args[i], want[i])
		}
	}
}

func TestInsertJunctionRowsEdgeMetadata(t *testing.T) {
	fake := &fakeExecer{tag: pgconn.NewCommandTag("INSERT 0 1")}
	rank := 90
	rels := []models.Relationship{
		{EntityID: 3, Rank: &rank, IsSpoiler: true, Source: "anilist"},
	}

	if _, err := insertJunctionRows(context.Background(), fake, junctionSpecs[RelTags], 1, rels); err != nil {
		t.Fatalf("insertJunctionRows() error = %v", err)
	}
	if !strings.Contains(fake.sql, "(title_id, tag_id, rank, is_spoiler, source)") {
		t.Errorf("sql = %q, want tag edge columns", fake.sql)
	}
	if got := fake.args[2].(*int); *got != 90 {
		t.Errorf("rank arg = %v, want 90", got)
	}
	if got := fake.args[3].(bool); !got {
		t.Error("is_spoiler arg = false, want true")
	}
}

func TestInsertJunctionRowsEmpty(t *testing.T) {
	fake := &fakeExecer{}
	created, err := insertJunctionRows(context.Background(), fake, junctionSpecs[RelStudios], 1, nil)
	if err != nil {
		t.Fatalf("insertJunctionRows() error = %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
	if fake.sql != "" {
		t.Errorf("sql = %q, want no statement for empty batch", fake.sql)
	}
}

func TestExtraValue(t *testing.T) {
	role := "Director"
	rel := models.Relationship{Role: &role, IsMain: true, Source: "anilist"}

	if got := extraValue(&rel, "role").(*string); *got != "Director" {
		t.Errorf("role = %v, want Director", got)
	}
	if got := extraValue(&rel, "is_main").(bool); !got {
		t.Error("is_main = false, want true")
	}
	if got := extraValue(&rel, "source").(string); got != "anilist" {
		t.Errorf("source = %v, want anilist", got)
	}
	if got := extraValue(&rel, "rank").(*int); got != nil {
		t.Errorf("rank = %v, want nil", got)
	}
}

func TestJunctionSpecsCoverAllKinds(t *testing.T) {
	kinds := []RelationshipKind{RelGenres, RelStudios, RelAuthors, RelTags, RelPeople, RelCharacters}
	for _, kind := range kinds {
		spec, ok := junctionSpecs[kind]
		if !ok {
			t.Errorf("no junction spec for %s", kind)
			continue
		}
		if spec.table == "" || spec.entityCol == "" {
			t.Errorf("incomplete spec for %s: %+v", kind, spec)
		}
	}
}

func TestUpsertTitleSQLIsSparse(t *testing.T) {
	// Every updatable column must go through COALESCE so a nil field from a
	// thinner source never overwrites stored data. The SQL aligns columns
	// with padding, so collapse whitespace before matching.
	flat := strings.Join(strings.Fields(upsertTitleSQL), " ")
	for _, col := range []string{"synopsis", "score", "alt_score", "cover_image", "popularity", "year"} {
		want := col + " = COALESCE(EXCLUDED." + col
		if !strings.Contains(flat, want) {
			t.Errorf("upsertTitleSQL missing sparse update for %s", col)
		}
	}
}
