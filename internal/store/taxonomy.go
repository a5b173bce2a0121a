// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/toriisync/torii/internal/models"
	"github.com/toriisync/torii/internal/transform"
)

// taxonomyTables whitelists the tables ensureNamed may touch. Table names
// are interpolated into SQL, so they must never come from request input.
var taxonomyTables = map[string]bool{
	"genres":       true,
	"studios":      true,
	"authors":      true,
	"content_tags": true,
	"people":       true,
	"characters":   true,
}

// ensureNamed is the atomic batch get-or-create for one taxonomy table.
// One round trip: INSERT ... ON CONFLICT (name) DO UPDATE SET name =
// EXCLUDED.name RETURNING id. The no-op update makes RETURNING yield the
// existing row's id on conflict, so a concurrent insert of the same name
// resolves to the same id instead of erroring.
//
// Returns ids keyed by name plus the number of entities actually created.
func (s *Store) ensureNamed(ctx context.Context, table string, names []string) (map[string]int64, int, error) {
	if !taxonomyTables[table] {
		return nil, 0, fmt.Errorf("unknown taxonomy table %q", table)
	}

	// Dedupe while preserving nothing but membership; blank names are
	// skipped rather than stored.
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		unique = append(unique, trimmed)
	}
	if len(unique) == 0 {
		return map[string]int64{}, 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + table + " (name, slug) VALUES ")
	args := make([]interface{}, 0, len(unique)*2)
	for i, name := range unique {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, name, transform.Slug(name))
	}
	sb.WriteString(" ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name, (xmax = 0)")

	start := time.Now()
	rows, err := s.pool.Query(ctx, sb.String(), args...)
	observe("ensure", table, start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to ensure %s: %w", table, err)
	}
	defer rows.Close()

	ids := make(map[string]int64, len(unique))
	created := 0
	for rows.Next() {
		var id int64
		var name string
		var fresh bool
		if err := rows.Scan(&id, &name, &fresh); err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		ids[name] = id
		if fresh {
			created++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read %s rows: %w", table, err)
	}
	return ids, created, nil
}

// EnsureGenres resolves genre names to ids, creating any that are missing.
func (s *Store) EnsureGenres(ctx context.Context, names []string) (map[string]int64, int, error) {
	return s.ensureNamed(ctx, "genres", names)
}

// EnsureStudios resolves studio names to ids.
func (s *Store) EnsureStudios(ctx context.Context, names []string) (map[string]int64, int, error) {
	return s.ensureNamed(ctx, "studios", names)
}

// EnsureAuthors resolves author names to ids.
func (s *Store) EnsureAuthors(ctx context.Context, names []string) (map[string]int64, int, error) {
	return s.ensureNamed(ctx, "authors", names)
}

// EnsureContentTags resolves content tag names to ids.
func (s *Store) EnsureContentTags(ctx context.Context, names []string) (map[string]int64, int, error) {
	return s.ensureNamed(ctx, "content_tags", names)
}

// EnsurePeople resolves staff/voice-actor names to ids.
func (s *Store) EnsurePeople(ctx context.Context, names []string) (map[string]int64, int, error) {
	return s.ensureNamed(ctx, "people", names)
}

// EnsureCharacters resolves character names to ids.
func (s *Store) EnsureCharacters(ctx context.Context, names []string) (map[string]int64, int, error) {
	return s.ensureNamed(ctx, "characters", names)
}

// junctionSpec describes one title junction table: which column holds the
// entity id and which edge metadata columns it carries.
type junctionSpec struct {
	table     string
	entityCol string
	extras    []string
}

// RelationshipKind selects a junction table for LinkRelationships.
type RelationshipKind string

const (
	RelGenres     RelationshipKind = "genres"
	RelStudios    RelationshipKind = "studios"
	RelAuthors    RelationshipKind = "authors"
	RelTags       RelationshipKind = "tags"
	RelPeople     RelationshipKind = "people"
	RelCharacters RelationshipKind = "characters"
)

var junctionSpecs = map[RelationshipKind]junctionSpec{
	RelGenres:     {table: "title_genres", entityCol: "genre_id", extras: []string{"source"}},
	RelStudios:    {table: "title_studios", entityCol: "studio_id", extras: []string{"is_main", "source"}},
	RelAuthors:    {table: "title_authors", entityCol: "author_id", extras: []string{"role", "source"}},
	RelTags:       {table: "title_content_tags", entityCol: "tag_id", extras: []string{"rank", "is_spoiler", "source"}},
	RelPeople:     {table: "title_people", entityCol: "person_id", extras: []string{"role", "source"}},
	RelCharacters: {table: "title_content_characters", entityCol: "character_id", extras: []string{"role", "is_main", "source"}},
}

// LinkRelationships writes the junction rows between one title and a set of
// taxonomy entities.
//
// In replace mode all existing rows for the title are deleted first inside
// one transaction, so the set reflects the source's current snapshot
// atomically. In additive mode rows are inserted with ON CONFLICT DO
// NOTHING so independent sources can contribute without clobbering each
// other. Returns the number of rows actually created.
func (s *Store) LinkRelationships(ctx context.Context, kind RelationshipKind, titleID int64, rels []models.Relationship, mode models.LinkMode) (int, error) {
	spec, ok := junctionSpecs[kind]
	if !ok {
		return 0, fmt.Errorf("unknown relationship kind %q", kind)
	}

	start := time.Now()
	created, err := s.linkRelationships(ctx, spec, titleID, rels, mode)
	observe("link", spec.table, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to link %s for title %d: %w", kind, titleID, err)
	}
	return created, nil
}

func (s *Store) linkRelationships(ctx context.Context, spec junctionSpec, titleID int64, rels []models.Relationship, mode models.LinkMode) (int, error) {
	if mode == models.LinkReplace {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, "DELETE FROM "+spec.table+" WHERE title_id = $1", titleID); err != nil {
			return 0, fmt.Errorf("failed to clear existing rows: %w", err)
		}
		created, err := insertJunctionRows(ctx, tx, spec, titleID, rels)
		if err != nil {
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("failed to commit: %w", err)
		}
		return created, nil
	}

	return insertJunctionRows(ctx, s.pool, spec, titleID, rels)
}

// pgxExecer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// insertJunctionRows builds one multi-row VALUES insert with ON CONFLICT DO
// NOTHING and reports how many rows landed.
func insertJunctionRows(ctx context.Context, db pgxExecer, spec junctionSpec, titleID int64, rels []models.Relationship) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}

	cols := append([]string{"title_id", spec.entityCol}, spec.extras...)
	var sb strings.Builder
	sb.WriteString("INSERT INTO " + spec.table + " (" + strings.Join(cols, ", ") + ") VALUES ")

	args := make([]interface{}, 0, len(rels)*len(cols))
	argn := 0
	next := func() string {
		argn++
		return fmt.Sprintf("$%d", argn)
	}

	// Entity ids may repeat within one batch (upstream duplication); the
	// conflict clause absorbs them.
	for i, rel := range rels {
		if i > 0 {
			sb.WriteString(", ")
		}
		placeholders := make([]string, 0, len(cols))
		placeholders = append(placeholders, next(), next())
		args = append(args, titleID, rel.EntityID)
		for _, extra := range spec.extras {
			placeholders = append(placeholders, next())
			args = append(args, extraValue(&rel, extra))
		}
		sb.WriteString("(" + strings.Join(placeholders, ", ") + ")")
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	tag, err := db.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert junction rows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func extraValue(rel *models.Relationship, column string) interface{} {
	switch column {
	case "role":
		return rel.Role
	case "rank":
		return rel.Rank
	case "is_main":
		return rel.IsMain
	case "is_spoiler":
		return rel.IsSpoiler
	case "source":
		return rel.Source
	default:
		return nil
	}
}

// LinkVoiceActors records the credited voice actors for a character.
// Always additive: credits accumulate across syncs.
func (s *Store) LinkVoiceActors(ctx context.Context, characterID int64, personIDs []int64) (int, error) {
	if len(personIDs) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO character_voice_actors (character_id, person_id) VALUES ")
	args := make([]interface{}, 0, len(personIDs)*2)
	for i, pid := range personIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, characterID, pid)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	start := time.Now()
	tag, err := s.pool.Exec(ctx, sb.String(), args...)
	observe("link", "character_voice_actors", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to link voice actors for character %d: %w", characterID, err)
	}
	return int(tag.RowsAffected()), nil
}
