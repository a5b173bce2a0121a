// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package sync

import (
	"context"
	"fmt"

	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/models"
	"github.com/toriisync/torii/internal/source"
	"github.com/toriisync/torii/internal/transform"
)

// enrichItem merges one MAL-backed record into an existing title. The
// record must fuzzy-match a candidate from the run's pool; anything else is
// skipped rather than inserted, so enrichment never grows the library.
func (o *Orchestrator) enrichItem(ctx context.Context, st *runState, raw *models.RawMedia) error {
	if raw.MALID == nil {
		return transform.ErrSkipRecord
	}

	idx := matchCandidate(st.candidates, raw)
	if idx < 0 {
		return transform.ErrSkipRecord
	}
	matched := st.candidates[idx]

	// Attach the MAL ID first so the sparse upsert below conflicts into the
	// matched row.
	if err := o.store.SetMALID(ctx, matched.ID, *raw.MALID); err != nil {
		return err
	}

	row, err := transform.TitleRow(raw, o.cfg.SynopsisMaxLen)
	if err != nil {
		return err
	}
	_, _, err = o.store.UpsertTitle(ctx, row)
	if err != nil {
		return fmt.Errorf("enrich %q: %w", matched.Title, err)
	}
	st.counts.TitlesUpdated++

	logging.Debug().
		Str("title", matched.Title).
		Int64("mal_id", *raw.MALID).
		Msg("Enriched title from MAL record")

	// Each candidate is enriched at most once per run.
	st.candidates[idx] = st.candidates[len(st.candidates)-1]
	st.candidates = st.candidates[:len(st.candidates)-1]
	return nil
}

// matchCandidate returns the index of the first candidate whose title
// fuzzy-matches the record, or -1.
func matchCandidate(candidates []models.TitleRow, raw *models.RawMedia) int {
	for _, name := range recordNames(raw) {
		for i := range candidates {
			if source.MatchTitle(name, candidates[i].Title) {
				return i
			}
			if candidates[i].TitleEnglish != nil && source.MatchTitle(name, *candidates[i].TitleEnglish) {
				return i
			}
		}
	}
	return -1
}

func recordNames(raw *models.RawMedia) []string {
	var names []string
	if raw.TitleEnglish != nil && *raw.TitleEnglish != "" {
		names = append(names, *raw.TitleEnglish)
	}
	if raw.TitleRomaji != nil && *raw.TitleRomaji != "" {
		names = append(names, *raw.TitleRomaji)
	}
	return names
}
