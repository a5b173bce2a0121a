// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package models

// SyncRequest is the inbound body that triggers a sync run.
type SyncRequest struct {
	Source      string `json:"source" validate:"required,oneof=anilist kitsu jikan"`
	ContentType string `json:"contentType" validate:"required,oneof=anime manga"`
	MaxPages    int    `json:"maxPages" validate:"omitempty,min=1,max=500"`
	StartPage   int    `json:"startPage" validate:"omitempty,min=1"`
}

// SyncCounts aggregates per-entity creation counts for one sync run. The
// error list is capped for response size; the full count of failures is in
// ErrorCount.
type SyncCounts struct {
	TitlesInserted       int      `json:"titlesInserted"`
	TitlesUpdated        int      `json:"titlesUpdated"`
	DetailsInserted      int      `json:"detailsInserted"`
	GenresCreated        int      `json:"genresCreated"`
	StudiosCreated       int      `json:"studiosCreated"`
	AuthorsCreated       int      `json:"authorsCreated"`
	TagsCreated          int      `json:"tagsCreated"`
	PeopleCreated        int      `json:"peopleCreated"`
	CharactersCreated    int      `json:"charactersCreated"`
	RelationshipsCreated int      `json:"relationshipsCreated"`
	Errors               []string `json:"errors"`
	ErrorCount           int      `json:"errorCount"`
}

// SyncResult is the outcome of one sync run, returned to the caller and
// logged. Success is true even for partial failure; it is false only when
// the run was fully unrecoverable (the very first page fetch failed or the
// abort threshold was hit before anything was processed).
type SyncResult struct {
	RunID            string     `json:"runId"`
	Success          bool       `json:"success"`
	Source           string     `json:"source"`
	ContentType      string     `json:"contentType"`
	TotalProcessed   int        `json:"totalProcessed"`
	PagesProcessed   int        `json:"pagesProcessed"`
	DurationMS       int64      `json:"duration"`
	AveragePerSecond float64    `json:"averagePerSecond"`
	Results          SyncCounts `json:"results"`
}
