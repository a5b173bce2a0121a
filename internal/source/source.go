// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package source provides typed clients for the external metadata APIs:
// AniList (GraphQL), Kitsu (JSON:API) and Jikan/MyAnimeList (REST).
//
// Each adapter fetches one page of raw media records and decodes it into the
// validated models.RawMedia shape at the boundary. Adapters never retry
// internally - the orchestrator owns the retry/skip policy - and classify
// failures into two sentinel errors:
//
//   - ErrUnavailable: transport failure or non-2xx HTTP status
//   - ErrProtocol: GraphQL errors array, malformed JSON, schema violation
package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/toriisync/torii/internal/models"
)

// Sentinel errors for adapter failure classification. The orchestrator
// treats both the same way (skip page, count consecutive failures) but
// operators see which layer broke.
var (
	// ErrUnavailable indicates the source API was unreachable or returned
	// a non-2xx status.
	ErrUnavailable = errors.New("source unavailable")

	// ErrProtocol indicates the source responded but the payload violated
	// its own protocol (GraphQL errors array, malformed JSON).
	ErrProtocol = errors.New("source protocol error")
)

// Page is one page of raw media records plus the paging cursor state.
type Page struct {
	Items   []models.RawMedia
	HasNext bool
}

// Adapter fetches one page of media records from an external source.
//
// Implementations must be safe for concurrent use and must not retry
// internally; the caller decides what a failed page means.
type Adapter interface {
	// Name returns the source identifier ("anilist", "kitsu", "jikan").
	Name() string

	// FetchPage returns the page-th page (1-based) of records for the
	// given media type.
	FetchPage(ctx context.Context, mediaType models.MediaType, page, perPage int) (*Page, error)
}

// maxErrorBodySize limits the response body read for error reporting to
// prevent unbounded allocation on large error responses.
const maxErrorBodySize = 64 * 1024

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// newHTTPClient returns the shared adapter HTTP client configuration.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
