// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package api provides the HTTP surface: sync triggers, content reads,
// cache administration and health, all under /api/v1 with chi routing.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/toriisync/torii/internal/cache"
	"github.com/toriisync/torii/internal/content"
	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/models"
	"github.com/toriisync/torii/internal/store"
	"github.com/toriisync/torii/internal/sync"
	"github.com/toriisync/torii/internal/validation"
)

const (
	defaultContentLimit = 20
	retryAfterSeconds   = "30"
)

// ContentService is the read-side surface the handlers consume.
type ContentService interface {
	Trending(ctx context.Context, mediaType models.MediaType, limit int) (*content.Result, error)
	Popular(ctx context.Context, mediaType models.MediaType, limit int) (*content.Result, error)
	Recent(ctx context.Context, mediaType models.MediaType, limit int) (*content.Result, error)
	Search(ctx context.Context, mediaType models.MediaType, query string, limit int) (*content.Result, error)
	Detail(ctx context.Context, mediaType models.MediaType, id int64) (*content.Result, error)
	Genres(ctx context.Context) (*content.Result, error)
	Stats(ctx context.Context) (*content.Result, error)
	Homepage(ctx context.Context) (*content.Result, error)
	Warm(ctx context.Context) []string
}

// SyncRunner triggers sync runs.
type SyncRunner interface {
	Run(ctx context.Context, req *models.SyncRequest) (*models.SyncResult, error)
}

// Pinger is a connectivity check on a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsPruner deletes aged cache metric rows.
type MetricsPruner interface {
	PruneCacheMetrics(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handler carries the wired dependencies for every endpoint.
type Handler struct {
	content   ContentService
	syncs     SyncRunner
	cache     *cache.Store
	db        Pinger
	pruner    MetricsPruner
	retention time.Duration
}

// NewHandler creates the endpoint handler set.
func NewHandler(contentSvc ContentService, syncs SyncRunner, cacheStore *cache.Store, db Pinger, pruner MetricsPruner, retention time.Duration) *Handler {
	return &Handler{
		content:   contentSvc,
		syncs:     syncs,
		cache:     cacheStore,
		db:        db,
		pruner:    pruner,
		retention: retention,
	}
}

// Sync handles POST /api/v1/sync: trigger one sync run and return its
// result. Runs are synchronous; the client waits for the full run.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	start := time.Now()
	result, err := h.syncs.Run(r.Context(), &req)
	switch {
	case errors.Is(err, sync.ErrSyncInProgress):
		respondError(w, http.StatusConflict, "SYNC_IN_PROGRESS",
			"A sync for this source and content type is already running", nil)
		return
	case errors.Is(err, sync.ErrUnknownSource):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"Source is not configured: "+req.Source, nil)
		return
	case err != nil:
		logging.Error().Err(err).Str("source", req.Source).Msg("Sync run failed")
		respondError(w, http.StatusInternalServerError, "SYNC_FAILED", err.Error(), nil)
		return
	}

	// Partial failure stays 200 with the error list in the body; only a
	// fully unrecoverable run (nothing processed) is a server error.
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, result, models.Metadata{QueryTimeMS: time.Since(start).Milliseconds()})
}

// Content handles POST /api/v1/content: a single endpoint-dispatch read
// surface over the cached content service.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	var req models.ContentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultContentLimit
	}
	mediaType := models.MediaType(req.ContentType)
	if req.ContentType == "" {
		mediaType = models.MediaTypeAnime
	}

	start := time.Now()
	result, err := h.dispatchContent(r.Context(), &req, mediaType)
	if err != nil {
		h.contentError(w, err)
		return
	}
	if result == nil {
		// Only the detail endpoint produces a nil result (unknown id).
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No title with that id", nil)
		return
	}

	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	respondJSON(w, http.StatusOK, result.Data, models.Metadata{
		QueryTimeMS: time.Since(start).Milliseconds(),
		Cached:      result.Cached,
	})
}

func (h *Handler) dispatchContent(ctx context.Context, req *models.ContentRequest, mediaType models.MediaType) (*content.Result, error) {
	switch req.Endpoint {
	case "trending":
		return h.content.Trending(ctx, mediaType, req.Limit)
	case "popular":
		return h.content.Popular(ctx, mediaType, req.Limit)
	case "recent":
		return h.content.Recent(ctx, mediaType, req.Limit)
	case "search":
		if req.Query == "" {
			return nil, errMissingField("query")
		}
		return h.content.Search(ctx, mediaType, req.Query, req.Limit)
	case "detail":
		if req.ID == 0 {
			return nil, errMissingField("id")
		}
		result, err := h.content.Detail(ctx, mediaType, req.ID)
		if err != nil {
			return nil, err
		}
		if string(result.Data) == "null" {
			return nil, nil
		}
		return result, nil
	case "genres":
		return h.content.Genres(ctx)
	case "stats":
		return h.content.Stats(ctx)
	case "homepage":
		return h.content.Homepage(ctx)
	default:
		// Unreachable: the validator enforces the endpoint enum.
		return nil, errMissingField("endpoint")
	}
}

// fieldError marks a conditionally-required request field as absent.
type fieldError struct{ field string }

func (e *fieldError) Error() string { return e.field + " is required for this endpoint" }

func errMissingField(field string) error { return &fieldError{field: field} }

func (h *Handler) contentError(w http.ResponseWriter, err error) {
	var fe *fieldError
	switch {
	case errors.As(err, &fe):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", fe.Error(),
			map[string]interface{}{"field": fe.field})
	case errors.Is(err, store.ErrDataUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		respondError(w, http.StatusServiceUnavailable, "DATA_UNAVAILABLE",
			"The content store is temporarily unavailable", nil)
	default:
		logging.Error().Err(err).Msg("Content read failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
	}
}

// CacheAdmin handles POST /api/v1/cache: invalidation, warmup, stats,
// key listing and metric pruning behind one action-dispatch endpoint.
func (h *Handler) CacheAdmin(w http.ResponseWriter, r *http.Request) {
	var req models.CacheAdminRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	start := time.Now()
	data, err := h.dispatchCacheAction(r.Context(), &req)
	if err != nil {
		var fe *fieldError
		if errors.As(err, &fe) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", fe.Error(),
				map[string]interface{}{"field": fe.field})
			return
		}
		logging.Error().Err(err).Str("action", req.Action).Msg("Cache admin action failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, data, models.Metadata{QueryTimeMS: time.Since(start).Milliseconds()})
}

func (h *Handler) dispatchCacheAction(ctx context.Context, req *models.CacheAdminRequest) (interface{}, error) {
	switch req.Action {
	case "invalidate":
		if req.Pattern == "" {
			return nil, errMissingField("pattern")
		}
		deleted, err := h.cache.InvalidatePattern(ctx, req.Pattern)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": deleted}, nil

	case "invalidate_patterns":
		if len(req.Patterns) == 0 {
			return nil, errMissingField("patterns")
		}
		total := 0
		perPattern := make(map[string]int, len(req.Patterns))
		for _, pattern := range req.Patterns {
			deleted, err := h.cache.InvalidatePattern(ctx, pattern)
			if err != nil {
				return nil, err
			}
			perPattern[pattern] = deleted
			total += deleted
		}
		return map[string]interface{}{"deleted": total, "patterns": perPattern}, nil

	case "warm":
		warmed := h.content.Warm(ctx)
		return map[string]interface{}{"warmed": warmed, "count": len(warmed)}, nil

	case "stats":
		return h.cache.CollectStats(ctx)

	case "list":
		if req.Pattern == "" {
			return nil, errMissingField("pattern")
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 100
		}
		keys, err := h.cache.ListKeys(ctx, req.Pattern, limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"keys": keys, "count": len(keys)}, nil

	case "prune_metrics":
		pruned, err := h.pruner.PruneCacheMetrics(ctx, h.retention)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"pruned": pruned, "older_than": h.retention.String()}, nil

	default:
		return nil, errMissingField("action")
	}
}

// Health handles GET /health: Postgres is required, Redis is reported but
// never fails the check because the cache degrades gracefully.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	cacheStatus := "disabled"
	if h.cache.Enabled() {
		cacheStatus = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			cacheStatus = "unreachable"
		}
	}

	body := map[string]interface{}{
		"status":   "healthy",
		"database": dbStatus,
		"cache":    cacheStatus,
	}
	if status != http.StatusOK {
		body["status"] = "unhealthy"
	}
	respondJSON(w, status, body, models.Metadata{})
}
