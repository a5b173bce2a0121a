// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package models

import "time"

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints. Status is "success" or "error"; Error is populated only when
// Status is "error".
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability: generation time,
// query execution time, and whether the payload was served from cache.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError carries a machine-readable code plus a human-readable message.
//
// Common codes: VALIDATION_ERROR, DATA_UNAVAILABLE, SYNC_FAILED,
// SYNC_IN_PROGRESS, NOT_FOUND, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ContentRequest is the inbound body for the content read endpoint.
type ContentRequest struct {
	Endpoint    string                 `json:"endpoint" validate:"required,oneof=trending popular recent homepage search detail genres stats"`
	ContentType string                 `json:"contentType" validate:"omitempty,oneof=anime manga"`
	Limit       int                    `json:"limit" validate:"omitempty,min=1,max=100"`
	SortBy      string                 `json:"sort_by" validate:"omitempty,oneof=score popularity recent title"`
	Filters     map[string]interface{} `json:"filters"`
	Query       string                 `json:"query" validate:"omitempty,max=200"`
	ID          int64                  `json:"id" validate:"omitempty,min=1"`
}

// ContentResponse wraps a content payload with its cache disposition.
type ContentResponse struct {
	Data   interface{} `json:"data"`
	Cached bool        `json:"cached"`
}

// CacheAdminRequest is the inbound body for the cache admin endpoint.
type CacheAdminRequest struct {
	Action   string   `json:"action" validate:"required,oneof=invalidate invalidate_patterns warm stats list prune_metrics"`
	Pattern  string   `json:"pattern" validate:"omitempty,max=200"`
	Patterns []string `json:"patterns" validate:"omitempty,max=20,dive,max=200"`
	Limit    int      `json:"limit" validate:"omitempty,min=1,max=1000"`
}
