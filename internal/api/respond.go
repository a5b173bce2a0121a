// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/models"
)

// respondJSON writes the standard success envelope.
func respondJSON(w http.ResponseWriter, status int, data interface{}, meta models.Metadata) {
	meta.Timestamp = time.Now().UTC()
	writeEnvelope(w, status, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: meta,
	})
}

// respondError writes the standard error envelope.
func respondError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	writeEnvelope(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error: &models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response body")
	}
}

// decodeBody decodes a JSON request body into dst, rejecting unknown
// fields. Returns false after writing the error response itself.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"Request body is not valid JSON: "+err.Error(), nil)
		return false
	}
	return true
}
