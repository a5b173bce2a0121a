// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package sync

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/logging"
)

// ScheduleEstimate is an oracle's guess at a title's next release.
type ScheduleEstimate struct {
	Date       time.Time `json:"date"`
	Confidence float64   `json:"confidence"`
}

// ScheduleOracle estimates next-episode air dates for titles whose source
// lacks live schedule data. The oracle is an opaque HTTP boundary; any
// failure degrades to "no schedule data", never to a failed item.
type ScheduleOracle interface {
	EstimateNextRelease(ctx context.Context, title string, lastKnown *time.Time) (*ScheduleEstimate, error)
}

// NoopOracle is used when the oracle is disabled; it always reports no
// estimate.
type NoopOracle struct{}

// EstimateNextRelease returns no estimate.
func (NoopOracle) EstimateNextRelease(context.Context, string, *time.Time) (*ScheduleEstimate, error) {
	return nil, nil
}

// HTTPOracle calls an external inference endpoint for schedule estimates.
type HTTPOracle struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewOracle builds the configured oracle, or the noop one when disabled.
func NewOracle(cfg *config.OracleConfig) ScheduleOracle {
	if !cfg.Enabled || cfg.URL == "" {
		return NoopOracle{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPOracle{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EstimateNextRelease posts the title to the inference endpoint. A zero
// date or non-positive confidence in the response counts as no estimate.
func (o *HTTPOracle) EstimateNextRelease(ctx context.Context, title string, lastKnown *time.Time) (*ScheduleEstimate, error) {
	body, err := json.Marshal(map[string]interface{}{
		"title":      title,
		"last_known": lastKnown,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var est ScheduleEstimate
	if err := json.NewDecoder(resp.Body).Decode(&est); err != nil {
		return nil, fmt.Errorf("failed to decode oracle response: %w", err)
	}
	if est.Date.IsZero() || est.Confidence <= 0 {
		return nil, nil
	}
	return &est, nil
}

// estimateSchedule wraps an oracle call with degrade-on-failure semantics.
func estimateSchedule(ctx context.Context, oracle ScheduleOracle, title string, lastKnown *time.Time) *ScheduleEstimate {
	if oracle == nil {
		return nil
	}
	est, err := oracle.EstimateNextRelease(ctx, title, lastKnown)
	if err != nil {
		logging.Debug().Err(err).Str("title", title).Msg("Schedule oracle unavailable")
		return nil
	}
	return est
}
