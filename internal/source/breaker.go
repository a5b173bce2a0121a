// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/metrics"
	"github.com/toriisync/torii/internal/models"
)

// BreakerAdapter wraps an Adapter with circuit breaker protection so a
// source that starts failing or timing out stops receiving traffic before
// its rate limiter bans us.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests should exercise the wrapped adapter directly rather than waiting
// out breaker state transitions.
type BreakerAdapter struct {
	inner Adapter
	cb    *gobreaker.CircuitBreaker[*Page]
	name  string
}

var _ Adapter = (*BreakerAdapter)(nil)

// WithBreaker wraps an adapter with a circuit breaker:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func WithBreaker(inner Adapter) *BreakerAdapter {
	cbName := inner.Name() + "-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[*Page](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Str("source", cbName).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening source circuit")
			}
			return shouldTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)
			logging.Info().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("Source circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerAdapter{inner: inner, cb: cb, name: cbName}
}

// Name returns the wrapped source identifier.
func (b *BreakerAdapter) Name() string { return b.inner.Name() }

// FetchPage delegates to the wrapped adapter under breaker protection.
// A rejected call (open circuit) surfaces as ErrUnavailable so the sync
// loop treats it like any other source outage.
func (b *BreakerAdapter) FetchPage(ctx context.Context, mediaType models.MediaType, page, perPage int) (*Page, error) {
	result, err := b.cb.Execute(func() (*Page, error) {
		return b.inner.FetchPage(ctx, mediaType, page, perPage)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return nil, fmt.Errorf("%w: %s circuit rejected request: %v", ErrUnavailable, b.name, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
