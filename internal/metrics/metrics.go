// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Package metrics provides Prometheus instrumentation for Torii:
// source adapter requests, sync runs, the Redis content cache, Postgres
// queries and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source adapter metrics
	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_request_duration_seconds",
			Help:    "Duration of external source API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "media_type"},
	)

	SourceRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_request_errors_total",
			Help: "Total number of external source API request errors",
		},
		[]string{"source", "error_type"}, // "unavailable", "protocol"
	)

	// Sync operation metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"source", "content_type"},
	)

	SyncItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_processed_total",
			Help: "Total number of media items processed during sync runs",
		},
		[]string{"source", "content_type"},
	)

	SyncItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_item_errors_total",
			Help: "Total number of per-item sync failures",
		},
		[]string{"source", "error_type"}, // "transform", "persist", "relationship"
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync run",
		},
		[]string{"source", "content_type"},
	)

	SyncPagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_pages_processed_total",
			Help: "Total number of source pages fetched during sync runs",
		},
		[]string{"source"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_circuit_breaker_state",
			Help: "Source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_circuit_breaker_transitions_total",
			Help: "Total number of source circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_circuit_breaker_requests_total",
			Help: "Total requests through source circuit breakers by outcome",
		},
		[]string{"breaker", "outcome"}, // "success", "failure", "rejected"
	)

	// Content cache metrics
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_cache_operations_total",
			Help: "Total content cache operations by type",
		},
		[]string{"operation"}, // "hit", "miss", "set", "invalidate", "error"
	)

	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_cache_operation_duration_seconds",
			Help:    "Duration of content cache operations in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"operation"},
	)

	CacheKeysDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "content_cache_keys_deleted_total",
			Help: "Total number of cache keys removed by pattern invalidation",
		},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postgres_query_duration_seconds",
			Help:    "Duration of Postgres queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postgres_query_errors_total",
			Help: "Total number of Postgres query errors",
		},
		[]string{"operation", "table"},
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// ObserveSourceRequest records the duration and outcome of one source fetch.
func ObserveSourceRequest(source, mediaType string, duration time.Duration) {
	SourceRequestDuration.WithLabelValues(source, mediaType).Observe(duration.Seconds())
}

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
