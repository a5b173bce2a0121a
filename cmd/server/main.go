// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

// Command server runs the Torii HTTP server: the sync trigger API, the
// cached content read API and the cache admin surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toriisync/torii/internal/api"
	"github.com/toriisync/torii/internal/cache"
	"github.com/toriisync/torii/internal/config"
	"github.com/toriisync/torii/internal/content"
	"github.com/toriisync/torii/internal/logging"
	"github.com/toriisync/torii/internal/store"
	torisync "github.com/toriisync/torii/internal/sync"
)

// metricsPruneInterval is how often the retention janitor deletes aged
// cache metric rows.
const metricsPruneInterval = 6 * time.Hour

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	cacheStore := cache.New(&cfg.Redis, &cfg.Cache, db)
	defer cacheStore.Close()
	if err := cacheStore.Ping(ctx); err != nil {
		// The cache degrades to pass-through; a dead Redis is not fatal.
		logging.Warn().Err(err).Msg("Redis unreachable at startup, running degraded")
	}

	contentSvc := content.New(db, cacheStore)
	oracle := torisync.NewOracle(&cfg.Oracle)
	manager := torisync.NewManager(db, cacheStore, cfg, oracle)

	logging.Info().
		Strs("sources", manager.Sources()).
		Bool("cache", cacheStore.Enabled()).
		Msg("Torii starting")

	handler := api.NewHandler(contentSvc, manager, cacheStore, db, db, cfg.Cache.MetricsRetention)
	router := api.NewRouter(handler, &cfg.Server)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       2 * cfg.Server.Timeout,
	}

	go pruneMetricsLoop(ctx, db, cfg.Cache.MetricsRetention)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	logging.Info().Msg("Torii stopped")
	return nil
}

// pruneMetricsLoop periodically deletes cache metric rows older than the
// configured retention so the metrics log stays bounded.
func pruneMetricsLoop(ctx context.Context, db *store.Store, retention time.Duration) {
	ticker := time.NewTicker(metricsPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := db.PruneCacheMetrics(ctx, retention)
			if err != nil {
				logging.Warn().Err(err).Msg("Cache metric pruning failed")
				continue
			}
			if pruned > 0 {
				logging.Debug().Int64("pruned", pruned).Msg("Pruned aged cache metrics")
			}
		}
	}
}
