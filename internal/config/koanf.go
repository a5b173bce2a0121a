// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/torii/config.yaml",
	"/etc/torii/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. These are applied
// first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8087,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: 1 * time.Minute,
		},
		Database: DatabaseConfig{
			URL:            "",
			MaxConns:       10,
			MinConns:       2,
			ConnectTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:6379",
			Password:    "",
			DB:          0,
			DialTimeout: 5 * time.Second,
		},
		Sources: SourcesConfig{
			AniList: SourceConfig{
				Enabled:  true,
				BaseURL:  "https://graphql.anilist.co",
				PageSize: 50,
			},
			Kitsu: SourceConfig{
				Enabled:  true,
				BaseURL:  "https://kitsu.io/api/edge",
				PageSize: 20,
			},
			Jikan: SourceConfig{
				Enabled:  true,
				BaseURL:  "https://api.jikan.moe/v4",
				PageSize: 25,
			},
		},
		Sync: SyncConfig{
			ItemDelay:               100 * time.Millisecond,
			PageDelay:               900 * time.Millisecond,
			MaxConsecutiveFailures:  3,
			DefaultMaxPages:         5,
			SynopsisMaxLen:          2000,
			ErrorCap:                10,
			InvalidateCacheOnFinish: true,
		},
		Cache: CacheConfig{
			KeyPrefix: "cache",
			TTL: TTLConfig{
				Trending: 300,
				Popular:  600,
				Recent:   300,
				Search:   180,
				Detail:   1800,
				Stats:    3600,
				Homepage: 600,
				Genres:   7200,
			},
			MetricsRetention: 7 * 24 * time.Hour,
		},
		Oracle: OracleConfig{
			Enabled: false,
			URL:     "",
			APIKey:  "",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// TORII_SERVER_PORT -> server.port, TORII_DATABASE_URL -> database.url
	envProvider := env.Provider("TORII_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// multiWordSections maps env var section prefixes that contain underscores
// in the section name itself, so the split point is unambiguous.
//
//	TORII_SOURCES_ANILIST_BASE_URL -> sources.anilist.base_url
//	TORII_CACHE_TTL_TRENDING       -> cache.ttl.trending
var multiWordSections = []struct {
	prefix string
	path   string
}{
	{"sources_anilist_", "sources.anilist."},
	{"sources_kitsu_", "sources.kitsu."},
	{"sources_jikan_", "sources.jikan."},
	{"cache_ttl_", "cache.ttl."},
}

// envTransformFunc transforms environment variable names to koanf config
// paths. The TORII_ prefix is stripped by the provider; the first remaining
// token selects the section and the rest forms the key.
//
//	TORII_SERVER_PORT       -> server.port
//	TORII_DATABASE_URL      -> database.url
//	TORII_SYNC_ITEM_DELAY   -> sync.item_delay
//	TORII_LOGGING_LEVEL     -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "TORII_"))

	for _, section := range multiWordSections {
		if strings.HasPrefix(key, section.prefix) {
			return section.path + strings.TrimPrefix(key, section.prefix)
		}
	}

	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}
