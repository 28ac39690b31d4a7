// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads the feedsync configuration file.
//
// Values are resolved in three layers: Default, then the YAML file, then
// FEEDSYNC_* environment variables. Durations are written as Go duration
// strings ("2s", "6h").
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/feedsync/ai"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/syncer"
	"gopkg.in/yaml.v3"
)

// Usage log backends.
const (
	UsageBackendBadger = "badger"
	UsageBackendSQLite = "sqlite"
)

// Config is the full application configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	AI         ai.Config        `yaml:"ai"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Sync       SyncConfig       `yaml:"sync"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`

	// UsageBackend selects where usage records and daily aggregates live.
	UsageBackend string `yaml:"usage_backend"`
	UsageDB      string `yaml:"usage_db"`
}

type SchedulerConfig struct {
	Workers             int           `yaml:"workers"`
	DueLimit            int           `yaml:"due_limit"`
	BatchSize           int           `yaml:"batch_size"`
	BatchDelay          time.Duration `yaml:"batch_delay"`
	Stagger             time.Duration `yaml:"stagger"`
	FailedRetryInterval time.Duration `yaml:"failed_retry_interval"`
	MaxFailures         int           `yaml:"max_failures"`
	// MaintenanceSpec is the cron spec for draining the embedding queue.
	MaintenanceSpec string `yaml:"maintenance_spec"`
	HistorySize     int    `yaml:"history_size"`
}

type SyncConfig struct {
	syncer.Options `yaml:",inline"`

	UserAgent         string `yaml:"user_agent"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Burst             int    `yaml:"burst"`
}

type RateLimitsConfig struct {
	Defaults core.DailyLimits                   `yaml:"defaults"`
	Tenants  map[core.TenantID]core.DailyLimits `yaml:"tenants"`
}

type EmbeddingConfig struct {
	BatchSize     int             `yaml:"batch_size"`
	MaxAttempts   int             `yaml:"max_attempts"`
	PoolSize      int             `yaml:"pool_size"`
	BackoffDelays []time.Duration `yaml:"backoff_delays"`
}

type ClusteringConfig struct {
	Threshold float64       `yaml:"threshold"`
	Timeframe time.Duration `yaml:"timeframe"`
	Summarize bool          `yaml:"summarize"`
	// PurgeSpec is the cron spec for deleting long-expired clusters.
	PurgeSpec string `yaml:"purge_spec"`
}

type SearchConfig struct {
	MinSimilarity float64 `yaml:"min_similarity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:         "./feedsync.db",
			UsageBackend: UsageBackendBadger,
		},
		AI: *ai.DefaultConfig(),
		Scheduler: SchedulerConfig{
			Workers:             3,
			DueLimit:            50,
			BatchSize:           3,
			BatchDelay:          2 * time.Second,
			Stagger:             5 * time.Minute,
			FailedRetryInterval: 6 * time.Hour,
			MaxFailures:         10,
			MaintenanceSpec:     "@every 15m",
			HistorySize:         100,
		},
		Sync: SyncConfig{
			Options:           syncer.DefaultOptions(),
			RequestsPerMinute: 60,
			Burst:             10,
		},
		RateLimits: RateLimitsConfig{
			Defaults: ratelimit.DefaultLimits(),
		},
		Embedding: EmbeddingConfig{
			BatchSize:     50,
			MaxAttempts:   3,
			PoolSize:      2,
			BackoffDelays: ratelimit.DefaultBackoff().Delays,
		},
		Clustering: ClusteringConfig{
			Threshold: 0.75,
			Timeframe: 48 * time.Hour,
			Summarize: true,
			PurgeSpec: "@daily",
		},
		Search: SearchConfig{
			MinSimilarity: 0.60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"FEEDSYNC_DB_PATH":         &c.Storage.Path,
		"FEEDSYNC_AI_API_KEY":      &c.AI.APIKey,
		"FEEDSYNC_EMBEDDING_HOST":  &c.AI.EmbeddingHost,
		"FEEDSYNC_EMBEDDING_MODEL": &c.AI.EmbeddingModel,
		"FEEDSYNC_SUMMARY_MODEL":   &c.AI.SummaryModel,
		"FEEDSYNC_LOG_LEVEL":       &c.Logging.Level,
	}
	for name, field := range overrides {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Storage.InMemory || c.Storage.Path != "", "storage.path is required")
	switch c.Storage.UsageBackend {
	case UsageBackendBadger:
	case UsageBackendSQLite:
		check(c.Storage.UsageDB != "", "storage.usage_db is required for the sqlite usage backend")
	default:
		errs = append(errs, fmt.Errorf("storage.usage_backend %q is not badger or sqlite", c.Storage.UsageBackend))
	}

	if err := c.AI.Validate(); err != nil {
		errs = append(errs, err)
	}

	check(c.Scheduler.Workers >= 1, "scheduler.workers must be at least 1")
	check(c.Scheduler.DueLimit >= 1, "scheduler.due_limit must be at least 1")
	check(c.Scheduler.BatchSize >= 1, "scheduler.batch_size must be at least 1")
	check(c.Scheduler.BatchDelay >= 0, "scheduler.batch_delay must not be negative")
	check(c.Scheduler.FailedRetryInterval > 0, "scheduler.failed_retry_interval must be positive")
	check(c.Scheduler.MaxFailures >= 0, "scheduler.max_failures must not be negative")

	check(c.Sync.MaxArticles >= 1, "sync.max_articles must be at least 1")
	check(c.Sync.Timeout > 0, "sync.timeout must be positive")
	check(c.Sync.RequestsPerMinute >= 1, "sync.requests_per_minute must be at least 1")
	check(c.Sync.Burst >= 1, "sync.burst must be at least 1")

	check(validLimits(c.RateLimits.Defaults), "rate_limits.defaults must not be negative")
	for tenant, limits := range c.RateLimits.Tenants {
		check(validLimits(limits), "rate_limits.tenants.%s must not be negative", tenant)
	}

	check(c.Embedding.BatchSize >= 1, "embedding.batch_size must be at least 1")
	check(c.Embedding.MaxAttempts >= 1, "embedding.max_attempts must be at least 1")
	check(c.Embedding.PoolSize >= 1, "embedding.pool_size must be at least 1")

	check(c.Clustering.Threshold > 0 && c.Clustering.Threshold <= 1, "clustering.threshold must be in (0, 1]")
	check(c.Clustering.Timeframe > 0, "clustering.timeframe must be positive")
	check(c.Search.MinSimilarity >= 0 && c.Search.MinSimilarity <= 1, "search.min_similarity must be in [0, 1]")

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	check(c.Logging.Format == "text" || c.Logging.Format == "json", "logging.format %q is not text or json", c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validLimits(l core.DailyLimits) bool {
	return l.Embeddings >= 0 && l.Clusterings >= 0 && l.Searches >= 0 && l.Summaries >= 0
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level: %s", level)
}

// Limits returns the per-tenant quota table.
func (c *Config) Limits() ratelimit.StaticLimits {
	return ratelimit.StaticLimits{
		Default: c.RateLimits.Defaults,
		Tenants: c.RateLimits.Tenants,
	}
}

// Backoff returns the provider retry schedule for embeddings.
func (c *Config) Backoff() ratelimit.BackoffConfig {
	cfg := ratelimit.DefaultBackoff()
	if len(c.Embedding.BackoffDelays) > 0 {
		cfg.Delays = c.Embedding.BackoffDelays
		cfg.MaxAttempts = len(c.Embedding.BackoffDelays) + 1
	}
	return cfg
}

// RequestLimiter builds the limiter shared by every feed fetch.
func (c *Config) RequestLimiter() *ratelimit.RequestLimiter {
	return ratelimit.NewRequestLimiter(c.Sync.RequestsPerMinute, c.Sync.Burst)
}
