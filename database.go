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


package feedsync

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/poiesic/feedsync/ai"
	"github.com/poiesic/feedsync/ai/mock"
	"github.com/poiesic/feedsync/ai/openai"
	"github.com/poiesic/feedsync/clustering"
	"github.com/poiesic/feedsync/config"
	"github.com/poiesic/feedsync/ingestion"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/reembed"
	"github.com/poiesic/feedsync/scheduler"
	"github.com/poiesic/feedsync/search"
	"github.com/poiesic/feedsync/storage"
	"github.com/poiesic/feedsync/storage/badger"
	"github.com/poiesic/feedsync/storage/sqlite"
	"github.com/poiesic/feedsync/syncer"
	"go.opentelemetry.io/otel/metric"
)

// MockProviderName selects the deterministic in-process provider.
const MockProviderName = "mock"

// Database owns the storage, the AI provider and the shared usage
// accounting, and builds the services that run on top of them.
type Database struct {
	config        *config.Config
	store         *badger.Store
	usage         storage.UsageRepository
	usageCloser   io.Closer
	provider      ai.AIProvider
	available     func() bool
	tracker       *ratelimit.Tracker
	dlq           *ratelimit.DeadLetterQueueManager
	httpClient    *http.Client
	meterProvider metric.MeterProvider
	logger        *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	provider      ai.AIProvider
	httpClient    *http.Client
	meterProvider metric.MeterProvider
	logger        *slog.Logger
}

// WithProvider replaces the provider built from the ai config section.
// An injected provider is always considered available.
func WithProvider(p ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = p
	}
}

// WithHTTPClient sets the client used to fetch feeds and article pages.
func WithHTTPClient(c *http.Client) DatabaseOption {
	return func(o *databaseOptions) {
		o.httpClient = c
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for sync metrics.
func WithMeterProvider(mp metric.MeterProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.meterProvider = mp
	}
}

func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

func NewDatabase(cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	options := &databaseOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	// Open backend
	backend, err := badger.OpenBackend(cfg.Storage.Path, cfg.Storage.InMemory)
	if err != nil {
		return nil, err
	}
	store, err := badger.NewStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	db := &Database{
		config:        cfg,
		store:         store,
		usage:         store.Usage,
		httpClient:    options.httpClient,
		meterProvider: options.meterProvider,
		logger:        options.logger,
	}

	if cfg.Storage.UsageBackend == config.UsageBackendSQLite {
		usage, err := sqlite.OpenUsageRepository(cfg.Storage.UsageDB)
		if err != nil {
			store.Close()
			return nil, err
		}
		db.usage = usage
		db.usageCloser = usage
	}

	// AI provider
	switch {
	case options.provider != nil:
		db.provider = options.provider
		db.available = func() bool { return true }
	case cfg.AI.Provider == MockProviderName:
		db.provider = mock.NewMockProvider()
		db.available = func() bool { return true }
	default:
		provider, err := openai.NewProvider(&cfg.AI)
		if err != nil {
			db.closeStorage()
			return nil, err
		}
		db.provider = provider
		db.available = cfg.AI.HasCredentials
	}

	db.tracker, err = ratelimit.NewTracker(db.usage,
		ratelimit.WithUsageLog(db.usage),
		ratelimit.WithLimits(cfg.Limits()),
		ratelimit.WithLogger(db.logger),
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.dlq, err = ratelimit.NewDeadLetterQueueManager(store.DeadLetters, db.logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *Database) Close() error {
	var errs []error
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := db.closeStorage(); err != nil {
		db.logger.Error("error closing storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (db *Database) closeStorage() error {
	var errs []error
	if db.usageCloser != nil {
		errs = append(errs, db.usageCloser.Close())
	}
	errs = append(errs, db.store.Close())
	return errors.Join(errs...)
}

func (db *Database) Config() *config.Config                         { return db.config }
func (db *Database) Store() *badger.Store                           { return db.store }
func (db *Database) UsageRepository() storage.UsageRepository       { return db.usage }
func (db *Database) Provider() ai.AIProvider                        { return db.provider }
func (db *Database) Tracker() *ratelimit.Tracker                    { return db.tracker }
func (db *Database) DeadLetters() *ratelimit.DeadLetterQueueManager { return db.dlq }

// NewSyncEngine builds a feed sync engine from the sync config section.
func (db *Database) NewSyncEngine(opts ...syncer.Option) (*syncer.Engine, error) {
	sc := db.config.Sync
	base := []syncer.Option{
		syncer.WithUserAgent(sc.UserAgent),
		syncer.WithLogger(db.logger),
	}
	if db.httpClient != nil {
		base = append(base, syncer.WithHTTPClient(db.httpClient))
	}
	if sc.DetectLanguage {
		base = append(base, syncer.WithLanguageDetector(syncer.NewLanguageDetector()))
	}
	if sc.ExtractFullContent {
		base = append(base, syncer.WithContentExtractor(syncer.NewContentExtractor(db.httpClient, sc.UserAgent)))
	}
	return syncer.NewEngine(db.store.Articles, append(base, opts...)...)
}

// NewClusteringEngine builds a clustering engine gated on provider availability.
func (db *Database) NewClusteringEngine(opts ...clustering.Option) (*clustering.Engine, error) {
	cc := db.config.Clustering
	base := []clustering.Option{
		clustering.WithThreshold(cc.Threshold),
		clustering.WithTimeframe(cc.Timeframe),
		clustering.WithProviderInfo(db.provider.Info()),
		clustering.WithAvailability(db.available),
		clustering.WithLogger(db.logger),
	}
	if cc.Summarize {
		base = append(base, clustering.WithSummarizer(db.provider.Summarizer(), db.provider.Info()))
	}
	return clustering.NewEngine(db.store.Articles, db.store.Feeds, db.store.Clusters, db.tracker, append(base, opts...)...)
}

// NewIngestionPipeline builds the embedding pipeline. A nil clusterer
// disables the clustering trigger.
func (db *Database) NewIngestionPipeline(clusterer ingestion.ClusterRunner, opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	ec := db.config.Embedding
	base := []ingestion.Option{
		ingestion.WithPoolSize(ec.PoolSize),
		ingestion.WithBatchSize(ec.BatchSize),
		ingestion.WithMaxAttempts(ec.MaxAttempts),
		ingestion.WithBackoff(db.config.Backoff()),
		ingestion.WithDeadLetterQueue(db.dlq),
		ingestion.WithLogger(db.logger),
	}
	if clusterer != nil {
		base = append(base, ingestion.WithClusterRunner(clusterer))
	}
	return ingestion.NewPipeline(db.store.Articles, db.store.Queue, db.tracker, db.provider, append(base, opts...)...)
}

// NewScheduler builds a scheduler from the scheduler and sync config sections.
func (db *Database) NewScheduler(feedSyncer scheduler.FeedSyncer, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	sc := db.config.Scheduler
	base := []scheduler.Option{
		scheduler.WithWorkers(sc.Workers),
		scheduler.WithDueLimit(sc.DueLimit),
		scheduler.WithBatching(sc.BatchSize, sc.BatchDelay),
		scheduler.WithStagger(sc.Stagger),
		scheduler.WithFailedRetryInterval(sc.FailedRetryInterval),
		scheduler.WithMaxConsecutiveFailures(sc.MaxFailures),
		scheduler.WithHistorySize(sc.HistorySize),
		scheduler.WithSyncOptions(db.config.Sync.Options),
		scheduler.WithLimiter(db.config.RequestLimiter()),
		scheduler.WithCatalog(db.store.Catalog),
		scheduler.WithLogger(db.logger),
	}
	if db.meterProvider != nil {
		base = append(base, scheduler.WithMeterProvider(db.meterProvider))
	}
	return scheduler.New(db.store.Feeds, feedSyncer, append(base, opts...)...)
}

func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	base := []search.Option{
		search.WithMinSimilarity(db.config.Search.MinSimilarity),
		search.WithBackoff(db.config.Backoff()),
		search.WithLogger(db.logger),
	}
	return search.NewSearcher(db.store.Articles, db.store.Feeds, db.tracker, db.provider, append(base, opts...)...)
}

// NewReembedder builds a backfill over every stored article.
func (db *Database) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(db.store.Articles, db.store.Feeds, db.store.Queue, db.store.Checkpoints, cfg, progress)
}
