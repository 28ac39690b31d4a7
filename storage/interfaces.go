package storage

import (
	"context"
	"time"

	"github.com/poiesic/feedsync/core"
)

// FeedScheduleUpdate carries the schedule and caching fields that the
// scheduler and sync engine mutate. Nil fields are left unchanged.
type FeedScheduleUpdate struct {
	Priority            *core.SyncPriority
	SyncIntervalHours   *int
	NextSyncAt          *time.Time
	LastFetchedAt       *time.Time
	ETag                *string
	LastModified        *string
	Status              *core.FeedStatus
	LastError           *string
	ConsecutiveFailures *int
}

// FeedRepository provides operations for managing feeds.
type FeedRepository interface {
	// AddFeeds adds one or more feeds to storage.
	// Generates IDs from a sequence and sets InsertedAt.
	// Returns ErrDuplicateKey if the tenant already subscribes to the URL.
	AddFeeds(ctx context.Context, feeds ...*core.Feed) ([]*core.Feed, error)

	// UpdateFeeds replaces existing feeds.
	// Returns ErrNotFound if any feed doesn't exist.
	UpdateFeeds(ctx context.Context, feeds ...*core.Feed) ([]*core.Feed, error)

	// DeleteFeeds removes feeds by their IDs.
	DeleteFeeds(ctx context.Context, ids ...core.ID) error

	// GetFeed retrieves a single feed by ID.
	// Returns ErrNotFound if the feed doesn't exist.
	GetFeed(ctx context.Context, id core.ID) (*core.Feed, error)

	// GetFeedByURL finds a tenant's subscription to a URL.
	// Returns ErrNotFound if the tenant has no such feed.
	GetFeedByURL(ctx context.Context, tenant core.TenantID, url string) (*core.Feed, error)

	// ListFeeds returns every feed ordered by ID.
	ListFeeds(ctx context.Context) ([]*core.Feed, error)

	// ListFeedsByTenant returns a tenant's feeds ordered by ID.
	ListFeedsByTenant(ctx context.Context, tenant core.TenantID) ([]*core.Feed, error)

	// GetFeedsDueForSync returns active feeds whose NextSyncAt is nil or <= now,
	// never-scheduled feeds first, then by NextSyncAt ascending, capped at limit.
	GetFeedsDueForSync(ctx context.Context, now time.Time, limit int) ([]*core.Feed, error)

	// GetTierFeedsDueForSync is GetFeedsDueForSync restricted to one priority.
	// Feeds of other tiers never count against limit.
	GetTierFeedsDueForSync(ctx context.Context, now time.Time, priority core.SyncPriority, limit int) ([]*core.Feed, error)

	// UpdateFeedSchedule applies the non-nil fields of update and returns the stored feed.
	// Returns ErrNotFound if the feed doesn't exist.
	UpdateFeedSchedule(ctx context.Context, id core.ID, update FeedScheduleUpdate) (*core.Feed, error)

	// Close releases resources held by the repository.
	Close() error
}

// ArticleRepository provides operations for managing articles.
type ArticleRepository interface {
	// AddArticles adds one or more articles to storage.
	// Generates IDs from a sequence and sets InsertedAt.
	// Returns ErrDuplicateKey if (FeedId, GUID) already exists.
	AddArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error)

	// UpdateArticles replaces existing articles and maintains indices.
	// Returns ErrNotFound if any article doesn't exist.
	UpdateArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error)

	// GetArticle retrieves a single article by ID.
	// Returns ErrNotFound if the article doesn't exist.
	GetArticle(ctx context.Context, id core.ID) (*core.Article, error)

	// GetArticles retrieves multiple articles by their IDs.
	// Returns only the articles that exist (no error for missing articles).
	GetArticles(ctx context.Context, ids ...core.ID) ([]*core.Article, error)

	// GetArticleByGUID looks up an article by its feed-scoped GUID.
	// Returns ErrNotFound if no such article exists.
	GetArticleByGUID(ctx context.Context, feedID core.ID, guid string) (*core.Article, error)

	// GetNewArticleIDs returns IDs of a feed's articles inserted at or after since.
	GetNewArticleIDs(ctx context.Context, feedID core.ID, since time.Time) ([]core.ID, error)

	// GetArticlesSince returns articles inserted at or after since, oldest first.
	GetArticlesSince(ctx context.Context, since time.Time) ([]*core.Article, error)

	// ListArticles returns up to limit articles with ID > afterID, ordered by ID.
	ListArticles(ctx context.Context, afterID core.ID, limit int) ([]*core.Article, error)

	// FindSimilar scans embedded articles and returns those with cosine
	// similarity >= minSimilarity to vector, highest first, up to limit.
	// Non-empty feedIDs restrict the scan to those feeds.
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float64, limit int, feedIDs ...core.ID) ([]*core.ScoredArticle, error)

	// Close releases resources held by the repository.
	Close() error
}

// EmbeddingQueueRepository provides operations for the enrichment queue.
type EmbeddingQueueRepository interface {
	// AddToEmbeddingQueue enqueues articles at the given priority.
	// Articles already queued keep their existing entry.
	AddToEmbeddingQueue(ctx context.Context, tenant core.TenantID, articleIDs []core.ID, priority, maxAttempts int) error

	// NextEmbeddingBatch returns up to limit pending entries, lowest priority
	// value first, then oldest first.
	NextEmbeddingBatch(ctx context.Context, limit int) ([]*core.EmbeddingQueueEntry, error)

	// ClaimQueueEntries moves the given entries from pending to processing in
	// one transaction and returns the ones it moved. Entries that are missing
	// or no longer pending are left out, so concurrent claimers never share
	// an entry.
	ClaimQueueEntries(ctx context.Context, articleIDs ...core.ID) ([]*core.EmbeddingQueueEntry, error)

	// ReclaimProcessing returns processing entries last updated before
	// cutoff to pending and reports how many it moved.
	ReclaimProcessing(ctx context.Context, cutoff time.Time) (int, error)

	// UpdateQueueEntries replaces existing queue entries.
	UpdateQueueEntries(ctx context.Context, entries ...*core.EmbeddingQueueEntry) error

	// RemoveFromQueue deletes entries by article ID. Missing entries are ignored.
	RemoveFromQueue(ctx context.Context, articleIDs ...core.ID) error

	// CountQueue returns the number of entries per status.
	CountQueue(ctx context.Context) (map[core.QueueStatus]int, error)
}

// DeadLetterRepository persists work that exhausted its retries.
type DeadLetterRepository interface {
	// AddDeadLetter stores an item. Id and InsertedAt must be set.
	AddDeadLetter(ctx context.Context, item *core.DeadLetterItem) error

	// GetDeadLetters returns up to limit items, oldest first.
	GetDeadLetters(ctx context.Context, limit int) ([]*core.DeadLetterItem, error)

	// GetDeadLetter retrieves one item.
	// Returns ErrNotFound if the item doesn't exist.
	GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterItem, error)

	// RemoveDeadLetter deletes one item.
	// Returns ErrNotFound if the item doesn't exist.
	RemoveDeadLetter(ctx context.Context, id string) error
}

// UsageRepository stores the usage log and per-day aggregates.
type UsageRepository interface {
	// AppendUsageRecord appends an immutable usage-log entry.
	AppendUsageRecord(ctx context.Context, record *core.UsageRecord) error

	// ListUsageRecords returns a tenant's log entries for a UTC date (YYYY-MM-DD).
	ListUsageRecords(ctx context.Context, tenant core.TenantID, date string) ([]*core.UsageRecord, error)

	// GetDailyUsage returns the aggregate for (tenant, date).
	// Returns an empty aggregate, not an error, when nothing was recorded.
	GetDailyUsage(ctx context.Context, tenant core.TenantID, date string) (*core.AIUsageDaily, error)

	// IncrementDailyUsage atomically applies delta to (tenant, date) and
	// returns the updated aggregate.
	IncrementDailyUsage(ctx context.Context, tenant core.TenantID, date string, delta core.UsageDelta) (*core.AIUsageDaily, error)
}

// ClusterRepository provides operations for topic clusters.
type ClusterRepository interface {
	// AddClusters stores clusters, generating IDs and InsertedAt.
	AddClusters(ctx context.Context, clusters ...*core.Cluster) ([]*core.Cluster, error)

	// GetCluster retrieves one cluster.
	// Returns ErrNotFound if the cluster doesn't exist.
	GetCluster(ctx context.Context, id core.ID) (*core.Cluster, error)

	// GetActiveClusters returns a tenant's clusters that are active at now,
	// ordered by RelevanceScore descending.
	GetActiveClusters(ctx context.Context, tenant core.TenantID, now time.Time) ([]*core.Cluster, error)

	// SupersedeActiveClusters marks the tenant's active clusters superseded at
	// the given time and returns them.
	SupersedeActiveClusters(ctx context.Context, tenant core.TenantID, at time.Time) ([]*core.Cluster, error)

	// PurgeExpiredClusters physically deletes clusters that expired or were
	// superseded before the cutoff. Returns the number removed.
	PurgeExpiredClusters(ctx context.Context, before time.Time) (int, error)
}

// CatalogRepository provides the recommended-feed catalog.
type CatalogRepository interface {
	// AddCatalogEntries upserts catalog entries keyed by normalized URL.
	AddCatalogEntries(ctx context.Context, entries ...*core.CatalogEntry) error

	// GetRecommendedFeedByURL looks up a catalog entry.
	// Returns ErrNotFound when the URL is not cataloged.
	GetRecommendedFeedByURL(ctx context.Context, url string) (*core.CatalogEntry, error)

	// ListCatalog returns all entries.
	ListCatalog(ctx context.Context) ([]*core.CatalogEntry, error)
}

// CheckpointRepository persists progress of resumable batch jobs.
type CheckpointRepository interface {
	// SaveCheckpoint persists the checkpoint for its job.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for a job.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, job string) (*core.Checkpoint, error)

	// ClearCheckpoint removes the checkpoint for a job.
	ClearCheckpoint(ctx context.Context, job string) error
}
