package reembed

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// BackfillPriority queues backfilled articles behind freshly synced ones.
const BackfillPriority = 2

// ArticleUpdater persists article changes.
type ArticleUpdater interface {
	UpdateArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error)
}

// FeedGetter resolves the feed that owns an article.
type FeedGetter interface {
	GetFeed(ctx context.Context, id core.ID) (*core.Feed, error)
}

// Queue is the embedding queue that backfilled articles are added to.
type Queue interface {
	AddToEmbeddingQueue(ctx context.Context, tenant core.TenantID, articleIDs []core.ID, priority, maxAttempts int) error
	RemoveFromQueue(ctx context.Context, articleIDs ...core.ID) error
}

// BatchOutcome counts what happened to one batch.
type BatchOutcome struct {
	Queued   int
	Skipped  int
	Orphaned int
}

// BatchProcessor decides which articles of a batch need embedding and queues them.
type BatchProcessor struct {
	articles    ArticleUpdater
	feeds       FeedGetter
	queue       Queue
	maxAttempts int
	all         bool
	tenants     map[core.ID]core.TenantID
}

// NewBatchProcessor creates a new batch processor.
// all: reset and requeue every article instead of only pending or failed ones
func NewBatchProcessor(articles ArticleUpdater, feeds FeedGetter, queue Queue, maxAttempts int, all bool) (*BatchProcessor, error) {
	if maxAttempts <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	return &BatchProcessor{
		articles:    articles,
		feeds:       feeds,
		queue:       queue,
		maxAttempts: maxAttempts,
		all:         all,
		tenants:     make(map[core.ID]core.TenantID),
	}, nil
}

// Process queues the articles of one batch that need an embedding.
// Articles whose feed no longer exists are counted as orphaned.
func (bp *BatchProcessor) Process(ctx context.Context, articles []*core.Article) (*BatchOutcome, error) {
	outcome := &BatchOutcome{}
	if len(articles) == 0 {
		return outcome, nil
	}

	byTenant := make(map[core.TenantID][]core.ID)
	var reset, requeue []*core.Article
	for _, article := range articles {
		if !bp.needsEmbedding(article) {
			outcome.Skipped++
			continue
		}
		tenant, err := bp.tenantOf(ctx, article.FeedId)
		if errors.Is(err, storage.ErrNotFound) {
			outcome.Orphaned++
			continue
		}
		if err != nil {
			return nil, err
		}
		if article.EmbeddingStatus != core.EmbeddingPending {
			reset = append(reset, article)
		}
		if bp.all || article.EmbeddingStatus == core.EmbeddingFailed {
			requeue = append(requeue, article)
		}
		byTenant[tenant] = append(byTenant[tenant], article.Id)
	}

	// Stale entries would keep their attempt count or failed status.
	if len(requeue) > 0 {
		if err := bp.queue.RemoveFromQueue(ctx, ids(requeue)...); err != nil {
			return nil, fmt.Errorf("failed to clear queue entries: %w", err)
		}
	}
	if len(reset) > 0 {
		for _, article := range reset {
			article.EmbeddingStatus = core.EmbeddingPending
			if bp.all {
				article.Embedding = nil
			}
		}
		if _, err := bp.articles.UpdateArticles(ctx, reset...); err != nil {
			return nil, fmt.Errorf("failed to reset articles: %w", err)
		}
	}
	for tenant, articleIDs := range byTenant {
		if err := bp.queue.AddToEmbeddingQueue(ctx, tenant, articleIDs, BackfillPriority, bp.maxAttempts); err != nil {
			return nil, fmt.Errorf("failed to enqueue articles for %s: %w", tenant, err)
		}
		outcome.Queued += len(articleIDs)
	}
	return outcome, nil
}

func (bp *BatchProcessor) needsEmbedding(article *core.Article) bool {
	if bp.all {
		return true
	}
	return article.EmbeddingStatus == core.EmbeddingPending || article.EmbeddingStatus == core.EmbeddingFailed
}

func (bp *BatchProcessor) tenantOf(ctx context.Context, feedID core.ID) (core.TenantID, error) {
	if tenant, ok := bp.tenants[feedID]; ok {
		return tenant, nil
	}
	feed, err := bp.feeds.GetFeed(ctx, feedID)
	if err != nil {
		return "", err
	}
	bp.tenants[feedID] = feed.Tenant
	return feed.Tenant, nil
}

func ids(articles []*core.Article) []core.ID {
	out := make([]core.ID, len(articles))
	for i, a := range articles {
		out[i] = a.Id
	}
	return out
}
