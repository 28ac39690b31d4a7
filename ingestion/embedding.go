package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/poiesic/feedsync/ai"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
)

// embeddingPayload is what an exhausted embedding leaves in the dead-letter queue.
type embeddingPayload struct {
	ArticleID core.ID `json:"article_id"`
	FeedID    core.ID `json:"feed_id"`
	Title     string  `json:"title"`
}

func decodeEmbeddingPayload(item *core.DeadLetterItem) (*embeddingPayload, error) {
	if item.Operation != core.OpEmbeddings {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedOperation, item.Operation)
	}
	var payload embeddingPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if payload.ArticleID == 0 {
		return nil, fmt.Errorf("decode payload: missing article id")
	}
	return &payload, nil
}

// embeddingProcessor embeds one tenant's articles with per-item retry.
type embeddingProcessor struct {
	embedder ai.Embedder
	info     ai.ProviderInfo
	dlq      *ratelimit.DeadLetterQueueManager
	backoff  ratelimit.BackoffConfig
	logger   *slog.Logger
}

func newEmbeddingProcessor(embedder ai.Embedder, info ai.ProviderInfo, dlq *ratelimit.DeadLetterQueueManager, backoff ratelimit.BackoffConfig, logger *slog.Logger) *embeddingProcessor {
	return &embeddingProcessor{
		embedder: embedder,
		info:     info,
		dlq:      dlq,
		backoff:  backoff,
		logger:   logger.With("processor", "embeddings"),
	}
}

// process embeds articles in place. Successful articles carry a unit
// vector and the completed status.
func (ep *embeddingProcessor) process(ctx context.Context, tenant core.TenantID, articles []*core.Article) *ratelimit.BatchResult[*core.Article] {
	ep.logger.Debug("embedding articles", "tenant", tenant, "articles", len(articles))

	batch := ratelimit.NewBatchProcessor[*core.Article](core.OpEmbeddings, ep.info.Name, ep.dlq,
		ratelimit.WithBackoff[*core.Article](ep.backoff),
		ratelimit.WithTenantFunc(func(*core.Article) core.TenantID { return tenant }),
		ratelimit.WithPayloadFunc(func(a *core.Article) ([]byte, error) {
			return json.Marshal(embeddingPayload{ArticleID: a.Id, FeedID: a.FeedId, Title: a.Title})
		}),
		ratelimit.WithBatchLogger[*core.Article](ep.logger))

	return batch.ProcessBatch(ctx, articles, func(ctx context.Context, a *core.Article) error {
		vector, err := ep.embedder.EmbedText(ctx, a.EmbeddingText())
		if err != nil {
			return err
		}
		if len(vector) == 0 {
			return ratelimit.Permanent(fmt.Errorf("empty embedding for article %d", a.Id))
		}
		a.Embedding = core.NormalizeVector(vector)
		a.EmbeddingStatus = core.EmbeddingCompleted
		return nil
	})
}

// estimateTokens approximates the provider's token count for usage costing.
func estimateTokens(articles []*core.Article) int {
	var chars int
	for _, a := range articles {
		chars += len(a.EmbeddingText())
	}
	return (chars + 3) / 4
}
