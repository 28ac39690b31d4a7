package reembed

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/poiesic/feedsync/ai/mock"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ingestion"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cancellingQueue cancels the run once the first batch has been queued.
type cancellingQueue struct {
	Queue
	cancel context.CancelFunc
}

func (q *cancellingQueue) AddToEmbeddingQueue(ctx context.Context, tenant core.TenantID, ids []core.ID, priority, maxAttempts int) error {
	defer q.cancel()
	return q.Queue.AddToEmbeddingQueue(ctx, tenant, ids, priority, maxAttempts)
}

func newReembedder(t *testing.T, store *badger.Store, queue Queue, config *Config, out io.Writer) *Reembedder {
	t.Helper()
	r, err := NewReembedder(store.Articles, store.Feeds, queue, store.Checkpoints, config, out)
	require.NoError(t, err)
	return r
}

func TestNewReembedder_RequiresDependencies(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := NewReembedder(nil, store.Feeds, store.Queue, store.Checkpoints, nil, nil)
	assert.ErrorIs(t, err, ErrArticleStoreRequired)
	_, err = NewReembedder(store.Articles, nil, store.Queue, store.Checkpoints, nil, nil)
	assert.ErrorIs(t, err, ErrFeedStoreRequired)
	_, err = NewReembedder(store.Articles, store.Feeds, nil, store.Checkpoints, nil, nil)
	assert.ErrorIs(t, err, ErrQueueRequired)
	_, err = NewReembedder(store.Articles, store.Feeds, store.Queue, nil, nil, nil)
	assert.ErrorIs(t, err, ErrCheckpointStoreRequired)
	_, err = NewReembedder(store.Articles, store.Feeds, store.Queue, store.Checkpoints, &Config{BatchSize: 10}, nil)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestReembedder_Run(t *testing.T) {
	store, feed := setupTestStore(t)
	ctx := context.Background()
	addArticles(t, store, feed.Id, core.EmbeddingPending, 4)
	addArticles(t, store, feed.Id, core.EmbeddingCompleted, 3)
	addArticles(t, store, feed.Id, core.EmbeddingFailed, 3)

	var buf bytes.Buffer
	r := newReembedder(t, store, store.Queue, &Config{BatchSize: 3, ReportInterval: 3, MaxAttempts: 3}, &buf)
	summary, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, BackfillJob, summary.Job)
	assert.Equal(t, 10, summary.Scanned)
	assert.Equal(t, 7, summary.Queued)
	assert.Equal(t, 3, summary.Skipped)
	assert.Len(t, queuedByID(t, store.Queue), 7)
	assert.Contains(t, buf.String(), "10/10")

	checkpoint, err := store.Checkpoints.LoadCheckpoint(ctx, BackfillJob)
	require.NoError(t, err)
	assert.Nil(t, checkpoint, "a completed run clears its checkpoint")
}

func TestReembedder_EmptyStore(t *testing.T) {
	store, _ := setupTestStore(t)

	var buf bytes.Buffer
	summary, err := newReembedder(t, store, store.Queue, nil, &buf).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned)
	assert.Contains(t, buf.String(), "0 articles")
}

func TestReembedder_ResumesFromCheckpoint(t *testing.T) {
	store, feed := setupTestStore(t)
	addArticles(t, store, feed.Id, core.EmbeddingPending, 6)
	config := &Config{BatchSize: 2, ReportInterval: 1, MaxAttempts: 3}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupted := newReembedder(t, store, &cancellingQueue{Queue: store.Queue, cancel: cancel}, config, nil)
	summary, err := interrupted.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Scanned)

	checkpoint, err := store.Checkpoints.LoadCheckpoint(context.Background(), BackfillJob)
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, 2, checkpoint.Processed)

	var buf bytes.Buffer
	summary, err = newReembedder(t, store, store.Queue, config, &buf).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.LastID, summary.ResumedAt)
	assert.Equal(t, 4, summary.Scanned)
	assert.Contains(t, buf.String(), "Resuming backfill")
	assert.Len(t, queuedByID(t, store.Queue), 6)
}

func TestReembedder_RestartIgnoresCheckpoint(t *testing.T) {
	store, feed := setupTestStore(t)
	ctx := context.Background()
	added := addArticles(t, store, feed.Id, core.EmbeddingPending, 4)
	require.NoError(t, store.Checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{Job: BackfillJob, LastID: added[3].Id, Processed: 4}))

	summary, err := newReembedder(t, store, store.Queue, &Config{BatchSize: 10, MaxAttempts: 3, Restart: true}, nil).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.ResumedAt)
	assert.Equal(t, 4, summary.Scanned)
}

func TestReembedder_AllUsesSeparateJob(t *testing.T) {
	store, feed := setupTestStore(t)
	ctx := context.Background()
	added := addArticles(t, store, feed.Id, core.EmbeddingCompleted, 3)
	require.NoError(t, store.Checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{Job: BackfillJob, LastID: added[2].Id}))

	r := newReembedder(t, store, store.Queue, &Config{BatchSize: 10, MaxAttempts: 3, All: true}, nil)
	assert.Equal(t, ReembedJob, r.Job())
	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Queued)
}

func TestReembedder_BackfillIsEmbeddedByPipeline(t *testing.T) {
	store, feed := setupTestStore(t)
	ctx := context.Background()
	addArticles(t, store, feed.Id, core.EmbeddingFailed, 3)
	addArticles(t, store, feed.Id, core.EmbeddingCompleted, 2)

	_, err := newReembedder(t, store, store.Queue, DefaultConfig(), nil).Run(ctx)
	require.NoError(t, err)

	tracker, err := ratelimit.NewTracker(store.Usage)
	require.NoError(t, err)
	provider := mock.NewMockProviderWithServices(&mock.MockEmbedder{Dimensions: 4}, mock.NewMockSummarizer())
	pipeline, err := ingestion.NewPipeline(store.Articles, store.Queue, tracker, provider)
	require.NoError(t, err)
	defer pipeline.Release()

	result, err := pipeline.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Embedded)

	articles, err := store.Articles.ListArticles(ctx, 0, 100)
	require.NoError(t, err)
	for _, a := range articles {
		assert.Equal(t, core.EmbeddingCompleted, a.EmbeddingStatus)
		assert.NotEmpty(t, a.Embedding)
	}
}
