package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/feedsync/ai/mock"
	"github.com/poiesic/feedsync/clustering"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/storage"
	"github.com/poiesic/feedsync/storage/badger"
	"github.com/poiesic/feedsync/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenant = core.TenantID("tenant-a")

var fastBackoff = ratelimit.BackoffConfig{MaxAttempts: 2, Delays: []time.Duration{time.Millisecond}}

type fakeClusterer struct {
	mu      sync.Mutex
	tenants []core.TenantID
}

func (f *fakeClusterer) Run(_ context.Context, t core.TenantID) (*clustering.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants = append(f.tenants, t)
	return &clustering.RunResult{Tenant: t}, nil
}

func (f *fakeClusterer) runs() []core.TenantID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.TenantID(nil), f.tenants...)
}

type harness struct {
	store    *badger.Store
	tracker  *ratelimit.Tracker
	dlq      *ratelimit.DeadLetterQueueManager
	embedder *mock.MockEmbedder
	feed     *core.Feed
}

func newHarness(t *testing.T, limits ratelimit.LimitsProvider) *harness {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := []ratelimit.TrackerOption{ratelimit.WithUsageLog(store.Usage)}
	if limits != nil {
		opts = append(opts, ratelimit.WithLimits(limits))
	}
	tracker, err := ratelimit.NewTracker(store.Usage, opts...)
	require.NoError(t, err)

	dlq, err := ratelimit.NewDeadLetterQueueManager(store.DeadLetters, nil)
	require.NoError(t, err)

	feeds, err := store.Feeds.AddFeeds(context.Background(), &core.Feed{
		Tenant:   tenant,
		URL:      "https://example.com/feed",
		Status:   core.FeedStatusActive,
		Priority: core.PriorityMedium,
	})
	require.NoError(t, err)

	return &harness{
		store:    store,
		tracker:  tracker,
		dlq:      dlq,
		embedder: &mock.MockEmbedder{Dimensions: 8},
		feed:     feeds[0],
	}
}

func (h *harness) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	provider := mock.NewMockProviderWithServices(h.embedder, mock.NewMockSummarizer())
	opts = append([]Option{
		WithPoolSize(2),
		WithBackoff(fastBackoff),
		WithDeadLetterQueue(h.dlq),
	}, opts...)
	p, err := NewPipeline(h.store.Articles, h.store.Queue, h.tracker, provider, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func (h *harness) addArticles(t *testing.T, n int) []core.ID {
	t.Helper()
	articles := make([]*core.Article, n)
	for i := range articles {
		articles[i] = &core.Article{
			FeedId:  h.feed.Id,
			GUID:    fmt.Sprintf("guid-%d", i),
			Title:   fmt.Sprintf("Headline number %d", i),
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Excerpt: "Some body text.",
		}
	}
	added, err := h.store.Articles.AddArticles(context.Background(), articles...)
	require.NoError(t, err)
	ids := make([]core.ID, len(added))
	for i, a := range added {
		ids[i] = a.Id
	}
	return ids
}

func (h *harness) enqueue(t *testing.T, ids []core.ID, maxAttempts int) {
	t.Helper()
	require.NoError(t, h.store.Queue.AddToEmbeddingQueue(context.Background(), tenant, ids, NewArticlePriority, maxAttempts))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	h := newHarness(t, nil)
	provider := mock.NewMockProvider()

	_, err := NewPipeline(nil, h.store.Queue, h.tracker, provider)
	assert.ErrorIs(t, err, ErrArticleStoreRequired)
	_, err = NewPipeline(h.store.Articles, nil, h.tracker, provider)
	assert.ErrorIs(t, err, ErrQueueRequired)
	_, err = NewPipeline(h.store.Articles, h.store.Queue, nil, provider)
	assert.ErrorIs(t, err, ErrTrackerRequired)
	_, err = NewPipeline(h.store.Articles, h.store.Queue, h.tracker, nil)
	assert.ErrorIs(t, err, ErrAIProviderRequired)
	_, err = NewPipeline(h.store.Articles, h.store.Queue, h.tracker, provider, WithBackoff(ratelimit.BackoffConfig{}))
	assert.ErrorIs(t, err, ratelimit.ErrInvalidMaxAttempts)
}

func TestOnFeedSynced_EmbedsAndTriggersClustering(t *testing.T) {
	h := newHarness(t, nil)
	clusterer := &fakeClusterer{}
	p := h.pipeline(t, WithClusterRunner(clusterer))
	ctx := context.Background()
	ids := h.addArticles(t, 3)

	p.OnFeedSynced(ctx, h.feed, &syncer.Result{
		FeedID:            h.feed.Id,
		Success:           true,
		NewArticleIDs:     ids[:2],
		UpdatedArticleIDs: ids[2:],
	})
	p.Wait()

	articles, err := h.store.Articles.GetArticles(ctx, ids...)
	require.NoError(t, err)
	require.Len(t, articles, 3)
	for _, a := range articles {
		assert.Equal(t, core.EmbeddingCompleted, a.EmbeddingStatus)
		assert.InDelta(t, 1.0, norm(a.Embedding), 1e-5)
	}

	counts, err := h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	remaining, err := h.tracker.Remaining(ctx, tenant, core.OpEmbeddings)
	require.NoError(t, err)
	assert.Equal(t, 497, remaining)

	assert.Equal(t, []core.TenantID{tenant}, clusterer.runs())
}

func TestOnFeedSynced_IgnoresFailedSyncs(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t)
	ctx := context.Background()
	ids := h.addArticles(t, 1)

	p.OnFeedSynced(ctx, h.feed, &syncer.Result{Success: false, NewArticleIDs: ids})
	p.OnFeedSynced(ctx, h.feed, &syncer.Result{Success: true})
	p.Wait()

	counts, err := h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.Zero(t, h.embedder.CallCount())
}

func TestProcessQueue_DefersOverBudget(t *testing.T) {
	limits := ratelimit.StaticLimits{Default: core.DailyLimits{Embeddings: 2, Clusterings: 1, Searches: 1, Summaries: 1}}
	h := newHarness(t, limits)
	p := h.pipeline(t)
	ctx := context.Background()
	h.enqueue(t, h.addArticles(t, 3), DefaultMaxAttempts)

	res, err := p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, []core.TenantID{tenant}, res.Tenants)

	// Budget is now spent: nothing is embedded and the entry stays pending.
	res, err = p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Embedded)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 2, h.embedder.CallCount())

	counts, err := h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[core.QueuePending])
}

func TestProcessQueue_DeadLettersTransientFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.embedder.EmbedTextFunc = func(_ context.Context, text string) ([]float32, error) {
		if strings.HasPrefix(text, "Headline number 1") {
			return nil, errors.New("429 too many requests")
		}
		return []float32{1, 2, 3}, nil
	}
	p := h.pipeline(t)
	ctx := context.Background()
	ids := h.addArticles(t, 2)
	h.enqueue(t, ids, DefaultMaxAttempts)

	res, err := p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)
	assert.Equal(t, 1, res.DeadLettered)

	failed, err := h.store.Articles.GetArticle(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingFailed, failed.EmbeddingStatus)

	items, err := h.dlq.GetItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, core.OpEmbeddings, items[0].Operation)
	assert.Equal(t, tenant, items[0].Tenant)
	assert.Equal(t, 2, items[0].Attempts)

	counts, err := h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	// Replay puts the article back on the queue and clears the dead letter.
	h.embedder.EmbedTextFunc = nil
	require.NoError(t, p.ReplayDeadLetter(ctx, items[0].Id))
	items, err = h.dlq.GetItems(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	res, err = p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Embedded)
	replayed, err := h.store.Articles.GetArticle(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingCompleted, replayed.EmbeddingStatus)
}

func TestProcessQueue_PermanentFailureCountsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("invalid input")
	}
	p := h.pipeline(t)
	ctx := context.Background()
	ids := h.addArticles(t, 1)
	h.enqueue(t, ids, 2)

	res, err := p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.DeadLettered)

	entries, err := h.store.Queue.NextEmbeddingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, "invalid input", entries[0].LastError)

	_, err = p.ProcessQueue(ctx)
	require.NoError(t, err)
	counts, err := h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[core.QueueFailed])

	article, err := h.store.Articles.GetArticle(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingFailed, article.EmbeddingStatus)
}

func TestProcessQueue_DropsOrphanedEntries(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t)
	ctx := context.Background()
	h.enqueue(t, []core.ID{9999}, DefaultMaxAttempts)

	res, err := p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Embedded)

	counts, err := h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestDrain_StopsWhenQueueEmpty(t *testing.T) {
	h := newHarness(t, nil)
	clusterer := &fakeClusterer{}
	p := h.pipeline(t, WithBatchSize(2), WithClusterRunner(clusterer))
	ctx := context.Background()
	h.enqueue(t, h.addArticles(t, 5), DefaultMaxAttempts)

	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Embedded)
	p.Wait()
	assert.Equal(t, []core.TenantID{tenant}, clusterer.runs())
}

func TestReplayDeadLetter_RejectsOtherOperations(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t)
	ctx := context.Background()

	id, err := h.dlq.AddToQueue(ctx, core.OpSummaries, "mock", []byte(`{}`), errors.New("boom"), 3, tenant)
	require.NoError(t, err)
	err = p.ReplayDeadLetter(ctx, id)
	assert.ErrorIs(t, err, ErrUnexpectedOperation)

	item, err := h.dlq.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, item.Id)
}

type flakyArticles struct {
	ArticleStore
	mu    sync.Mutex
	fails int
}

func (f *flakyArticles) GetArticles(ctx context.Context, ids ...core.ID) ([]*core.Article, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.ArticleStore.GetArticles(ctx, ids...)
}

func TestProcessQueue_ReleasesClaimsOnError(t *testing.T) {
	h := newHarness(t, nil)
	articles := &flakyArticles{ArticleStore: h.store.Articles, fails: 1}
	p, err := NewPipeline(articles, h.store.Queue, h.tracker, mock.NewMockProviderWithServices(h.embedder, mock.NewMockSummarizer()),
		WithBackoff(fastBackoff), WithDeadLetterQueue(h.dlq))
	require.NoError(t, err)
	t.Cleanup(p.Release)
	ctx := context.Background()
	h.enqueue(t, h.addArticles(t, 2), DefaultMaxAttempts)

	_, err = p.ProcessQueue(ctx)
	require.Error(t, err)
	counts, err := h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[core.QueueStatus]int{core.QueuePending: 2}, counts)

	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
	counts, err = h.store.Queue.CountQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestDrain_ReclaimsStaleProcessingEntries(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t, WithLease(time.Millisecond))
	ctx := context.Background()
	ids := h.addArticles(t, 2)
	h.enqueue(t, ids, DefaultMaxAttempts)

	// Left behind by a pass that never finished.
	claimed, err := h.store.Queue.ClaimQueueEntries(ctx, ids...)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	time.Sleep(5 * time.Millisecond)

	res, err := p.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
}

func TestProcessQueue_SkipsEntriesClaimedElsewhere(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t)
	ctx := context.Background()
	ids := h.addArticles(t, 3)
	h.enqueue(t, ids, DefaultMaxAttempts)

	_, err := h.store.Queue.ClaimQueueEntries(ctx, ids[0])
	require.NoError(t, err)

	res, err := p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
	assert.Equal(t, 2, h.embedder.CallCount())
}

func TestDrain_ConcurrentDrainsEmbedOnce(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t, WithBatchSize(2))
	ctx := context.Background()
	h.enqueue(t, h.addArticles(t, 6), DefaultMaxAttempts)

	var wg sync.WaitGroup
	var mu sync.Mutex
	embedded := 0
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Drain(ctx)
			assert.NoError(t, err)
			mu.Lock()
			embedded += res.Embedded
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, embedded)
	assert.Equal(t, 6, h.embedder.CallCount())
	remaining, err := h.tracker.Remaining(ctx, tenant, core.OpEmbeddings)
	require.NoError(t, err)
	assert.Equal(t, 494, remaining)
}

type unwritableDeadLetters struct {
	storage.DeadLetterRepository
}

func (unwritableDeadLetters) AddDeadLetter(context.Context, *core.DeadLetterItem) error {
	return errors.New("disk full")
}

func TestProcessQueue_KeepsEntryWhenDeadLetterNotStored(t *testing.T) {
	h := newHarness(t, nil)
	h.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("503 service unavailable")
	}
	dlq, err := ratelimit.NewDeadLetterQueueManager(unwritableDeadLetters{h.store.DeadLetters}, nil)
	require.NoError(t, err)
	p := h.pipeline(t, WithDeadLetterQueue(dlq))
	ctx := context.Background()
	ids := h.addArticles(t, 1)
	h.enqueue(t, ids, DefaultMaxAttempts)

	res, err := p.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.DeadLettered)
	assert.Equal(t, 1, res.Failed)

	entries, err := h.store.Queue.NextEmbeddingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Contains(t, entries[0].LastError, "503")

	article, err := h.store.Articles.GetArticle(ctx, ids[0])
	require.NoError(t, err)
	assert.NotEqual(t, core.EmbeddingFailed, article.EmbeddingStatus)
}

type blockingClusterer struct {
	release chan struct{}
	started chan struct{}
	mu      sync.Mutex
	active  int
	peak    int
	runs    int
}

func (b *blockingClusterer) Run(_ context.Context, t core.TenantID) (*clustering.RunResult, error) {
	b.mu.Lock()
	b.active++
	b.runs++
	b.peak = max(b.peak, b.active)
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	return &clustering.RunResult{Tenant: t}, nil
}

func TestSubmitClustering_SerializesRunsPerTenant(t *testing.T) {
	h := newHarness(t, nil)
	clusterer := &blockingClusterer{release: make(chan struct{}), started: make(chan struct{}, 4)}
	p := h.pipeline(t, WithPoolSize(4), WithClusterRunner(clusterer))

	p.SubmitClustering(tenant)
	<-clusterer.started
	// Both arrive while the first run is in progress and fold into one rerun.
	p.SubmitClustering(tenant)
	p.SubmitClustering(tenant)
	close(clusterer.release)
	p.Wait()

	clusterer.mu.Lock()
	defer clusterer.mu.Unlock()
	assert.Equal(t, 2, clusterer.runs)
	assert.Equal(t, 1, clusterer.peak)
}
