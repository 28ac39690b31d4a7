package clustering

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/feedsync/ai"
	"github.com/poiesic/feedsync/ai/mock"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantA = core.TenantID("tenant-a")
	tenantB = core.TenantID("tenant-b")
)

type fixture struct {
	store    *badger.Store
	tracker  *ratelimit.Tracker
	articles map[string]*core.Article
}

func newFixture(t *testing.T, limits ratelimit.LimitsProvider) *fixture {
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

	ctx := context.Background()
	feeds, err := store.Feeds.AddFeeds(ctx,
		&core.Feed{Tenant: tenantA, URL: "https://a.example.com/feed", Status: core.FeedStatusActive, Priority: core.PriorityMedium},
		&core.Feed{Tenant: tenantA, URL: "https://b.example.com/feed", Status: core.FeedStatusActive, Priority: core.PriorityMedium},
		&core.Feed{Tenant: tenantB, URL: "https://c.example.com/feed", Status: core.FeedStatusActive, Priority: core.PriorityMedium},
	)
	require.NoError(t, err)
	feedA, feedB, feedC := feeds[0].Id, feeds[1].Id, feeds[2].Id

	f := &fixture{store: store, tracker: tracker, articles: make(map[string]*core.Article)}
	add := func(name string, feed core.ID, vec ...float32) {
		a := &core.Article{
			FeedId:          feed,
			GUID:            name,
			Title:           fmt.Sprintf("Story %s", name),
			URL:             "https://example.com/" + name,
			Embedding:       vec,
			EmbeddingStatus: core.EmbeddingCompleted,
		}
		added, err := store.Articles.AddArticles(ctx, a)
		require.NoError(t, err)
		f.articles[name] = added[0]
	}
	add("a1", feedA, 1, 0, 0)
	add("b1", feedB, 0.97, 0.03, 0)
	add("a2", feedA, 0, 1, 0)
	add("a3", feedA, 0, 0.98, 0.02)
	add("c1", feedC, 1, 0, 0)
	return f
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(f.store.Articles, f.store.Feeds, f.store.Clusters, f.tracker, opts...)
	require.NoError(t, err)
	return e
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	f := newFixture(t, nil)
	_, err := NewEngine(nil, f.store.Feeds, f.store.Clusters, f.tracker)
	assert.ErrorIs(t, err, ErrArticleStoreRequired)
	_, err = NewEngine(f.store.Articles, nil, f.store.Clusters, f.tracker)
	assert.ErrorIs(t, err, ErrFeedStoreRequired)
	_, err = NewEngine(f.store.Articles, f.store.Feeds, nil, f.tracker)
	assert.ErrorIs(t, err, ErrClusterStoreRequired)
	_, err = NewEngine(f.store.Articles, f.store.Feeds, f.store.Clusters, nil)
	assert.ErrorIs(t, err, ErrTrackerRequired)
}

func TestRun_FormsAndPersistsClusters(t *testing.T) {
	f := newFixture(t, nil)
	summarizer := mock.NewMockSummarizer()
	e := f.engine(t, WithSummarizer(summarizer, ai.ProviderInfo{Name: "mock", SummaryModel: "mock-chat"}))
	ctx := context.Background()

	before := time.Now()
	res, err := e.Run(ctx, tenantA)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 4, res.Considered)
	assert.Equal(t, 1, res.Summarized)
	require.Len(t, res.Clusters, 1)

	c := res.Clusters[0]
	assert.NotZero(t, c.Id)
	assert.ElementsMatch(t, []core.ID{f.articles["a1"].Id, f.articles["b1"].Id}, c.ArticleIds)
	assert.Len(t, c.FeedIds, 2)
	assert.Equal(t, 4, c.RelevanceScore)
	assert.WithinDuration(t, before.Add(48*time.Hour), c.ExpiresAt, time.Minute)
	assert.NotEmpty(t, c.Summary)
	assert.Equal(t, 1, summarizer.CallCount())

	for _, name := range []string{"a1", "b1"} {
		got, err := f.store.Articles.GetArticle(ctx, f.articles[name].Id)
		require.NoError(t, err)
		assert.Equal(t, c.Id, got.ClusterId, name)
	}
	got, err := f.store.Articles.GetArticle(ctx, f.articles["a2"].Id)
	require.NoError(t, err)
	assert.Zero(t, got.ClusterId)

	snap, err := f.tracker.Snapshot(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Operations[core.OpClusterings].Count)
	assert.Equal(t, 1, snap.Operations[core.OpSummaries].Count)
}

func TestRun_SupersedesPreviousRun(t *testing.T) {
	f := newFixture(t, nil)
	e := f.engine(t)
	ctx := context.Background()

	first, err := e.Run(ctx, tenantA)
	require.NoError(t, err)
	second, err := e.Run(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Superseded)
	require.Len(t, second.Clusters, 1)
	assert.NotEqual(t, first.Clusters[0].Id, second.Clusters[0].Id)

	active, err := e.ListClusters(ctx, tenantA)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.Clusters[0].Id, active[0].Id)

	got, err := f.store.Articles.GetArticle(ctx, f.articles["a1"].Id)
	require.NoError(t, err)
	assert.Equal(t, second.Clusters[0].Id, got.ClusterId)

	other, err := e.ListClusters(ctx, tenantB)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRun_UnavailableSkips(t *testing.T) {
	f := newFixture(t, nil)
	e := f.engine(t, WithAvailability(func() bool { return false }))
	ctx := context.Background()

	res, err := e.Run(ctx, tenantA)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.NotEmpty(t, res.Reason)
	assert.Empty(t, res.Clusters)

	remaining, err := f.tracker.Remaining(ctx, tenantA, core.OpClusterings)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestRun_BudgetExceeded(t *testing.T) {
	limits := ratelimit.StaticLimits{Default: core.DailyLimits{Embeddings: 10, Clusterings: 1, Searches: 1, Summaries: 1}}
	f := newFixture(t, limits)
	e := f.engine(t)
	ctx := context.Background()

	first, err := e.Run(ctx, tenantA)
	require.NoError(t, err)

	_, err = e.Run(ctx, tenantA)
	assert.ErrorIs(t, err, ratelimit.ErrBudgetExceeded)

	// The refused run left the first run's clusters in place.
	active, err := e.ListClusters(ctx, tenantA)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.Clusters[0].Id, active[0].Id)
}

func TestRun_SummaryFailureKeepsSeedTitle(t *testing.T) {
	f := newFixture(t, nil)
	summarizer := mock.NewMockSummarizer()
	summarizer.SummarizeClusterFunc = func(context.Context, []string) (*ai.ClusterSummary, error) {
		return nil, errors.New("model overloaded")
	}
	e := f.engine(t, WithSummarizer(summarizer, ai.ProviderInfo{Name: "mock"}))

	res, err := e.Run(context.Background(), tenantA)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	assert.Zero(t, res.Summarized)
	assert.Contains(t, []string{"Story a1", "Story b1"}, res.Clusters[0].Title)
}

func TestRelated(t *testing.T) {
	f := newFixture(t, nil)
	e := f.engine(t)
	ctx := context.Background()

	related, err := e.Related(ctx, f.articles["a1"].Id, SimilarOptions{})
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, f.articles["b1"].Id, related[0].Article.Id)
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine(t).Run(ctx, tenantA)
	require.NoError(t, err)

	later := f.engine(t, WithClock(func() time.Time { return time.Now().Add(10 * 24 * time.Hour) }))
	removed, err := later.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestRun_ConcurrentRunsKeepOneActiveCluster(t *testing.T) {
	f := newFixture(t, nil)
	e := f.engine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Run(ctx, tenantA)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := f.store.Clusters.GetActiveClusters(ctx, tenantA, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)

	a1 := f.articles["a1"].Id
	containing := 0
	for _, c := range active {
		if slices.Contains(c.ArticleIds, a1) {
			containing++
		}
	}
	assert.Equal(t, 1, containing)

	got, err := f.store.Articles.GetArticle(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, active[0].Id, got.ClusterId)
}
