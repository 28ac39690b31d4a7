package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

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

type testEnv struct {
	store    *badger.Store
	tracker  *ratelimit.Tracker
	embedder *mock.MockEmbedder
	searcher *Searcher
}

// queryVectors maps queries to fixed embeddings so similarity is predictable.
var queryVectors = map[string][]float32{
	"solar eclipse":  {1, 0, 0},
	"election night": {0, 1, 0},
	"eclipse":        {0.9, 0.1, 0},
}

func setup(t *testing.T, limits ratelimit.LimitsProvider, opts ...Option) *testEnv {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	trackerOpts := []ratelimit.TrackerOption{ratelimit.WithUsageLog(store.Usage)}
	if limits != nil {
		trackerOpts = append(trackerOpts, ratelimit.WithLimits(limits))
	}
	tracker, err := ratelimit.NewTracker(store.Usage, trackerOpts...)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(_ context.Context, text string) ([]float32, error) {
		if v, ok := queryVectors[text]; ok {
			return v, nil
		}
		return []float32{0, 0, 1}, nil
	}
	provider := mock.NewMockProviderWithServices(embedder, mock.NewMockSummarizer())

	searcher, err := NewSearcher(store.Articles, store.Feeds, tracker, provider, opts...)
	require.NoError(t, err)

	ctx := context.Background()
	feeds, err := store.Feeds.AddFeeds(ctx,
		&core.Feed{Tenant: tenantA, URL: "https://a.example.com/rss", Status: core.FeedStatusActive, Priority: core.PriorityMedium},
		&core.Feed{Tenant: tenantB, URL: "https://b.example.com/rss", Status: core.FeedStatusActive, Priority: core.PriorityMedium},
	)
	require.NoError(t, err)

	add := func(feed core.ID, guid, title string, vec ...float32) {
		_, err := store.Articles.AddArticles(ctx, &core.Article{
			FeedId:          feed,
			GUID:            guid,
			Title:           title,
			URL:             "https://example.com/" + guid,
			Embedding:       core.NormalizeVector(vec),
			EmbeddingStatus: core.EmbeddingCompleted,
		})
		require.NoError(t, err)
	}
	add(feeds[0].Id, "a1", "Total solar eclipse crosses the continent", 0.95, 0.05, 0)
	add(feeds[0].Id, "a2", "Astronomers prepare for next week", 0.98, 0.02, 0)
	add(feeds[0].Id, "a3", "Polls close on election night", 0, 1, 0)
	add(feeds[1].Id, "b1", "Solar eclipse seen from tenant b", 1, 0, 0)

	return &testEnv{store: store, tracker: tracker, embedder: embedder, searcher: searcher}
}

func TestNewSearcher(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	tracker, err := ratelimit.NewTracker(ratelimit.NewMemoryCounters())
	require.NoError(t, err)
	provider := mock.NewMockProvider()

	t.Run("valid configuration", func(t *testing.T) {
		searcher, err := NewSearcher(store.Articles, store.Feeds, tracker, provider)
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		searcher, err := NewSearcher(store.Articles, store.Feeds, tracker, provider, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("with custom logger", func(t *testing.T) {
		_, err := NewSearcher(store.Articles, store.Feeds, tracker, provider, WithLogger(slog.Default()))
		require.NoError(t, err)
	})

	t.Run("missing dependencies", func(t *testing.T) {
		_, err := NewSearcher(nil, store.Feeds, tracker, provider)
		assert.Equal(t, ErrArticleStoreRequired, err)
		_, err = NewSearcher(store.Articles, nil, tracker, provider)
		assert.Equal(t, ErrFeedStoreRequired, err)
		_, err = NewSearcher(store.Articles, store.Feeds, nil, provider)
		assert.Equal(t, ErrTrackerRequired, err)
		_, err = NewSearcher(store.Articles, store.Feeds, tracker, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})
}

func TestSearch_RanksTenantArticles(t *testing.T) {
	env := setup(t, nil)
	ctx := context.Background()

	results, err := env.searcher.Search(ctx, tenantA, "solar eclipse", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// a1 contains every query word, so the boost lifts it above a2.
	assert.Equal(t, "Total solar eclipse crosses the continent", results[0].Article.Title)
	assert.True(t, results[0].Verbatim)
	assert.InDelta(t, results[0].Similarity+VerbatimBoost, results[0].Score, 1e-9)
	assert.False(t, results[1].Verbatim)

	for _, r := range results {
		assert.NotEqual(t, "Solar eclipse seen from tenant b", r.Article.Title)
	}

	remaining, err := env.tracker.Remaining(ctx, tenantA, core.OpSearches)
	require.NoError(t, err)
	assert.Equal(t, 99, remaining)
}

func TestSearch_MaxHits(t *testing.T) {
	env := setup(t, nil)
	results, err := env.searcher.Search(context.Background(), tenantA, "eclipse", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearch_NoMatches(t *testing.T) {
	env := setup(t, nil)
	results, err := env.searcher.Search(context.Background(), tenantA, "weather", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_UnknownTenant(t *testing.T) {
	env := setup(t, nil)
	results, err := env.searcher.Search(context.Background(), "nobody", "solar eclipse", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyQuery(t *testing.T) {
	env := setup(t, nil)
	_, err := env.searcher.Search(context.Background(), tenantA, "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, env.embedder.CallCount())
}

func TestSearch_BudgetExceeded(t *testing.T) {
	limits := ratelimit.StaticLimits{Default: core.DailyLimits{Embeddings: 1, Clusterings: 1, Searches: 1, Summaries: 1}}
	env := setup(t, limits)
	ctx := context.Background()

	_, err := env.searcher.Search(ctx, tenantA, "solar eclipse", 5)
	require.NoError(t, err)

	_, err = env.searcher.Search(ctx, tenantA, "solar eclipse", 5)
	assert.ErrorIs(t, err, ratelimit.ErrBudgetExceeded)
	assert.Equal(t, 1, env.embedder.CallCount())
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	env := setup(t, nil, WithBackoff(ratelimit.BackoffConfig{MaxAttempts: 2, Delays: []time.Duration{time.Millisecond}}))
	env.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("503 service unavailable")
	}

	_, err := env.searcher.Search(context.Background(), tenantA, "solar eclipse", 5)
	assert.Error(t, err)
	assert.Equal(t, 2, env.embedder.CallCount())

	// Failed searches are not metered.
	remaining, err := env.tracker.Remaining(context.Background(), tenantA, core.OpSearches)
	require.NoError(t, err)
	assert.Equal(t, 100, remaining)
}

type recordingMonitor struct {
	noopMonitor
	started  bool
	hits     int
	verbatim int
	finished []*Result
}

func (m *recordingMonitor) Start(core.TenantID, string)        { m.started = true }
func (m *recordingMonitor) SemanticHit(*core.Article, float64) { m.hits++ }
func (m *recordingMonitor) VerbatimHit(*core.Article)          { m.verbatim++ }
func (m *recordingMonitor) Finish(results []*Result)           { m.finished = results }

func TestSearchWithMonitor(t *testing.T) {
	env := setup(t, nil)
	monitor := &recordingMonitor{}

	results, err := env.searcher.SearchWithMonitor(context.Background(), tenantA, "solar eclipse", 5, monitor)
	require.NoError(t, err)
	assert.True(t, monitor.started)
	assert.Equal(t, 2, monitor.hits)
	assert.Equal(t, 1, monitor.verbatim)
	assert.Equal(t, results, monitor.finished)
}

func TestMatchesVerbatim(t *testing.T) {
	tests := []struct {
		name     string
		document string
		query    string
		expected bool
	}{
		{"all words present", "The solar eclipse was visible", "solar eclipse", true},
		{"stop words ignored", "Solar eclipse", "the solar eclipse", true},
		{"punctuation trimmed", "Eclipse! Solar, indeed.", "solar eclipse", true},
		{"missing word", "Solar flare", "solar eclipse", false},
		{"only stop words", "anything", "the and of", false},
		{"headline filler ignored", "Solar eclipse darkens Texas", "new solar eclipse says", true},
		{"possessive folded", "NASA's solar orbiter", "nasa solar", true},
		{"curly possessive folded", "NASA’s eclipse map", "nasa eclipse", true},
		{"hyphenated split", "Post-eclipse traffic", "eclipse traffic", true},
		{"digits kept", "Eclipse 2024 path", "2024 eclipse", true},
		{"digits must match", "Eclipse 2017 path", "2024 eclipse", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, matchesVerbatim(tt.document, tt.query))
		})
	}
}

func TestSearch_OtherTenantsDoNotCrowdOutResults(t *testing.T) {
	env := setup(t, nil)
	ctx := context.Background()

	feed, err := env.store.Feeds.GetFeedByURL(ctx, tenantB, "https://b.example.com/rss")
	require.NoError(t, err)
	for i := range 12 {
		_, err := env.store.Articles.AddArticles(ctx, &core.Article{
			FeedId:          feed.Id,
			GUID:            fmt.Sprintf("b-extra-%d", i),
			Title:           fmt.Sprintf("Eclipse photo %d", i),
			URL:             fmt.Sprintf("https://example.com/b-extra-%d", i),
			Embedding:       []float32{1, 0, 0},
			EmbeddingStatus: core.EmbeddingCompleted,
		})
		require.NoError(t, err)
	}

	results, err := env.searcher.Search(ctx, tenantA, "solar eclipse", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotContains(t, r.Article.GUID, "b")
	}
}
