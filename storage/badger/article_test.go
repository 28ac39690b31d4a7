package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArticle(feedID core.ID, guid string, vector []float32) *core.Article {
	return &core.Article{
		FeedId:    feedID,
		GUID:      guid,
		Title:     "Article " + guid,
		URL:       "https://example.com/" + guid,
		Embedding: vector,
	}
}

func TestArticleRepository_AddAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Articles.AddArticles(ctx, newArticle(1, "g1", nil), newArticle(1, "g2", nil))
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, core.EmbeddingPending, added[0].EmbeddingStatus)

	got, err := store.Articles.GetArticleByGUID(ctx, 1, "g2")
	require.NoError(t, err)
	assert.Equal(t, added[1].Id, got.Id)

	_, err = store.Articles.GetArticleByGUID(ctx, 2, "g2")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	many, err := store.Articles.GetArticles(ctx, added[0].Id, 9999, added[1].Id)
	require.NoError(t, err)
	assert.Len(t, many, 2)
}

func TestArticleRepository_DuplicateGUID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Articles.AddArticles(ctx, newArticle(1, "g1", nil))
	require.NoError(t, err)

	_, err = store.Articles.AddArticles(ctx, newArticle(1, "g1", nil))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Same GUID in another feed is a different article
	_, err = store.Articles.AddArticles(ctx, newArticle(2, "g1", nil))
	assert.NoError(t, err)
}

func TestArticleRepository_UpdateKeepsIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Articles.AddArticles(ctx, newArticle(1, "g1", nil))
	require.NoError(t, err)

	changed := *added[0]
	changed.Title = "New title"
	changed.GUID = "tampered"
	changed.Embedding = []float32{1, 0}
	changed.EmbeddingStatus = core.EmbeddingCompleted
	_, err = store.Articles.UpdateArticles(ctx, &changed)
	require.NoError(t, err)

	got, err := store.Articles.GetArticle(ctx, added[0].Id)
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "g1", got.GUID)
	assert.Equal(t, core.EmbeddingCompleted, got.EmbeddingStatus)

	_, err = store.Articles.UpdateArticles(ctx, &core.Article{Id: 9999})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArticleRepository_NewArticleIDsAndSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Articles.AddArticles(ctx, newArticle(1, "old", nil))
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	mark := time.Now().UTC()
	time.Sleep(2 * time.Millisecond)

	fresh, err := store.Articles.AddArticles(ctx, newArticle(1, "new", nil), newArticle(2, "other", nil))
	require.NoError(t, err)

	ids, err := store.Articles.GetNewArticleIDs(ctx, 1, mark)
	require.NoError(t, err)
	assert.Equal(t, []core.ID{fresh[0].Id}, ids)

	since, err := store.Articles.GetArticlesSince(ctx, mark)
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestArticleRepository_ListArticles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, guid := range []string{"a", "b", "c", "d", "e"} {
		_, err := store.Articles.AddArticles(ctx, newArticle(1, guid, nil))
		require.NoError(t, err)
	}

	page, err := store.Articles.ListArticles(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	next, err := store.Articles.ListArticles(ctx, page[1].Id, 10)
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Greater(t, next[0].Id, page[1].Id)

	_, err = store.Articles.ListArticles(ctx, 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestArticleRepository_FindSimilar(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Articles.AddArticles(ctx,
		newArticle(1, "close", []float32{1, 0, 0}),
		newArticle(1, "near", []float32{0.9, 0.1, 0}),
		newArticle(1, "far", []float32{0, 0, 1}),
		newArticle(1, "none", nil),
		newArticle(1, "short", []float32{1, 0}),
		newArticle(2, "other-feed", []float32{1, 0, 0}),
	)
	require.NoError(t, err)

	query := []float32{1, 0, 0}

	t.Run("threshold and order", func(t *testing.T) {
		results, err := store.Articles.FindSimilar(ctx, query, 0.8, 10)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, "near", results[2].Article.GUID)
	})

	t.Run("feed filter", func(t *testing.T) {
		results, err := store.Articles.FindSimilar(ctx, query, 0.8, 1, 2)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "other-feed", results[0].Article.GUID)

		results, err = store.Articles.FindSimilar(ctx, query, 0.8, 10, 1)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "close", results[0].Article.GUID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	})

	t.Run("limit", func(t *testing.T) {
		results, err := store.Articles.FindSimilar(ctx, query, -1, 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("empty store", func(t *testing.T) {
		empty := newTestStore(t)
		results, err := empty.Articles.FindSimilar(ctx, query, 0.5, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"unnormalized", []float32{2, 0}, []float32{5, 0}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, cosine(tt.a, tt.b), 1e-6)
		})
	}
}
