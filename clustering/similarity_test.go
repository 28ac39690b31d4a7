package clustering

import (
	"testing"

	"github.com/poiesic/feedsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"opposite", []float32{1, 2, 3}, []float32{-1, -2, -3}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"empty", []float32{}, []float32{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-6)
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func article(id, feed core.ID, vec ...float32) *core.Article {
	return &core.Article{Id: id, FeedId: feed, Title: "article", Embedding: vec}
}

func TestFindSimilarArticles(t *testing.T) {
	source := article(1, 10, 1, 0)
	candidates := []*core.Article{
		source,
		article(2, 10, 0.9, 0.1),
		article(3, 20, 1, 0.05),
		article(4, 20, 0, 1),
		article(5, 30, 0.8, 0.2),
		article(6, 30),
		article(7, 30, 1, 0, 0),
	}

	t.Run("ranked and thresholded", func(t *testing.T) {
		got, err := FindSimilarArticles(source, candidates, SimilarOptions{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, core.ID(3), got[0].Article.Id)
		assert.Equal(t, core.ID(2), got[1].Article.Id)
		assert.Equal(t, core.ID(5), got[2].Article.Id)
		assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
	})
	t.Run("excluded ids", func(t *testing.T) {
		got, err := FindSimilarArticles(source, candidates, SimilarOptions{ExcludeIDs: []core.ID{3}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, core.ID(2), got[0].Article.Id)
	})
	t.Run("feed subset", func(t *testing.T) {
		got, err := FindSimilarArticles(source, candidates, SimilarOptions{FeedIDs: []core.ID{30}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, core.ID(5), got[0].Article.Id)
	})
	t.Run("max results", func(t *testing.T) {
		got, err := FindSimilarArticles(source, candidates, SimilarOptions{MaxResults: 1})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
	t.Run("source without embedding", func(t *testing.T) {
		_, err := FindSimilarArticles(article(9, 10), candidates, SimilarOptions{})
		assert.ErrorIs(t, err, ErrNoEmbedding)
	})
}
