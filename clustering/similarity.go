package clustering

import (
	"fmt"
	"math"
	"slices"

	"github.com/poiesic/feedsync/core"
)

// DefaultSimilarityThreshold is the minimum similarity for related articles.
const DefaultSimilarityThreshold = 0.7

// DefaultMaxResults caps FindSimilarArticles when no limit is given.
const DefaultMaxResults = 5

// CosineSimilarity returns the cosine of the angle between a and b.
// A zero vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// SimilarOptions narrows FindSimilarArticles.
type SimilarOptions struct {
	// Threshold is the minimum similarity. Zero means DefaultSimilarityThreshold.
	Threshold float64
	// MaxResults caps the result. Zero means DefaultMaxResults.
	MaxResults int
	// ExcludeIDs are never returned.
	ExcludeIDs []core.ID
	// FeedIDs, when set, restricts candidates to these feeds.
	FeedIDs []core.ID
}

func (o SimilarOptions) withDefaults() SimilarOptions {
	if o.Threshold == 0 {
		o.Threshold = DefaultSimilarityThreshold
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o
}

// FindSimilarArticles ranks candidates by similarity to source, highest
// first. The source itself is never returned. Candidates without an
// embedding or with a different dimension are skipped.
func FindSimilarArticles(source *core.Article, candidates []*core.Article, opts SimilarOptions) ([]*core.ScoredArticle, error) {
	if source == nil || len(source.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	opts = opts.withDefaults()

	var results []*core.ScoredArticle
	for _, c := range candidates {
		if c == nil || c.Id == source.Id || len(c.Embedding) == 0 {
			continue
		}
		if slices.Contains(opts.ExcludeIDs, c.Id) {
			continue
		}
		if len(opts.FeedIDs) > 0 && !slices.Contains(opts.FeedIDs, c.FeedId) {
			continue
		}
		score, err := CosineSimilarity(source.Embedding, c.Embedding)
		if err != nil {
			continue
		}
		if score >= opts.Threshold {
			results = append(results, &core.ScoredArticle{Article: c, Score: score})
		}
	}

	slices.SortStableFunc(results, func(a, b *core.ScoredArticle) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}
