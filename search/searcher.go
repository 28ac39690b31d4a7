// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/feedsync/ai"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
)

const (
	// DefaultMinSimilarity is the similarity floor for semantic hits.
	DefaultMinSimilarity = 0.60
	// VerbatimBoost is added when the article contains every query word.
	VerbatimBoost = 0.3
)

// ArticleStore finds articles by embedding.
type ArticleStore interface {
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float64, limit int, feedIDs ...core.ID) ([]*core.ScoredArticle, error)
}

// FeedStore lists a tenant's feeds.
type FeedStore interface {
	ListFeedsByTenant(ctx context.Context, tenant core.TenantID) ([]*core.Feed, error)
}

// Result is one search hit.
type Result struct {
	Article    *core.Article
	Similarity float64
	Score      float64
	Verbatim   bool
}

// Searcher runs metered semantic searches.
type Searcher struct {
	articles      ArticleStore
	feeds         FeedStore
	tracker       *ratelimit.Tracker
	embedder      ai.Embedder
	provider      ai.ProviderInfo
	minSimilarity float64
	backoff       ratelimit.BackoffConfig
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "search")
		return nil
	}
}

// WithMinSimilarity sets the semantic similarity floor.
func WithMinSimilarity(floor float64) Option {
	return func(s *Searcher) error {
		s.minSimilarity = floor
		return nil
	}
}

// WithBackoff sets the retry policy for query embedding.
func WithBackoff(cfg ratelimit.BackoffConfig) Option {
	return func(s *Searcher) error {
		if cfg.MaxAttempts < 1 {
			return ratelimit.ErrInvalidMaxAttempts
		}
		s.backoff = cfg
		return nil
	}
}

// NewSearcher creates a new Searcher.
func NewSearcher(
	articles ArticleStore,
	feeds FeedStore,
	tracker *ratelimit.Tracker,
	provider ai.AIProvider,
	opts ...Option,
) (*Searcher, error) {
	if articles == nil {
		return nil, ErrArticleStoreRequired
	}
	if feeds == nil {
		return nil, ErrFeedStoreRequired
	}
	if tracker == nil {
		return nil, ErrTrackerRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		articles:      articles,
		feeds:         feeds,
		tracker:       tracker,
		embedder:      provider.Embedder(),
		provider:      provider.Info(),
		minSimilarity: DefaultMinSimilarity,
		backoff:       ratelimit.DefaultBackoff(),
		logger:        slog.Default().With("component", "search"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search returns up to maxHits of the tenant's articles most similar to query.
func (s *Searcher) Search(ctx context.Context, tenant core.TenantID, query string, maxHits int) ([]*Result, error) {
	return s.SearchWithMonitor(ctx, tenant, query, maxHits, nil)
}

// SearchWithMonitor is Search with step callbacks. A refused budget
// returns ratelimit.ErrBudgetExceeded before the provider is called.
func (s *Searcher) SearchWithMonitor(ctx context.Context, tenant core.TenantID, query string, maxHits int, monitor SearchMonitor) ([]*Result, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxHits <= 0 {
		maxHits = 10
	}

	monitor.Start(tenant, query)
	if err := s.tracker.Require(ctx, tenant, core.OpSearches); err != nil {
		return nil, err
	}

	// 1. Embed the query
	res := ratelimit.WithExponentialBackoff(ctx, func(ctx context.Context) ([]float32, error) {
		return s.embedder.EmbedText(ctx, query)
	}, s.backoff)
	if !res.Success {
		s.logger.Error("error generating embedding for query", "query", query, "attempts", res.Attempts, "err", res.Err)
		return nil, res.Err
	}
	embedding := core.NormalizeVector(res.Result)
	monitor.AfterEmbedding(len(embedding))

	if _, err := s.tracker.RecordUsage(ctx, tenant, ratelimit.Usage{
		Operation:   core.OpSearches,
		Provider:    s.provider.Name,
		Model:       s.provider.EmbeddingModel,
		InputTokens: (len(query) + 3) / 4,
	}); err != nil {
		s.logger.Error("failed to record search usage", "tenant", tenant, "err", err)
	}

	// 2. Find similar articles among the tenant's feeds
	feeds, err := s.feeds.ListFeedsByTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	feedIDs := make([]core.ID, len(feeds))
	for i, f := range feeds {
		feedIDs[i] = f.Id
	}
	if len(feedIDs) == 0 {
		monitor.Finish(nil)
		return []*Result{}, nil
	}

	matches, err := s.articles.FindSimilar(ctx, embedding, s.minSimilarity, maxHits*4, feedIDs...)
	if err != nil {
		s.logger.Error("error querying for similar articles", "err", err)
		return nil, err
	}
	ids := make([]core.ID, 0, len(matches))
	results := make([]*Result, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, match.Article.Id)
		monitor.SemanticHit(match.Article, match.Score)

		// 3. Score, boosting verbatim matches
		r := &Result{Article: match.Article, Similarity: match.Score, Score: match.Score}
		if matchesVerbatim(match.Article.Title+" "+match.Article.Excerpt, query) {
			r.Verbatim = true
			r.Score += VerbatimBoost
			monitor.VerbatimHit(match.Article)
		}
		results = append(results, r)
	}
	monitor.AfterSemanticSearch(ids)

	// Sort by score descending
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxHits {
		results = results[:maxHits]
	}
	monitor.Finish(results)

	return results, nil
}
