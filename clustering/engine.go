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


package clustering

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/feedsync/ai"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/storage"
)

// PurgeAfter is how long expired clusters are kept before PurgeExpired
// deletes them.
const PurgeAfter = 7 * 24 * time.Hour

// ArticleStore is the article storage a run reads and updates.
type ArticleStore interface {
	GetArticle(ctx context.Context, id core.ID) (*core.Article, error)
	GetArticles(ctx context.Context, ids ...core.ID) ([]*core.Article, error)
	GetArticlesSince(ctx context.Context, since time.Time) ([]*core.Article, error)
	UpdateArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error)
}

// FeedStore resolves tenants to their feeds.
type FeedStore interface {
	GetFeed(ctx context.Context, id core.ID) (*core.Feed, error)
	ListFeedsByTenant(ctx context.Context, tenant core.TenantID) ([]*core.Feed, error)
}

// RunResult describes one clustering run.
type RunResult struct {
	Tenant     core.TenantID
	Skipped    bool
	Reason     string
	Considered int
	Clusters   []*core.Cluster
	Superseded int
	Summarized int
	Duration   time.Duration
}

// Engine runs clustering for tenants.
type Engine struct {
	articles   ArticleStore
	feeds      FeedStore
	clusters   storage.ClusterRepository
	tracker    *ratelimit.Tracker
	summarizer ai.Summarizer
	provider   ai.ProviderInfo
	available  func() bool
	threshold  float64
	timeframe  time.Duration
	clock      func() time.Time
	logger     *slog.Logger

	runMu   sync.Mutex
	running map[core.TenantID]*sync.Mutex
}

// NewEngine creates a clustering Engine.
func NewEngine(
	articles ArticleStore,
	feeds FeedStore,
	clusters storage.ClusterRepository,
	tracker *ratelimit.Tracker,
	opts ...Option,
) (*Engine, error) {
	if articles == nil {
		return nil, ErrArticleStoreRequired
	}
	if feeds == nil {
		return nil, ErrFeedStoreRequired
	}
	if clusters == nil {
		return nil, ErrClusterStoreRequired
	}
	if tracker == nil {
		return nil, ErrTrackerRequired
	}

	e := &Engine{
		articles:  articles,
		feeds:     feeds,
		clusters:  clusters,
		tracker:   tracker,
		available: func() bool { return true },
		threshold: DefaultThreshold,
		timeframe: ExpirationHours * time.Hour,
		clock:     time.Now,
		logger:    slog.Default().With("component", "clustering"),
		running:   make(map[core.TenantID]*sync.Mutex),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Available reports whether the clustering service can run.
func (e *Engine) Available() bool {
	return e.available()
}

// Run clusters the tenant's recent embedded articles and replaces the
// tenant's active clusters with the result. An unavailable service skips
// the run without error. An exhausted clusterings budget returns
// ratelimit.ErrBudgetExceeded before anything changes. Runs for the same
// tenant are serialized.
func (e *Engine) Run(ctx context.Context, tenant core.TenantID) (*RunResult, error) {
	unlock := e.lockTenant(tenant)
	defer unlock()

	start := e.clock()
	result := &RunResult{Tenant: tenant}

	if !e.Available() {
		result.Skipped = true
		result.Reason = "clustering service unavailable"
		e.logger.Info("skipping clustering run", "tenant", tenant, "reason", result.Reason)
		return result, nil
	}
	if err := e.tracker.Require(ctx, tenant, core.OpClusterings); err != nil {
		return nil, err
	}

	now := start.UTC()
	articles, err := e.tenantArticles(ctx, tenant, now.Add(-e.timeframe))
	if err != nil {
		return nil, err
	}
	result.Considered = len(articles)

	groups := FormClusters(articles, e.threshold)
	clusters := make([]*core.Cluster, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, newCluster(tenant, g, now))
	}
	result.Summarized = e.summarize(ctx, tenant, groups, clusters)

	superseded, err := e.clusters.SupersedeActiveClusters(ctx, tenant, now)
	if err != nil {
		return nil, fmt.Errorf("supersede clusters: %w", err)
	}
	result.Superseded = len(superseded)
	if err := e.clearMembership(ctx, superseded); err != nil {
		return nil, err
	}

	if len(clusters) > 0 {
		if clusters, err = e.clusters.AddClusters(ctx, clusters...); err != nil {
			return nil, fmt.Errorf("store clusters: %w", err)
		}
		if err := e.assignMembership(ctx, groups, clusters); err != nil {
			return nil, err
		}
	}
	result.Clusters = clusters

	if _, err := e.tracker.RecordUsage(ctx, tenant, ratelimit.Usage{
		Operation: core.OpClusterings,
		Provider:  e.provider.Name,
		Model:     e.provider.EmbeddingModel,
	}); err != nil {
		e.logger.Error("failed to record clustering usage", "tenant", tenant, "err", err)
	}

	result.Duration = e.clock().Sub(start)
	e.logger.Info("clustering run finished",
		"tenant", tenant,
		"considered", result.Considered,
		"clusters", len(result.Clusters),
		"superseded", result.Superseded,
		"duration", result.Duration)
	return result, nil
}

func (e *Engine) lockTenant(tenant core.TenantID) func() {
	e.runMu.Lock()
	mu, ok := e.running[tenant]
	if !ok {
		mu = &sync.Mutex{}
		e.running[tenant] = mu
	}
	e.runMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// tenantArticles loads the tenant's embedded articles inserted since the
// cutoff, newest first.
func (e *Engine) tenantArticles(ctx context.Context, tenant core.TenantID, since time.Time) ([]*core.Article, error) {
	feeds, err := e.feeds.ListFeedsByTenant(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list tenant feeds: %w", err)
	}
	owned := make(map[core.ID]bool, len(feeds))
	for _, f := range feeds {
		owned[f.Id] = true
	}

	recent, err := e.articles.GetArticlesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	var articles []*core.Article
	for _, a := range recent {
		if owned[a.FeedId] && a.EmbeddingStatus == core.EmbeddingCompleted && len(a.Embedding) > 0 {
			articles = append(articles, a)
		}
	}
	slices.SortStableFunc(articles, func(a, b *core.Article) int {
		return b.InsertedAt.Compare(a.InsertedAt)
	})
	return articles, nil
}

func newCluster(tenant core.TenantID, g *Group, now time.Time) *core.Cluster {
	c := &core.Cluster{
		Tenant:         tenant,
		ArticleIds:     g.ArticleIDs(),
		FeedIds:        g.FeedIDs,
		AvgSimilarity:  g.AvgSimilarity,
		RelevanceScore: g.RelevanceScore(),
		Title:          g.Articles[0].Title,
		ExpiresAt:      now.Add(ExpirationHours * time.Hour),
	}
	for _, a := range g.Articles {
		at := a.InsertedAt
		if a.PublishedAt != nil {
			at = *a.PublishedAt
		}
		if c.TimeframeStart.IsZero() || at.Before(c.TimeframeStart) {
			c.TimeframeStart = at
		}
		if at.After(c.TimeframeEnd) {
			c.TimeframeEnd = at
		}
	}
	return c
}

// summarize fills in headlines while the summaries budget lasts. Failures
// keep the seed title and never fail the run.
func (e *Engine) summarize(ctx context.Context, tenant core.TenantID, groups []*Group, clusters []*core.Cluster) int {
	if e.summarizer == nil {
		return 0
	}
	done := 0
	for i, g := range groups {
		if err := e.tracker.Require(ctx, tenant, core.OpSummaries); err != nil {
			e.logger.Warn("stopping cluster summaries", "tenant", tenant, "remaining", len(groups)-i, "err", err)
			break
		}
		titles := make([]string, len(g.Articles))
		for j, a := range g.Articles {
			titles[j] = a.Title
		}
		summary, err := e.summarizer.SummarizeCluster(ctx, titles)
		if err != nil {
			e.logger.Warn("cluster summary failed", "tenant", tenant, "err", err)
			continue
		}
		if summary.Title != "" {
			clusters[i].Title = summary.Title
		}
		clusters[i].Summary = summary.Summary
		done++
		if _, err := e.tracker.RecordUsage(ctx, tenant, ratelimit.Usage{
			Operation: core.OpSummaries,
			Provider:  e.provider.Name,
			Model:     e.provider.SummaryModel,
		}); err != nil {
			e.logger.Error("failed to record summary usage", "tenant", tenant, "err", err)
		}
	}
	return done
}

func (e *Engine) clearMembership(ctx context.Context, superseded []*core.Cluster) error {
	if len(superseded) == 0 {
		return nil
	}
	owner := make(map[core.ID]core.ID)
	var ids []core.ID
	for _, c := range superseded {
		for _, id := range c.ArticleIds {
			owner[id] = c.Id
			ids = append(ids, id)
		}
	}
	articles, err := e.articles.GetArticles(ctx, ids...)
	if err != nil {
		return fmt.Errorf("load clustered articles: %w", err)
	}
	var changed []*core.Article
	for _, a := range articles {
		if a.ClusterId != 0 && a.ClusterId == owner[a.Id] {
			a.ClusterId = 0
			changed = append(changed, a)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	if _, err := e.articles.UpdateArticles(ctx, changed...); err != nil {
		return fmt.Errorf("clear cluster membership: %w", err)
	}
	return nil
}

func (e *Engine) assignMembership(ctx context.Context, groups []*Group, clusters []*core.Cluster) error {
	var changed []*core.Article
	for i, g := range groups {
		for _, a := range g.Articles {
			a.ClusterId = clusters[i].Id
			changed = append(changed, a)
		}
	}
	if _, err := e.articles.UpdateArticles(ctx, changed...); err != nil {
		return fmt.Errorf("assign cluster membership: %w", err)
	}
	return nil
}

// ListClusters returns the tenant's active clusters, most relevant first.
func (e *Engine) ListClusters(ctx context.Context, tenant core.TenantID) ([]*core.Cluster, error) {
	clusters, err := e.clusters.GetActiveClusters(ctx, tenant, e.clock().UTC())
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(clusters, func(a, b *core.Cluster) int {
		return cmp.Compare(b.RelevanceScore, a.RelevanceScore)
	})
	return clusters, nil
}

// Related returns articles of the same tenant similar to the given one,
// drawn from the clustering timeframe.
func (e *Engine) Related(ctx context.Context, articleID core.ID, opts SimilarOptions) ([]*core.ScoredArticle, error) {
	source, err := e.articles.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if len(source.Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	feed, err := e.feeds.GetFeed(ctx, source.FeedId)
	if err != nil {
		return nil, fmt.Errorf("load source feed: %w", err)
	}
	candidates, err := e.tenantArticles(ctx, feed.Tenant, e.clock().UTC().Add(-e.timeframe))
	if err != nil {
		return nil, err
	}
	return FindSimilarArticles(source, candidates, opts)
}

// PurgeExpired deletes clusters that ended more than PurgeAfter ago.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	removed, err := e.clusters.PurgeExpiredClusters(ctx, e.clock().UTC().Add(-PurgeAfter))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.logger.Info("purged expired clusters", "count", removed)
	}
	return removed, nil
}

