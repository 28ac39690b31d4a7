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


package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/feedsync/ai"
	"github.com/poiesic/feedsync/clustering"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/scheduler"
	"github.com/poiesic/feedsync/storage"
	"github.com/poiesic/feedsync/syncer"
)

const (
	// NewArticlePriority is the queue priority of freshly discovered articles.
	NewArticlePriority = 0
	// UpdatedArticlePriority is the queue priority of articles whose text changed.
	UpdatedArticlePriority = 1
	// DefaultBatchSize is the number of queue entries embedded per pass.
	DefaultBatchSize = 50
	// DefaultMaxAttempts is how often a queue entry may fail before it is given up.
	DefaultMaxAttempts = 3
	// DefaultLease is how long an entry may stay in processing before a
	// drain takes it back.
	DefaultLease = 10 * time.Minute
)

// ArticleStore is the article storage the pipeline reads and updates.
type ArticleStore interface {
	GetArticles(ctx context.Context, ids ...core.ID) ([]*core.Article, error)
	UpdateArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error)
}

// ClusterRunner runs clustering for a tenant. *clustering.Engine implements it.
type ClusterRunner interface {
	Run(ctx context.Context, tenant core.TenantID) (*clustering.RunResult, error)
}

// QueueRunResult summarizes one or more queue passes.
type QueueRunResult struct {
	Embedded     int
	Failed       int
	DeadLettered int
	Deferred     int             // left pending because the tenant's budget ran out
	Tenants      []core.TenantID // tenants that had at least one article embedded
}

func (r *QueueRunResult) add(o *QueueRunResult) {
	r.Embedded += o.Embedded
	r.Failed += o.Failed
	r.DeadLettered += o.DeadLettered
	r.Deferred = o.Deferred
	for _, t := range o.Tenants {
		if !slices.Contains(r.Tenants, t) {
			r.Tenants = append(r.Tenants, t)
		}
	}
}

// Pipeline moves synced articles through embedding and clustering.
type Pipeline struct {
	articles       ArticleStore
	queue          storage.EmbeddingQueueRepository
	tracker        *ratelimit.Tracker
	dlq            *ratelimit.DeadLetterQueueManager
	provider       ai.ProviderInfo
	embedder       ai.Embedder
	clusterer      ClusterRunner
	embeddingProc  *embeddingProcessor
	embeddingPool  *ants.Pool
	clusteringPool *ants.Pool
	batchSize      int
	maxAttempts    int
	lease          time.Duration
	backoff        ratelimit.BackoffConfig
	logger         *slog.Logger

	jobs           sync.WaitGroup
	draining       atomic.Bool
	drainRequested atomic.Bool

	clusterMu    sync.Mutex
	clusterState map[core.TenantID]clusterState
}

// clusterState tracks a tenant's clustering job between submit and finish.
type clusterState int

const (
	clusterQueued clusterState = iota + 1
	clusterRunning
	clusterRerun // submitted again while running
)

var _ scheduler.SyncObserver = (*Pipeline)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pools
		if p.embeddingPool != nil {
			p.embeddingPool.Release()
		}
		if p.clusteringPool != nil {
			p.clusteringPool.Release()
		}

		embeddingPool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		clusteringPool, err := ants.NewPool(size)
		if err != nil {
			embeddingPool.Release()
			return err
		}

		p.embeddingPool = embeddingPool
		p.clusteringPool = clusteringPool
		return nil
	}
}

// WithBatchSize sets the queue entries embedded per pass. Default is 50.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n > 0 {
			p.batchSize = n
		}
		return nil
	}
}

// WithMaxAttempts sets how often a queue entry may fail. Default is 3.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) error {
		if n > 0 {
			p.maxAttempts = n
		}
		return nil
	}
}

// WithLease sets how long a claimed entry may stay in processing before
// Drain returns it to pending. Default is 10 minutes.
func WithLease(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d > 0 {
			p.lease = d
		}
		return nil
	}
}

// WithBackoff sets the per-article retry policy for provider calls.
func WithBackoff(cfg ratelimit.BackoffConfig) Option {
	return func(p *Pipeline) error {
		if cfg.MaxAttempts < 1 {
			return ratelimit.ErrInvalidMaxAttempts
		}
		p.backoff = cfg
		return nil
	}
}

// WithDeadLetterQueue routes exhausted embeddings to dlq.
func WithDeadLetterQueue(dlq *ratelimit.DeadLetterQueueManager) Option {
	return func(p *Pipeline) error {
		p.dlq = dlq
		return nil
	}
}

// WithClusterRunner enables clustering after successful drains.
func WithClusterRunner(r ClusterRunner) Option {
	return func(p *Pipeline) error {
		p.clusterer = r
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	articles ArticleStore,
	queue storage.EmbeddingQueueRepository,
	tracker *ratelimit.Tracker,
	provider ai.AIProvider,
	opts ...Option,
) (*Pipeline, error) {
	if articles == nil {
		return nil, ErrArticleStoreRequired
	}
	if queue == nil {
		return nil, ErrQueueRequired
	}
	if tracker == nil {
		return nil, ErrTrackerRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	embeddingPool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	clusteringPool, err := ants.NewPool(poolSize)
	if err != nil {
		embeddingPool.Release()
		return nil, err
	}

	p := &Pipeline{
		articles:       articles,
		queue:          queue,
		tracker:        tracker,
		provider:       provider.Info(),
		embedder:       provider.Embedder(),
		embeddingPool:  embeddingPool,
		clusteringPool: clusteringPool,
		batchSize:      DefaultBatchSize,
		maxAttempts:    DefaultMaxAttempts,
		lease:          DefaultLease,
		backoff:        ratelimit.DefaultBackoff(),
		logger:         slog.Default().With("component", "ingestion"),
		clusterState:   make(map[core.TenantID]clusterState),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	p.embeddingProc = newEmbeddingProcessor(p.embedder, p.provider, p.dlq, p.backoff, p.logger)
	return p, nil
}

// OnFeedSynced queues the sync's new and changed articles for embedding
// and submits a queue drain. Failures are logged, never returned.
func (p *Pipeline) OnFeedSynced(ctx context.Context, feed *core.Feed, result *syncer.Result) {
	if result == nil || !result.Success {
		return
	}
	queued := 0
	for _, batch := range []struct {
		ids      []core.ID
		priority int
	}{
		{result.NewArticleIDs, NewArticlePriority},
		{result.UpdatedArticleIDs, UpdatedArticlePriority},
	} {
		if len(batch.ids) == 0 {
			continue
		}
		if err := p.queue.AddToEmbeddingQueue(ctx, feed.Tenant, batch.ids, batch.priority, p.maxAttempts); err != nil {
			p.logger.Error("failed to queue articles for embedding", "feed_id", feed.Id, "articles", len(batch.ids), "err", err)
			continue
		}
		queued += len(batch.ids)
	}
	if queued == 0 {
		return
	}
	p.logger.Debug("queued articles for embedding", "feed_id", feed.Id, "tenant", feed.Tenant, "articles", queued)
	p.SubmitDrain()
}

// SubmitDrain schedules a queue drain on the embedding pool. Requests made
// while a drain is running fold into one more pass of that drain.
func (p *Pipeline) SubmitDrain() {
	p.drainRequested.Store(true)
	if !p.draining.CompareAndSwap(false, true) {
		return
	}
	p.jobs.Add(1)
	if err := p.embeddingPool.Submit(func() {
		defer p.jobs.Done()
		p.drainLoop()
	}); err != nil {
		p.jobs.Done()
		p.draining.Store(false)
		p.logger.Error("failed to submit queue drain", "err", err)
	}
}

func (p *Pipeline) drainLoop() {
	for {
		for p.drainRequested.Swap(false) {
			if _, err := p.Drain(context.Background()); err != nil {
				p.logger.Error("queue drain failed", "err", err)
			}
		}
		p.draining.Store(false)
		if !p.drainRequested.Load() || !p.draining.CompareAndSwap(false, true) {
			return
		}
	}
}

// Drain returns stale processing entries to pending, runs queue passes
// until a pass makes no progress, then submits a clustering run for every
// tenant that had articles embedded.
func (p *Pipeline) Drain(ctx context.Context) (*QueueRunResult, error) {
	total := &QueueRunResult{}
	if _, err := p.ReclaimStale(ctx, p.lease); err != nil {
		return total, err
	}
	for ctx.Err() == nil {
		pass, err := p.ProcessQueue(ctx)
		if err != nil {
			return total, err
		}
		total.add(pass)
		if pass.Embedded+pass.Failed+pass.DeadLettered == 0 {
			break
		}
	}
	for _, tenant := range total.Tenants {
		p.SubmitClustering(tenant)
	}
	return total, ctx.Err()
}

// ProcessQueue runs one pass over the embedding queue. Each tenant's share
// is trimmed to its remaining embeddings budget; the rest stays pending
// and is counted as Deferred.
func (p *Pipeline) ProcessQueue(ctx context.Context) (*QueueRunResult, error) {
	entries, err := p.queue.NextEmbeddingBatch(ctx, p.batchSize*4)
	if err != nil {
		return nil, err
	}

	result := &QueueRunResult{}
	var tenants []core.TenantID
	byTenant := make(map[core.TenantID][]*core.EmbeddingQueueEntry)
	for _, e := range entries {
		if _, ok := byTenant[e.Tenant]; !ok {
			tenants = append(tenants, e.Tenant)
		}
		byTenant[e.Tenant] = append(byTenant[e.Tenant], e)
	}

	budget := p.batchSize
	for _, tenant := range tenants {
		pending := byTenant[tenant]
		if budget == 0 {
			break
		}
		remaining, err := p.tracker.Remaining(ctx, tenant, core.OpEmbeddings)
		if err != nil {
			return result, err
		}
		take := min(len(pending), remaining, budget)
		result.Deferred += len(pending) - take
		if take <= 0 {
			p.logger.Info("embedding budget exhausted, deferring", "tenant", tenant, "entries", len(pending))
			continue
		}
		budget -= take

		embedded, err := p.processTenant(ctx, tenant, pending[:take], result)
		if err != nil {
			return result, err
		}
		if embedded > 0 {
			result.Tenants = append(result.Tenants, tenant)
		}
	}

	if len(entries) > 0 {
		p.logger.Info("embedding queue pass finished",
			"embedded", result.Embedded,
			"failed", result.Failed,
			"deadLettered", result.DeadLettered,
			"deferred", result.Deferred)
	}
	return result, nil
}

func (p *Pipeline) processTenant(ctx context.Context, tenant core.TenantID, entries []*core.EmbeddingQueueEntry, result *QueueRunResult) (embedded int, err error) {
	entries, err = p.queue.ClaimQueueEntries(ctx, entryIDs(entries)...)
	if err != nil || len(entries) == 0 {
		return 0, err
	}

	// Claimed entries not yet settled go back to pending if this pass fails.
	unsettled := make(map[core.ID]*core.EmbeddingQueueEntry, len(entries))
	for _, e := range entries {
		unsettled[e.ArticleId] = e
	}
	settle := func(ids ...core.ID) {
		for _, id := range ids {
			delete(unsettled, id)
		}
	}
	defer func() {
		if err == nil || len(unsettled) == 0 {
			return
		}
		p.releaseEntries(ctx, unsettled)
	}()

	ids := entryIDs(entries)
	entryByID := make(map[core.ID]*core.EmbeddingQueueEntry, len(entries))
	for _, e := range entries {
		entryByID[e.ArticleId] = e
	}
	articles, err := p.articles.GetArticles(ctx, ids...)
	if err != nil {
		return 0, err
	}

	// Entries whose article is gone have nothing left to embed.
	found := make(map[core.ID]bool, len(articles))
	for _, a := range articles {
		found[a.Id] = true
	}
	var orphans []core.ID
	for _, id := range ids {
		if !found[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := p.queue.RemoveFromQueue(ctx, orphans...); err != nil {
			return 0, err
		}
		settle(orphans...)
	}

	batch := p.embeddingProc.process(ctx, tenant, articles)

	if len(batch.Successful) > 0 {
		if _, err := p.articles.UpdateArticles(ctx, batch.Successful...); err != nil {
			return 0, err
		}
		done := articleIDs(batch.Successful)
		if err := p.queue.RemoveFromQueue(ctx, done...); err != nil {
			return 0, err
		}
		settle(done...)
		if _, err := p.tracker.RecordUsage(ctx, tenant, ratelimit.Usage{
			Operation:   core.OpEmbeddings,
			Provider:    p.provider.Name,
			Model:       p.provider.EmbeddingModel,
			Count:       len(batch.Successful),
			InputTokens: estimateTokens(batch.Successful),
		}); err != nil {
			p.logger.Error("failed to record embedding usage", "tenant", tenant, "err", err)
		}
		result.Embedded += len(batch.Successful)
	}

	// A dead letter that was never stored stays on the queue as a failure.
	failures := batch.Failed
	var deadLettered []ratelimit.ItemFailure[*core.Article]
	for _, f := range batch.DeadLettered {
		if f.DeadLetterID == "" {
			p.logger.Error("dead letter not stored, keeping queue entry", "article_id", f.Item.Id, "err", f.Err)
			failures = append(failures, f)
			continue
		}
		deadLettered = append(deadLettered, f)
	}

	var gaveUp []*core.Article
	var retry []*core.EmbeddingQueueEntry
	for _, f := range failures {
		entry := entryByID[f.Item.Id]
		entry.LastError = f.Err.Error()
		if errors.Is(f.Err, context.Canceled) || ctx.Err() != nil {
			entry.Status = core.QueuePending
			retry = append(retry, entry)
			continue
		}
		entry.Attempts++
		if entry.Attempts >= entry.MaxAttempts {
			entry.Status = core.QueueFailed
			f.Item.EmbeddingStatus = core.EmbeddingFailed
			gaveUp = append(gaveUp, f.Item)
		} else {
			entry.Status = core.QueuePending
		}
		retry = append(retry, entry)
		p.logger.Warn("article embedding failed", "article_id", f.Item.Id, "attempts", entry.Attempts, "err", f.Err)
	}
	result.Failed += len(failures)
	if len(retry) > 0 {
		if err := p.queue.UpdateQueueEntries(context.WithoutCancel(ctx), retry...); err != nil {
			return 0, err
		}
		settle(entryIDs(retry)...)
	}

	if len(deadLettered) > 0 {
		dead := make([]core.ID, len(deadLettered))
		for i, f := range deadLettered {
			dead[i] = f.Item.Id
			f.Item.EmbeddingStatus = core.EmbeddingFailed
			gaveUp = append(gaveUp, f.Item)
			p.logger.Warn("article embedding dead-lettered", "article_id", f.Item.Id, "attempts", f.Attempts, "dead_letter_id", f.DeadLetterID, "err", f.Err)
		}
		if err := p.queue.RemoveFromQueue(context.WithoutCancel(ctx), dead...); err != nil {
			return 0, err
		}
		settle(dead...)
		result.DeadLettered += len(deadLettered)
	}

	if len(gaveUp) > 0 {
		for _, a := range gaveUp {
			a.Embedding = nil
		}
		if _, err := p.articles.UpdateArticles(context.WithoutCancel(ctx), gaveUp...); err != nil {
			return 0, err
		}
	}
	return len(batch.Successful), nil
}

// releaseEntries returns claimed entries to pending after a failed pass.
func (p *Pipeline) releaseEntries(ctx context.Context, entries map[core.ID]*core.EmbeddingQueueEntry) {
	pending := make([]*core.EmbeddingQueueEntry, 0, len(entries))
	for _, e := range entries {
		e.Status = core.QueuePending
		pending = append(pending, e)
	}
	if err := p.queue.UpdateQueueEntries(context.WithoutCancel(ctx), pending...); err != nil {
		p.logger.Error("failed to release queue entries", "entries", len(pending), "err", err)
	}
}

// ReclaimStale returns entries left in processing for longer than lease to
// pending, typically after a crash.
func (p *Pipeline) ReclaimStale(ctx context.Context, lease time.Duration) (int, error) {
	n, err := p.queue.ReclaimProcessing(ctx, time.Now().UTC().Add(-lease))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Warn("reclaimed stale queue entries", "entries", n)
	}
	return n, nil
}

func entryIDs(entries []*core.EmbeddingQueueEntry) []core.ID {
	ids := make([]core.ID, len(entries))
	for i, e := range entries {
		ids[i] = e.ArticleId
	}
	return ids
}

func articleIDs(articles []*core.Article) []core.ID {
	ids := make([]core.ID, len(articles))
	for i, a := range articles {
		ids[i] = a.Id
	}
	return ids
}

// SubmitClustering schedules a clustering run for tenant unless one is
// already waiting. A submit during a run queues exactly one more run after
// it. A no-op without a ClusterRunner.
func (p *Pipeline) SubmitClustering(tenant core.TenantID) {
	if p.clusterer == nil {
		return
	}
	p.clusterMu.Lock()
	switch p.clusterState[tenant] {
	case clusterQueued, clusterRerun:
		p.clusterMu.Unlock()
		return
	case clusterRunning:
		p.clusterState[tenant] = clusterRerun
		p.clusterMu.Unlock()
		return
	}
	p.clusterState[tenant] = clusterQueued
	p.clusterMu.Unlock()

	p.jobs.Add(1)
	err := p.clusteringPool.Submit(func() {
		defer p.jobs.Done()
		for p.startClustering(tenant) {
			p.runClustering(tenant)
		}
	})
	if err != nil {
		p.jobs.Done()
		p.clusterMu.Lock()
		delete(p.clusterState, tenant)
		p.clusterMu.Unlock()
		p.logger.Error("failed to submit clustering run", "tenant", tenant, "err", err)
	}
}

// startClustering moves tenant to running and reports whether a run is due.
// It is called before the first run and after every run.
func (p *Pipeline) startClustering(tenant core.TenantID) bool {
	p.clusterMu.Lock()
	defer p.clusterMu.Unlock()
	switch p.clusterState[tenant] {
	case clusterQueued, clusterRerun:
		p.clusterState[tenant] = clusterRunning
		return true
	default:
		delete(p.clusterState, tenant)
		return false
	}
}

func (p *Pipeline) runClustering(tenant core.TenantID) {
	start := time.Now()
	res, err := p.clusterer.Run(context.Background(), tenant)
	if err != nil {
		p.logger.Error("clustering run failed", "tenant", tenant, "err", err)
		return
	}
	p.logger.Debug("clustering run complete", "tenant", tenant, "clusters", len(res.Clusters), "skipped", res.Skipped, "duration", time.Since(start))
}

// ReplayDeadLetter puts a dead-lettered embedding's article back on the
// queue and removes the dead letter.
func (p *Pipeline) ReplayDeadLetter(ctx context.Context, id string) error {
	if p.dlq == nil {
		return ErrDeadLetterQueueRequired
	}
	return p.dlq.Replay(ctx, id, func(ctx context.Context, item *core.DeadLetterItem) error {
		payload, err := decodeEmbeddingPayload(item)
		if err != nil {
			return err
		}
		articles, err := p.articles.GetArticles(ctx, payload.ArticleID)
		if err != nil {
			return err
		}
		if len(articles) == 1 {
			articles[0].EmbeddingStatus = core.EmbeddingPending
			if _, err := p.articles.UpdateArticles(ctx, articles...); err != nil {
				return err
			}
		}
		return p.queue.AddToEmbeddingQueue(ctx, item.Tenant, []core.ID{payload.ArticleID}, NewArticlePriority, p.maxAttempts)
	})
}

// Wait blocks until every submitted drain and clustering run has finished.
func (p *Pipeline) Wait() {
	p.jobs.Wait()
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.embeddingPool != nil {
		p.embeddingPool.Release()
	}
	if p.clusteringPool != nil {
		p.clusteringPool.Release()
	}
}
