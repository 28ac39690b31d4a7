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


package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/storage"
	"github.com/poiesic/feedsync/syncer"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
)

// FeedStore is the feed storage the scheduler reads and mutates.
type FeedStore interface {
	AddFeeds(ctx context.Context, feeds ...*core.Feed) ([]*core.Feed, error)
	GetFeed(ctx context.Context, id core.ID) (*core.Feed, error)
	GetFeedsDueForSync(ctx context.Context, now time.Time, limit int) ([]*core.Feed, error)
	GetTierFeedsDueForSync(ctx context.Context, now time.Time, priority core.SyncPriority, limit int) ([]*core.Feed, error)
	UpdateFeedSchedule(ctx context.Context, id core.ID, update storage.FeedScheduleUpdate) (*core.Feed, error)
}

// FeedSyncer syncs a batch of feeds. *syncer.Engine implements it.
type FeedSyncer interface {
	SyncFeeds(ctx context.Context, feeds []syncer.SyncableFeed, opts syncer.BatchOptions) *syncer.BatchResult
}

// SyncObserver is told about every feed sync the scheduler runs.
// Observers must not block; long work belongs on their own pools.
type SyncObserver interface {
	OnFeedSynced(ctx context.Context, feed *core.Feed, result *syncer.Result)
}

// failedFeed tracks a feed in the failed-feed set.
type failedFeed struct {
	priority core.SyncPriority
	since    time.Time
	lastErr  string
}

// Scheduler runs the priority tiers.
type Scheduler struct {
	feeds     FeedStore
	syncer    FeedSyncer
	catalog   CatalogLookup
	observers []SyncObserver
	limiter   *ratelimit.RequestLimiter

	workers             int
	dueLimit            int
	batchSize           int
	batchDelay          time.Duration
	stagger             time.Duration
	tickIntervals       map[core.SyncPriority]time.Duration
	failedRetryInterval time.Duration
	maxFailures         int
	syncOptions         syncer.Options
	meterProvider       metric.MeterProvider
	clock               func() time.Time
	logger              *slog.Logger

	pool    *ants.Pool
	cron    *cron.Cron
	metrics *syncMetrics
	stats   *statsRecorder

	failedMu sync.Mutex
	failed   map[core.ID]failedFeed

	tierBusy map[core.SyncPriority]*atomic.Bool
	jobs     sync.WaitGroup

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	loops     sync.WaitGroup
}

// New creates a Scheduler. Call Start to begin polling and Close to
// release its worker pool.
func New(feeds FeedStore, feedSyncer FeedSyncer, opts ...Option) (*Scheduler, error) {
	if feeds == nil {
		return nil, ErrFeedStoreRequired
	}
	if feedSyncer == nil {
		return nil, ErrSyncerRequired
	}

	s := &Scheduler{
		feeds:               feeds,
		syncer:              feedSyncer,
		workers:             3,
		dueLimit:            50,
		batchSize:           syncer.DefaultBatchSize,
		batchDelay:          2 * time.Second,
		stagger:             5 * time.Minute,
		tickIntervals:       make(map[core.SyncPriority]time.Duration),
		failedRetryInterval: 6 * time.Hour,
		maxFailures:         10,
		syncOptions:         syncer.DefaultOptions(),
		clock:               time.Now,
		logger:              slog.Default().With("component", "scheduler"),
		stats:               newStatsRecorder(100),
		failed:              make(map[core.ID]failedFeed),
		tierBusy:            make(map[core.SyncPriority]*atomic.Bool),
	}
	for _, p := range core.Priorities {
		s.tierBusy[p] = &atomic.Bool{}
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	metrics, err := newSyncMetrics(s.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	s.metrics = metrics

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.failedRetryInterval), s.retryFailedJob); err != nil {
		pool.Release()
		return nil, fmt.Errorf("schedule failed-feed sweep: %w", err)
	}
	return s, nil
}

// AddMaintenanceJob runs fn on a cron spec ("@every 1h", "0 3 * * *")
// while the scheduler is running.
func (s *Scheduler) AddMaintenanceJob(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := s.clock()
		if err := fn(context.Background()); err != nil {
			s.logger.Error("maintenance job failed", "job", name, "err", err)
			return
		}
		s.logger.Debug("maintenance job finished", "job", name, "duration", s.clock().Sub(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Start launches one ticker per tier and the cron jobs. Tier i first
// fires after i*stagger.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for i, p := range core.Priorities {
		s.loops.Add(1)
		go s.tierLoop(runCtx, p, time.Duration(i)*s.stagger)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "workers", s.workers, "stagger", s.stagger)
	return nil
}

// Stop halts the tickers and cron jobs and waits for running tier jobs.
// Batches already in flight run to completion.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel == nil {
		return ErrNotRunning
	}
	s.cancel()
	s.cancel = nil
	s.loops.Wait()
	<-s.cron.Stop().Done()
	s.jobs.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Close stops the scheduler if needed and releases the worker pool.
func (s *Scheduler) Close() error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	s.pool.Release()
	return nil
}

func (s *Scheduler) tickInterval(p core.SyncPriority) time.Duration {
	if d, ok := s.tickIntervals[p]; ok {
		return d
	}
	return TierInterval(p)
}

func (s *Scheduler) tierLoop(ctx context.Context, p core.SyncPriority, offset time.Duration) {
	defer s.loops.Done()

	timer := time.NewTimer(offset)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.submitTier(ctx, p)

	ticker := time.NewTicker(s.tickInterval(p))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.submitTier(ctx, p)
		}
	}
}

// submitTier queues a tier run on the pool unless one is already running.
func (s *Scheduler) submitTier(ctx context.Context, p core.SyncPriority) {
	busy := s.tierBusy[p]
	if !busy.CompareAndSwap(false, true) {
		s.logger.Debug("tier still running, skipping tick", "tier", p)
		return
	}
	s.jobs.Add(1)
	err := s.pool.Submit(func() {
		defer s.jobs.Done()
		defer busy.Store(false)
		if _, err := s.RunTier(ctx, p); err != nil {
			s.logger.Error("tier run failed", "tier", p, "err", err)
		}
	})
	if err != nil {
		s.jobs.Done()
		busy.Store(false)
		s.logger.Error("failed to submit tier run", "tier", p, "err", err)
	}
}

// TierRun summarizes one tier pass.
type TierRun struct {
	Priority  core.SyncPriority
	Due       int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// RunTier syncs the tier's due feeds once.
func (s *Scheduler) RunTier(ctx context.Context, p core.SyncPriority) (*TierRun, error) {
	if err := core.ValidatePriority(p); err != nil {
		return nil, err
	}
	start := s.clock()
	s.stats.markRun(p, start)

	tier, err := s.feeds.GetTierFeedsDueForSync(ctx, start, p, s.dueLimit)
	if err != nil {
		return nil, fmt.Errorf("load due feeds: %w", err)
	}

	run := &TierRun{Priority: p, Due: len(tier)}
	if len(tier) > 0 {
		batch := s.syncBatch(ctx, tier)
		run.Succeeded, run.Failed = batch.Succeeded, batch.Failed
	}
	run.Duration = s.clock().Sub(start)
	s.logger.Info("tier run finished",
		"tier", p,
		"due", run.Due,
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"duration", run.Duration)
	return run, nil
}

// SyncNow syncs the given feeds immediately, regardless of due time.
func (s *Scheduler) SyncNow(ctx context.Context, feeds ...*core.Feed) *syncer.BatchResult {
	return s.syncBatch(ctx, feeds)
}

func (s *Scheduler) syncBatch(ctx context.Context, feeds []*core.Feed) *syncer.BatchResult {
	syncables := make([]syncer.SyncableFeed, len(feeds))
	for i, f := range feeds {
		syncables[i] = syncer.FromFeed(f)
	}
	batch := s.syncer.SyncFeeds(ctx, syncables, syncer.BatchOptions{
		Options:    s.syncOptions,
		BatchSize:  s.batchSize,
		BatchDelay: s.batchDelay,
		Limiter:    s.limiter,
	})

	byID := make(map[core.ID]*core.Feed, len(feeds))
	for _, f := range feeds {
		byID[f.Id] = f
	}
	for _, res := range batch.Results {
		if feed, ok := byID[res.FeedID]; ok {
			s.handleResult(ctx, feed, res)
		}
	}
	return batch
}

// handleResult persists schedule changes, updates stats and notifies observers.
func (s *Scheduler) handleResult(ctx context.Context, feed *core.Feed, res *syncer.Result) {
	// Bookkeeping must land even when the run is being stopped.
	ctx = context.WithoutCancel(ctx)
	at := res.FetchedAt
	if at.IsZero() {
		at = s.clock().UTC()
	}

	var err error
	if res.Success {
		err = s.recordSuccess(ctx, feed, res, at)
	} else {
		err = s.recordFailure(ctx, feed, res, at)
	}
	if err != nil {
		s.logger.Error("failed to update feed schedule", "feed_id", feed.Id, "err", err)
	}

	s.stats.record(HistoryEntry{
		FeedID:      feed.Id,
		URL:         feed.URL,
		Priority:    feed.Priority,
		Success:     res.Success,
		NotModified: res.NotModified,
		ArticlesNew: res.ArticlesNew,
		Duration:    res.SyncDuration,
		Error:       res.Error,
		At:          at,
	})
	s.metrics.observe(ctx, string(feed.Priority), res)

	for _, o := range s.observers {
		o.OnFeedSynced(ctx, feed, res)
	}
}

func (s *Scheduler) recordSuccess(ctx context.Context, feed *core.Feed, res *syncer.Result, at time.Time) error {
	s.failedMu.Lock()
	delete(s.failed, feed.Id)
	s.failedMu.Unlock()

	next := CalculateNextSyncAt(feed.Priority, at)
	interval := PriorityIntervalHours(feed.Priority)
	status := core.FeedStatusActive
	noErr := ""
	zero := 0
	updated, err := s.feeds.UpdateFeedSchedule(ctx, feed.Id, storage.FeedScheduleUpdate{
		SyncIntervalHours:   &interval,
		NextSyncAt:          &next,
		LastFetchedAt:       &at,
		ETag:                &res.ETag,
		LastModified:        &res.LastModified,
		Status:              &status,
		LastError:           &noErr,
		ConsecutiveFailures: &zero,
	})
	if err != nil {
		return err
	}
	*feed = *updated
	return nil
}

func (s *Scheduler) recordFailure(ctx context.Context, feed *core.Feed, res *syncer.Result, at time.Time) error {
	s.failedMu.Lock()
	entry, ok := s.failed[feed.Id]
	if !ok {
		entry.since = at
	}
	entry.priority = feed.Priority
	entry.lastErr = res.Error
	s.failed[feed.Id] = entry
	s.failedMu.Unlock()

	s.logger.Warn("feed sync failed",
		"feed_id", feed.Id,
		"url", feed.URL,
		"duration", res.SyncDuration,
		"attempts", res.RetryCount+1,
		"err", res.Error)

	failures := feed.ConsecutiveFailures + 1
	next := at.Add(2 * TierInterval(feed.Priority))
	update := storage.FeedScheduleUpdate{
		NextSyncAt:          &next,
		LastError:           &res.Error,
		ConsecutiveFailures: &failures,
	}
	if s.maxFailures > 0 && failures >= s.maxFailures {
		status := core.FeedStatusError
		update.Status = &status
		s.logger.Warn("feed disabled after repeated failures", "feed_id", feed.Id, "failures", failures)
	}
	updated, err := s.feeds.UpdateFeedSchedule(ctx, feed.Id, update)
	if err != nil {
		return err
	}
	*feed = *updated
	return nil
}

func (s *Scheduler) retryFailedJob() {
	if _, err := s.RetryFailed(context.Background()); err != nil {
		s.logger.Error("failed-feed retry sweep failed", "err", err)
	}
}

// RetryFailed re-syncs every feed in the failed-feed set.
func (s *Scheduler) RetryFailed(ctx context.Context) (*syncer.BatchResult, error) {
	s.failedMu.Lock()
	ids := slices.Collect(maps.Keys(s.failed))
	s.failedMu.Unlock()
	if len(ids) == 0 {
		return &syncer.BatchResult{}, nil
	}
	slices.Sort(ids)

	var feeds []*core.Feed
	for _, id := range ids {
		feed, err := s.feeds.GetFeed(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			s.failedMu.Lock()
			delete(s.failed, id)
			s.failedMu.Unlock()
			continue
		}
		if err != nil {
			return nil, err
		}
		if feed.Status == core.FeedStatusPaused {
			continue
		}
		feeds = append(feeds, feed)
	}
	s.logger.Info("retrying failed feeds", "count", len(feeds))
	return s.syncBatch(ctx, feeds), nil
}

// FailedFeeds returns the ids in the failed-feed set.
func (s *Scheduler) FailedFeeds() []core.ID {
	s.failedMu.Lock()
	defer s.failedMu.Unlock()
	ids := slices.Collect(maps.Keys(s.failed))
	slices.Sort(ids)
	return ids
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	return s.stats.snapshot(s.FailedFeeds())
}

// GetFeedsDueForSync returns up to limit active feeds that are due now.
func (s *Scheduler) GetFeedsDueForSync(ctx context.Context, limit int) ([]*core.Feed, error) {
	now := s.clock()
	feeds, err := s.feeds.GetFeedsDueForSync(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	due := feeds[:0]
	for _, f := range feeds {
		if f.Status == core.FeedStatusActive && IsDue(f, now) {
			due = append(due, f)
		}
	}
	return due, nil
}

// ScheduleNextSync records a sync at lastSyncAt and sets the next due time
// from the feed's tier.
func (s *Scheduler) ScheduleNextSync(ctx context.Context, id core.ID, lastSyncAt time.Time) (*core.Feed, error) {
	feed, err := s.feeds.GetFeed(ctx, id)
	if err != nil {
		return nil, err
	}
	next := CalculateNextSyncAt(feed.Priority, lastSyncAt)
	interval := PriorityIntervalHours(feed.Priority)
	return s.feeds.UpdateFeedSchedule(ctx, id, storage.FeedScheduleUpdate{
		SyncIntervalHours: &interval,
		NextSyncAt:        &next,
		LastFetchedAt:     &lastSyncAt,
	})
}

// UpdateFeedPriority moves a feed to another tier and recomputes its
// interval and next due time from its last fetch. A never-fetched feed
// stays due immediately.
func (s *Scheduler) UpdateFeedPriority(ctx context.Context, id core.ID, p core.SyncPriority) (*core.Feed, error) {
	if err := core.ValidatePriority(p); err != nil {
		return nil, err
	}
	feed, err := s.feeds.GetFeed(ctx, id)
	if err != nil {
		return nil, err
	}
	interval := PriorityIntervalHours(p)
	update := storage.FeedScheduleUpdate{
		Priority:          &p,
		SyncIntervalHours: &interval,
	}
	if feed.LastFetchedAt != nil {
		next := CalculateNextSyncAt(p, *feed.LastFetchedAt)
		update.NextSyncAt = &next
	}
	updated, err := s.feeds.UpdateFeedSchedule(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.failedMu.Lock()
	if entry, ok := s.failed[id]; ok {
		entry.priority = p
		s.failed[id] = entry
	}
	s.failedMu.Unlock()

	s.logger.Info("feed priority updated", "feed_id", id, "priority", p)
	return updated, nil
}

// AddFeed subscribes tenant to url. An explicit override wins; otherwise
// the priority comes from DetermineNewFeedPriority. The feed is due at once.
func (s *Scheduler) AddFeed(ctx context.Context, tenant core.TenantID, url string, override core.SyncPriority) (*core.Feed, error) {
	priority := override
	if priority == "" {
		priority = DetermineNewFeedPriority(ctx, url, s.catalog)
	}
	feed := &core.Feed{
		Tenant:            tenant,
		URL:               core.NormalizeURL(url),
		Status:            core.FeedStatusActive,
		Priority:          priority,
		SyncIntervalHours: PriorityIntervalHours(priority),
	}
	if err := core.ValidateFeed(feed); err != nil {
		return nil, err
	}
	added, err := s.feeds.AddFeeds(ctx, feed)
	if err != nil {
		return nil, err
	}
	s.logger.Info("feed added", "feed_id", added[0].Id, "tenant", tenant, "priority", priority)
	return added[0], nil
}
