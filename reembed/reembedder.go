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


package reembed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

const (
	// BackfillJob names the checkpoint of a pending/failed backfill.
	BackfillJob = "backfill"

	// ReembedJob names the checkpoint of a full re-embed.
	ReembedJob = "reembed"
)

// Config holds configuration for a backfill run.
type Config struct {
	// BatchSize is the number of articles to scan in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of articles)
	ReportInterval int

	// MaxAttempts is stored on each queue entry the run creates
	MaxAttempts int

	// All resets and requeues every article, for a change of embedding model
	All bool

	// Restart ignores any saved checkpoint
	Restart bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxAttempts:    3,
	}
}

// ArticleStore is the article storage a backfill reads and resets.
type ArticleStore interface {
	ArticleLister
	ArticleUpdater
}

// Summary describes a finished run.
type Summary struct {
	Job       string
	Scanned   int
	Queued    int
	Skipped   int
	Orphaned  int
	ResumedAt core.ID
	Duration  time.Duration
}

// Reembedder walks stored articles and feeds the ones needing an embedding
// back into the embedding queue.
type Reembedder struct {
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *ArticleIterator
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(
	articles ArticleStore,
	feeds FeedGetter,
	queue Queue,
	checkpoints storage.CheckpointRepository,
	config *Config,
	progress io.Writer,
) (*Reembedder, error) {
	switch {
	case articles == nil:
		return nil, ErrArticleStoreRequired
	case feeds == nil:
		return nil, ErrFeedStoreRequired
	case queue == nil:
		return nil, ErrQueueRequired
	case checkpoints == nil:
		return nil, ErrCheckpointStoreRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	processor, err := NewBatchProcessor(articles, feeds, queue, config.MaxAttempts, config.All)
	if err != nil {
		return nil, err
	}

	return &Reembedder{
		checkpoints: checkpoints,
		config:      config,
		progress:    progress,
		processor:   processor,
		iterator:    NewArticleIterator(articles, config.BatchSize),
	}, nil
}

// Job returns the checkpoint name this reembedder uses.
func (r *Reembedder) Job() string {
	if r.config.All {
		return ReembedJob
	}
	return BackfillJob
}

// Run scans articles after the saved checkpoint and enqueues those that need
// an embedding. The checkpoint advances after every batch and is cleared
// once the scan completes.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	job := r.Job()
	summary := &Summary{Job: job}
	started := time.Now()

	if r.config.Restart {
		if err := r.checkpoints.ClearCheckpoint(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	}
	checkpoint, err := r.checkpoints.LoadCheckpoint(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if checkpoint == nil {
		checkpoint = &core.Checkpoint{Job: job}
	}
	summary.ResumedAt = checkpoint.LastID

	total, err := r.iterator.Count(ctx, checkpoint.LastID)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No articles to scan (0 articles)\n")
		return summary, r.checkpoints.ClearCheckpoint(ctx, job)
	}

	if checkpoint.LastID > 0 {
		fmt.Fprintf(r.progress, "Resuming %s after article %d (%d already scanned)\n",
			job, checkpoint.LastID, checkpoint.Processed)
	}
	fmt.Fprintf(r.progress, "Starting %s of %d articles (batch size: %d)\n",
		job, total, r.iterator.batchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, checkpoint.LastID, func(articles []*core.Article) error {
		outcome, err := r.processor.Process(ctx, articles)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		summary.Scanned += len(articles)
		summary.Queued += outcome.Queued
		summary.Skipped += outcome.Skipped
		summary.Orphaned += outcome.Orphaned

		checkpoint.LastID = articles[len(articles)-1].Id
		checkpoint.Processed += len(articles)
		if err := r.checkpoints.SaveCheckpoint(ctx, checkpoint); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		tracker.Update(summary.Scanned)
		return nil
	})
	if err != nil {
		summary.Duration = time.Since(started)
		return summary, err
	}

	tracker.Finish()
	if err := r.checkpoints.ClearCheckpoint(ctx, job); err != nil {
		return summary, fmt.Errorf("failed to clear checkpoint: %w", err)
	}

	summary.Duration = time.Since(started)
	fmt.Fprintf(r.progress, "%s complete. Scanned %d articles, queued %d in %v\n",
		job, summary.Scanned, summary.Queued, summary.Duration.Round(time.Millisecond))
	return summary, nil
}
