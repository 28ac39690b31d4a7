package syncer

import (
	"context"
	"sync"
	"time"
)

// DefaultBatchSize is the number of feeds synced concurrently.
const DefaultBatchSize = 3

// SyncFeeds syncs feeds in batches of BatchSize. Each fetch waits on the
// shared limiter first. A batch always runs to completion: cancelling ctx
// or FailFast only stops the next batch from starting. Results keep the
// input order.
func (e *Engine) SyncFeeds(ctx context.Context, feeds []SyncableFeed, opts BatchOptions) *BatchResult {
	start := e.clock()
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	out := &BatchResult{Results: make([]*Result, 0, len(feeds))}
	completed := 0

	for offset := 0; offset < len(feeds); offset += size {
		batch := feeds[offset:min(offset+size, len(feeds))]
		results := make([]*Result, len(batch))
		batchCtx := context.WithoutCancel(ctx)

		var wg sync.WaitGroup
		for i, feed := range batch {
			wg.Go(func() {
				if opts.Limiter != nil {
					if err := opts.Limiter.Wait(batchCtx); err != nil {
						results[i] = (&Result{FeedID: feed.ID, URL: feed.URL, ValidationPassed: true}).fail(err)
						return
					}
				}
				results[i] = e.SyncFeed(batchCtx, feed, opts.Options)
			})
		}
		wg.Wait()

		batchFailed := false
		for _, r := range results {
			completed++
			out.Results = append(out.Results, r)
			kind := EventProgress
			if r.Success {
				out.Succeeded++
			} else {
				out.Failed++
				batchFailed = true
				kind = EventError
			}
			emit(ctx, opts.Events, Event{Kind: kind, Completed: completed, Total: len(feeds), Result: r})
		}

		last := offset+size >= len(feeds)
		if last {
			break
		}
		if opts.FailFast && batchFailed {
			out.Stopped = true
			e.logger.Warn("stopping batch sync after failure", "completed", completed, "total", len(feeds))
			break
		}
		if ctx.Err() != nil {
			out.Stopped = true
			break
		}
		if opts.BatchDelay > 0 {
			timer := time.NewTimer(opts.BatchDelay)
			select {
			case <-ctx.Done():
				out.Stopped = true
			case <-timer.C:
			}
			timer.Stop()
			if out.Stopped {
				break
			}
		}
	}

	out.Duration = e.clock().Sub(start)
	emit(ctx, opts.Events, Event{Kind: EventComplete, Completed: completed, Total: len(feeds)})
	return out
}

// emit waits for the consumer unless ctx is done first.
func emit(ctx context.Context, ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
