package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/syncer"
	"go.opentelemetry.io/otel/metric"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithWorkers sets the size of the tier worker pool. Default is 3.
func WithWorkers(n int) Option {
	return func(s *Scheduler) error {
		if n < 1 {
			n = 1
		}
		s.workers = n
		return nil
	}
}

// WithDueLimit caps the feeds pulled per tier run. Default is 50.
func WithDueLimit(n int) Option {
	return func(s *Scheduler) error {
		if n < 1 {
			return errors.New("due limit must be positive")
		}
		s.dueLimit = n
		return nil
	}
}

// WithBatching sets the sync batch size and the delay between batches.
// Defaults are 3 and 2s.
func WithBatching(size int, delay time.Duration) Option {
	return func(s *Scheduler) error {
		if size > 0 {
			s.batchSize = size
		}
		if delay >= 0 {
			s.batchDelay = delay
		}
		return nil
	}
}

// WithStagger sets the start offset between consecutive tiers. Default is 5m.
func WithStagger(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.stagger = d
		return nil
	}
}

// WithTickInterval overrides how often a tier checks for due feeds.
// By default a tier ticks once per tier interval.
func WithTickInterval(p core.SyncPriority, d time.Duration) Option {
	return func(s *Scheduler) error {
		if err := core.ValidatePriority(p); err != nil {
			return err
		}
		if d <= 0 {
			return errors.New("tick interval must be positive")
		}
		s.tickIntervals[p] = d
		return nil
	}
}

// WithFailedRetryInterval sets how often failed feeds are retried.
// Default is 6h.
func WithFailedRetryInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		if d <= 0 {
			return errors.New("failed retry interval must be positive")
		}
		s.failedRetryInterval = d
		return nil
	}
}

// WithMaxConsecutiveFailures sets the failure count after which a feed
// is moved to the error status. Default is 10; 0 disables.
func WithMaxConsecutiveFailures(n int) Option {
	return func(s *Scheduler) error {
		s.maxFailures = n
		return nil
	}
}

// WithHistorySize sets the number of recent syncs kept for stats. Default is 100.
func WithHistorySize(n int) Option {
	return func(s *Scheduler) error {
		if n < 1 {
			n = 1
		}
		s.stats = newStatsRecorder(n)
		return nil
	}
}

// WithSyncOptions sets the per-feed sync options.
func WithSyncOptions(opts syncer.Options) Option {
	return func(s *Scheduler) error {
		s.syncOptions = opts
		return nil
	}
}

// WithLimiter shares a request limiter across every tier.
func WithLimiter(l *ratelimit.RequestLimiter) Option {
	return func(s *Scheduler) error {
		s.limiter = l
		return nil
	}
}

// WithCatalog sets the catalog consulted for new feed priorities.
func WithCatalog(c CatalogLookup) Option {
	return func(s *Scheduler) error {
		s.catalog = c
		return nil
	}
}

// WithObserver registers an observer for sync results.
func WithObserver(o SyncObserver) Option {
	return func(s *Scheduler) error {
		if o != nil {
			s.observers = append(s.observers, o)
		}
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
// Default is the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Scheduler) error {
		s.meterProvider = mp
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) error {
		s.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "scheduler")
		return nil
	}
}
