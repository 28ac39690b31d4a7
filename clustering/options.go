package clustering

import (
	"log/slog"
	"time"

	"github.com/poiesic/feedsync/ai"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithThreshold sets the similarity needed to join a cluster.
// Default is DefaultThreshold.
func WithThreshold(threshold float64) Option {
	return func(e *Engine) error {
		if threshold > 0 {
			e.threshold = threshold
		}
		return nil
	}
}

// WithTimeframe sets how far back a run looks for articles. Default is 48h.
func WithTimeframe(d time.Duration) Option {
	return func(e *Engine) error {
		if d > 0 {
			e.timeframe = d
		}
		return nil
	}
}

// WithSummarizer enables cluster headlines and summaries, metered as the
// summaries operation against info.
func WithSummarizer(s ai.Summarizer, info ai.ProviderInfo) Option {
	return func(e *Engine) error {
		e.summarizer = s
		e.provider = info
		return nil
	}
}

// WithProviderInfo names the provider usage is recorded against.
func WithProviderInfo(info ai.ProviderInfo) Option {
	return func(e *Engine) error {
		e.provider = info
		return nil
	}
}

// WithAvailability sets the capability gate. Runs are skipped while it
// returns false. By default the service is always available.
func WithAvailability(available func() bool) Option {
	return func(e *Engine) error {
		if available != nil {
			e.available = available
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		e.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "clustering")
		return nil
	}
}
