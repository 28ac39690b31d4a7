package syncer

import (
	"time"

	"github.com/poiesic/feedsync/ratelimit"
)

// Size sanity bounds for a feed body.
const (
	MinFeedSize = 100
	MaxFeedSize = 50 << 20
)

// Options controls a single feed sync.
type Options struct {
	MaxArticles        int           `yaml:"max_articles"`
	RespectCaching     bool          `yaml:"respect_caching"`
	ValidateContent    bool          `yaml:"validate_content"` // always on for high-priority feeds
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	Timeout            time.Duration `yaml:"timeout"`
	ExtractFullContent bool          `yaml:"extract_full_content"`
	DetectLanguage     bool          `yaml:"detect_language"`
}

// DefaultOptions returns the stock sync options.
func DefaultOptions() Options {
	return Options{
		MaxArticles:    50,
		RespectCaching: true,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		Timeout:        30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxArticles <= 0 {
		o.MaxArticles = d.MaxArticles
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// BatchOptions controls SyncFeeds.
type BatchOptions struct {
	Options

	// BatchSize is the number of feeds synced concurrently. Default 3.
	BatchSize int

	// BatchDelay is slept between batches.
	BatchDelay time.Duration

	// FailFast stops issuing new batches after the first failed feed.
	// The batch in flight always runs to completion.
	FailFast bool

	// Limiter gates every feed fetch. Nil disables admission control.
	Limiter *ratelimit.RequestLimiter

	// Events receives progress, error and completion events. Sends wait
	// for the consumer and are abandoned only once ctx is done.
	Events chan<- Event
}
