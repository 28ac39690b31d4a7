package syncer

import (
	"time"

	"github.com/poiesic/feedsync/core"
)

// Result is the structured outcome of one feed sync.
type Result struct {
	FeedID            core.ID
	URL               string
	Success           bool
	NotModified       bool
	ArticlesFound     int
	ArticlesNew       int
	ArticlesUpdated   int
	ArticlesSkipped   int
	NewArticleIDs     []core.ID
	UpdatedArticleIDs []core.ID // changed text; embeddings must be refreshed
	HTTPStatusCode    int
	FeedSizeBytes     int
	FeedType          string
	FeedTitle         string
	ETag              string
	LastModified      string
	SyncDuration      time.Duration
	RetryCount        int
	ValidationPassed  bool // false only when validation ran and failed
	FetchedAt         time.Time
	Error             string
	Err               error `json:"-" yaml:"-"`
}

func (r *Result) fail(err error) *Result {
	r.Success = false
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// BatchResult aggregates SyncFeeds.
type BatchResult struct {
	Results   []*Result
	Succeeded int
	Failed    int
	Stopped   bool // FailFast ended the run early
	Duration  time.Duration
}

// EventKind classifies an Event.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
	EventComplete EventKind = "complete"
)

// Event reports batch progress.
type Event struct {
	Kind      EventKind
	Completed int
	Total     int
	Result    *Result // nil for EventComplete
}
