package reembed

import "errors"

var (
	ErrArticleStoreRequired    = errors.New("article store is required")
	ErrFeedStoreRequired       = errors.New("feed store is required")
	ErrQueueRequired           = errors.New("embedding queue is required")
	ErrCheckpointStoreRequired = errors.New("checkpoint store is required")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)
