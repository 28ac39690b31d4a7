package ingestion

import "errors"

var (
	// ErrArticleStoreRequired is returned when an article store is not provided.
	ErrArticleStoreRequired = errors.New("article store required")

	// ErrQueueRequired is returned when an embedding queue is not provided.
	ErrQueueRequired = errors.New("embedding queue required")

	// ErrTrackerRequired is returned when a usage tracker is not provided.
	ErrTrackerRequired = errors.New("usage tracker required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrDeadLetterQueueRequired is returned when replaying without a dead-letter queue.
	ErrDeadLetterQueueRequired = errors.New("dead-letter queue required")

	// ErrUnexpectedOperation is returned when replaying a dead letter of another operation.
	ErrUnexpectedOperation = errors.New("dead letter is not an embedding")
)
