package search

import "errors"

var (
	// ErrArticleStoreRequired is returned when an article store is not provided.
	ErrArticleStoreRequired = errors.New("article store required")

	// ErrFeedStoreRequired is returned when a feed store is not provided.
	ErrFeedStoreRequired = errors.New("feed store required")

	// ErrTrackerRequired is returned when a usage tracker is not provided.
	ErrTrackerRequired = errors.New("usage tracker required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query cannot be empty")
)
