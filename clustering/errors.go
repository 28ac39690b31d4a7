package clustering

import "errors"

var (
	// ErrDimensionMismatch is returned when two vectors differ in length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNoEmbedding is returned when an article has no embedding to compare.
	ErrNoEmbedding = errors.New("article has no embedding")

	// ErrArticleStoreRequired is returned when an article store is not provided.
	ErrArticleStoreRequired = errors.New("article store required")

	// ErrFeedStoreRequired is returned when a feed store is not provided.
	ErrFeedStoreRequired = errors.New("feed store required")

	// ErrClusterStoreRequired is returned when a cluster store is not provided.
	ErrClusterStoreRequired = errors.New("cluster store required")

	// ErrTrackerRequired is returned when a usage tracker is not provided.
	ErrTrackerRequired = errors.New("usage tracker required")
)
