package scheduler

import "errors"

var (
	// ErrFeedStoreRequired is returned when a scheduler has no feed store.
	ErrFeedStoreRequired = errors.New("feed store required")

	// ErrSyncerRequired is returned when a scheduler has no syncer.
	ErrSyncerRequired = errors.New("feed syncer required")

	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNotRunning is returned by Stop on a stopped scheduler.
	ErrNotRunning = errors.New("scheduler not running")
)
