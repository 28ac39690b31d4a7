package ratelimit

import "errors"

var (
	// ErrBudgetExceeded is returned when a tenant's daily quota for an
	// operation is used up. It is never retried.
	ErrBudgetExceeded = errors.New("daily usage budget exceeded")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrInvalidOperation is returned for an unknown metered operation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrCountersRequired is returned when a tracker is built without a counter store.
	ErrCountersRequired = errors.New("daily counters required")

	// ErrDeadLetterRepositoryRequired is returned when a dead-letter manager has no repository.
	ErrDeadLetterRepositoryRequired = errors.New("dead-letter repository required")
)
