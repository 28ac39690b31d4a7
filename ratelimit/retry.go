// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"
)

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryableError marks an error that should be retried regardless of its shape.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Permanent wraps err so that retry wrappers give up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable wraps err so that retry wrappers always try again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// statusCoder is implemented by HTTP errors that carry a response status.
type statusCoder interface {
	StatusCode() int
}

// retryableMessages are substrings that identify transient provider errors
// surfaced only as text by client libraries.
var retryableMessages = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
	"connection reset",
	"connection refused",
	"timeout",
	"temporarily unavailable",
	"overloaded",
}

// IsRetryable classifies err as transient (rate limits, 5xx, network
// failures, timeouts) or not. Explicit Permanent/Retryable markers win.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var retry *retryableError
	if errors.As(err, &retry) {
		return true
	}

	switch {
	case errors.Is(err, ErrBudgetExceeded), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// BackoffConfig controls WithExponentialBackoff.
type BackoffConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// Delays[i] is slept before retry i+1. The last delay repeats when
	// there are more retries than delays.
	Delays []time.Duration
}

// DefaultBackoff returns three attempts with 1s, 2s and 4s delays.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxAttempts: 3,
		Delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

func (c BackoffConfig) delay(retry int) time.Duration {
	if len(c.Delays) == 0 {
		return 0
	}
	if retry > len(c.Delays) {
		retry = len(c.Delays)
	}
	return c.Delays[retry-1]
}

// BackoffResult is the outcome of WithExponentialBackoff.
type BackoffResult[T any] struct {
	Success  bool
	Result   T
	Err      error
	Attempts int
}

// Exhausted reports whether the call failed with a retryable error on its
// last allowed attempt.
func (r BackoffResult[T]) Exhausted() bool {
	return !r.Success && IsRetryable(r.Err)
}

// WithExponentialBackoff invokes fn until it succeeds, fails with a
// non-retryable error or runs out of attempts.
func WithExponentialBackoff[T any](ctx context.Context, fn func(ctx context.Context) (T, error), cfg BackoffConfig) BackoffResult[T] {
	var result BackoffResult[T]
	if cfg.MaxAttempts <= 0 {
		result.Err = ErrInvalidMaxAttempts
		return result
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		result.Attempts = attempt
		value, err := fn(ctx)
		if err == nil {
			result.Success = true
			result.Result = value
			result.Err = nil
			return result
		}
		result.Err = err

		if !IsRetryable(err) {
			return result
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Debug("retryable failure, backing off", "attempt", attempt, "maxAttempts", cfg.MaxAttempts, "err", err)
		if err := sleep(ctx, cfg.delay(attempt)); err != nil {
			result.Err = err
			return result
		}
	}
	return result
}

// RetryWithBackoff retries an operation with exponential backoff.
// maxAttempts: maximum number of attempts (must be > 0)
// baseDelay: base delay between retries (doubles on each retry)
// Every error is retried except those wrapped with Permanent.
// Returns the number of attempts made and the error from the last attempt.
func RetryWithBackoff(ctx context.Context, operation func(attempt int) error, maxAttempts int, baseDelay time.Duration) (int, error) {
	if maxAttempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = operation(attempt)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return attempt, perm.err
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "error", lastErr)

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			break
		}

		// baseDelay * 2^(attempt-1)
		delay := baseDelay << (attempt - 1)
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, lastErr
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
