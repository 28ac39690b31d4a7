package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequestLimiter admits requests under two constraints: at most perWindow
// admissions in any sliding window, and a token bucket capping bursts.
// It is safe for concurrent use.
type RequestLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	perWindow int
	admitted  []time.Time // ascending admission times within the window
	burst     *rate.Limiter
	now       func() time.Time
}

// LimiterOption configures a RequestLimiter.
type LimiterOption func(*RequestLimiter)

// WithWindow overrides the one-minute sliding window.
func WithWindow(d time.Duration) LimiterOption {
	return func(l *RequestLimiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// NewRequestLimiter allows perMinute requests per sliding window, with at
// most burst admitted back to back. A burst <= 0 disables the burst cap.
func NewRequestLimiter(perMinute, burst int, opts ...LimiterOption) *RequestLimiter {
	l := &RequestLimiter{
		window:    time.Minute,
		perWindow: max(perMinute, 1),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if burst > 0 {
		every := l.window / time.Duration(l.perWindow)
		l.burst = rate.NewLimiter(rate.Every(every), burst)
	}
	return l
}

// Allow admits a request without blocking if both constraints permit.
func (l *RequestLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	if len(l.admitted) >= l.perWindow {
		return false
	}
	if l.burst != nil && !l.burst.AllowN(now, 1) {
		return false
	}
	l.admitted = append(l.admitted, now)
	return true
}

// Wait blocks until a request is admitted or ctx is done. When the window
// is full it waits for the oldest admission to expire.
func (l *RequestLimiter) Wait(ctx context.Context) error {
	if l.burst != nil {
		if err := l.burst.Wait(ctx); err != nil {
			return err
		}
	}
	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)
		if len(l.admitted) < l.perWindow {
			l.admitted = append(l.admitted, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.admitted[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow returns the number of admissions in the current window.
func (l *RequestLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.admitted)
}

func (l *RequestLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admitted) && !l.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[i:]...)
	}
}
