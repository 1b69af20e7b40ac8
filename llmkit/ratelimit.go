package llmkit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window admission gate shared by every outbound
// caller in the process. The timestamped request log is guarded by a mutex;
// the required wait is computed inside the critical section and the actual
// suspension happens outside it, so a waiting caller never holds the lock.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu  sync.Mutex
	log []time.Time

	now func() time.Time // test hook
}

// NewRateLimiter creates a limiter admitting at most limit calls per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// reserve records the request and returns how long the caller must wait
// before its slot opens. Zero means admit immediately.
func (l *RateLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Drop entries that have left the window.
	keep := l.log[:0]
	for _, t := range l.log {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.log = keep

	if len(l.log) < l.limit {
		l.log = append(l.log, now)
		return 0
	}

	// The slot opens when the oldest logged call leaves the window.
	oldest := l.log[0]
	wait := oldest.Add(l.window).Sub(now)
	l.log = append(l.log[1:], now.Add(wait))
	return wait
}

// Wait blocks until a slot is available or the context is cancelled.
func (l *RateLimiter) Wait(ctx context.Context) error {
	wait := l.reserve()
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return &AbortError{BaseError: BaseError{Message: "cancelled while rate limited", Cause: ctx.Err()}}
	case <-time.After(wait):
		return nil
	}
}

// WouldWait returns the wait the next caller would incur, without reserving.
func (l *RateLimiter) WouldWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	active := 0
	var oldest time.Time
	for _, t := range l.log {
		if t.After(cutoff) {
			if active == 0 {
				oldest = t
			}
			active++
		}
	}
	if active < l.limit {
		return 0
	}
	return oldest.Add(l.window).Sub(now)
}

// RateLimitMiddleware gates Complete calls through the limiter.
func RateLimitMiddleware(limiter *RateLimiter, onWait func(time.Duration)) Middleware {
	return func(ctx context.Context, req Request, next Handler) (*Response, error) {
		if wait := limiter.reserve(); wait > 0 {
			if onWait != nil {
				onWait(wait)
			}
			select {
			case <-ctx.Done():
				return nil, &AbortError{BaseError: BaseError{Message: "cancelled while rate limited", Cause: ctx.Err()}}
			case <-time.After(wait):
			}
		}
		return next(ctx, req)
	}
}
