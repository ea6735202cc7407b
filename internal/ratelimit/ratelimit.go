// Package ratelimit implements the admission controller: a fixed-window
// rate limiter keyed by (identity, operation, window) over the shared store.
//
// The limiter is a defense-in-depth layer behind authentication, not the
// primary authorization gate. Its failure semantics reflect that: if the
// store is unreachable it FAILS OPEN and admits the request. Authentication
// fails closed; this asymmetry is intentional and must not be "fixed".
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhalm/canonlog"

	"github.com/nhalm/infergate/internal/store"
)

// Limit is a per-operation quota: at most MaxRequests per Window.
type Limit struct {
	MaxRequests int64
	Window      time.Duration
}

// Limits maps operation names to their quotas. Operations not present in
// the table fall back to Default rather than failing. The table is immutable
// after construction.
type Limits struct {
	Operations map[string]Limit
	Default    Limit
}

// For returns the quota for the given operation, falling back to Default
// for unknown operation names.
func (l Limits) For(operation string) Limit {
	if lim, ok := l.Operations[operation]; ok {
		return lim
	}
	return l.Default
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Limiter decides whether a request may proceed. It is stateless across
// calls; all shared state lives in the store.
type Limiter struct {
	store  store.Store
	limits Limits
	grace  time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithGrace sets the extra lifetime added to a window counter's expiry
// beyond the window end. Must be at least one window length to tolerate
// clock skew and store cleanup lag; values below the operation's window
// are ignored.
func WithGrace(grace time.Duration) Option {
	return func(l *Limiter) {
		l.grace = grace
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter with the given store and quota table. Windows are
// clamped to at least one second; window arithmetic runs in whole seconds.
func New(st store.Store, limits Limits, opts ...Option) *Limiter {
	l := &Limiter{
		store:  st,
		limits: normalize(limits),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func normalize(limits Limits) Limits {
	ops := make(map[string]Limit, len(limits.Operations))
	for name, lim := range limits.Operations {
		if lim.Window < time.Second {
			lim.Window = time.Second
		}
		ops[name] = lim
	}
	limits.Operations = ops
	if limits.Default.Window < time.Second {
		limits.Default.Window = time.Second
	}
	return limits
}

// Check performs one admission check for the (identity, operation) pair.
//
// The window is fixed and clock-aligned: windowStart = floor(now/window)*window,
// so all callers in the same window share one counter and ResetAt is the end
// of the current window, not a rolling offset from the request time.
//
// The counter is incremented exactly once per check, including checks that
// end up denied; hammering past the limit keeps incrementing. The increment
// and the read of the new value are a single atomic store operation. Two
// separate read-then-write calls would let concurrent requests both observe
// a stale count and both slip past the limit.
//
// If the store is unreachable, Check fails OPEN: the request is admitted
// with Remaining reported as the full limit, and the failure is logged.
func (l *Limiter) Check(ctx context.Context, identity, operation string) Result {
	lim := l.limits.For(operation)

	now := l.now()
	windowSecs := int64(lim.Window / time.Second)
	windowStart := now.Unix() - now.Unix()%windowSecs
	resetAt := time.Unix(windowStart+windowSecs, 0)

	grace := l.grace
	if grace < lim.Window {
		grace = lim.Window
	}

	key := fmt.Sprintf("ratelimit:%s:%s:%d", operation, identity, windowStart)

	count, err := l.store.Increment(ctx, key, resetAt.Add(grace))
	if err != nil {
		// Fail open: availability of the service outweighs strict quota
		// enforcement here. Authentication is the gate that fails closed.
		// The context may carry no canonical logger (the monitor binary,
		// callers outside the request middleware), so never rely on one.
		if logger, ok := canonlog.TryGetLogger(ctx); ok {
			logger.ErrorAdd(fmt.Errorf("rate limit store unavailable, failing open: %w", err))
		} else {
			slog.ErrorContext(ctx, "rate limit store unavailable, failing open", "error", err.Error())
		}
		return Result{
			Allowed:   true,
			Limit:     lim.MaxRequests,
			Remaining: lim.MaxRequests,
			ResetAt:   resetAt,
		}
	}

	return Result{
		Allowed:   count <= lim.MaxRequests,
		Limit:     lim.MaxRequests,
		Remaining: max(0, lim.MaxRequests-count),
		ResetAt:   resetAt,
	}
}
