// Package liveness maintains the shared activity signal used as the idle
// clock by the lifecycle monitor.
//
// The signal is a single mutable record: the instant of the last genuine
// user activity. Handlers that represent real activity (chat completions,
// conversation writes) overwrite it; the lifecycle monitor only reads it.
// Absence of a record means no activity was ever recorded.
package liveness

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nhalm/infergate/internal/store"
)

const signalKey = "liveness:last_activity"

// Recorder reads and writes the liveness signal.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// New creates a Recorder over the given store.
func New(st store.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Touch overwrites the signal with the current instant.
func (r *Recorder) Touch(ctx context.Context) error {
	ts := strconv.FormatInt(r.now().Unix(), 10)
	if err := r.store.Set(ctx, signalKey, []byte(ts), 0); err != nil {
		return fmt.Errorf("record liveness signal: %w", err)
	}
	return nil
}

// Last returns the instant of the last recorded activity.
// found is false when no activity was ever recorded.
func (r *Recorder) Last(ctx context.Context) (last time.Time, found bool, err error) {
	raw, found, err := r.store.Get(ctx, signalKey)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read liveness signal: %w", err)
	}
	if !found {
		return time.Time{}, false, nil
	}

	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse liveness signal %q: %w", raw, err)
	}
	return time.Unix(secs, 0), true, nil
}
