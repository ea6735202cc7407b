// Package lifecycle implements the idle/hard-limit controller for the
// inference instance. On a fixed schedule it inspects the instance's run
// state and the shared liveness signal, and stops the instance when it has
// either run too long outright or sat idle past the timeout.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/nhalm/canonlog"

	"github.com/nhalm/infergate/internal/compute"
)

// Action is what an evaluation did.
type Action string

const (
	ActionNone    Action = "no-op"
	ActionStopped Action = "stopped"
)

// Reason explains an evaluation's outcome.
type Reason string

const (
	ReasonNotRunning         Reason = "not-running"
	ReasonHardLimit          Reason = "hard-limit"
	ReasonNoActivityRecorded Reason = "no-activity-recorded"
	ReasonIdleTimeout        Reason = "idle-timeout"
	ReasonActive             Reason = "active"
	ReasonError              Reason = "error"
)

// Outcome is the result of one evaluation.
type Outcome struct {
	Action Action
	Reason Reason
}

// ActivitySource reads the liveness signal.
type ActivitySource interface {
	Last(ctx context.Context) (last time.Time, found bool, err error)
}

// Config holds the monitor's policy knobs.
type Config struct {
	// IdleTimeout is how long the instance may sit without user activity
	// before being stopped.
	IdleTimeout time.Duration

	// HardLimit is the maximum continuous running time, regardless of
	// activity. Checked before the idle timeout.
	HardLimit time.Duration
}

// Monitor evaluates the stop policy against one managed instance.
type Monitor struct {
	manager  compute.Manager
	activity ActivitySource
	config   Config
	now      func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a Monitor. Zero config fields get the policy defaults:
// 15 minute idle timeout, 1 hour hard limit.
func New(manager compute.Manager, activity ActivitySource, config Config, opts ...Option) *Monitor {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 15 * time.Minute
	}
	if config.HardLimit <= 0 {
		config.HardLimit = time.Hour
	}
	m := &Monitor{
		manager:  manager,
		activity: activity,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EvaluateAndAct runs one evaluation and issues at most one stop command.
//
// Decision order:
//  1. Instance not running: no-op.
//  2. Uptime past the hard limit: stop, regardless of recent activity.
//  3. No liveness signal ever recorded: treat as infinitely idle, stop.
//  4. Idle past the timeout: stop. Otherwise no-op.
//
// Every failure (state query, signal read, stop command) is logged and
// swallowed; the next scheduled run retries. EvaluateAndAct never panics
// past its entry point and never propagates an error to the scheduler.
func (m *Monitor) EvaluateAndAct(ctx context.Context) Outcome {
	ctx = canonlog.NewContext(ctx)
	defer canonlog.Flush(ctx)

	outcome := m.evaluate(ctx)

	canonlog.InfoAddMany(ctx, map[string]any{
		"component": "lifecycle_monitor",
		"action":    string(outcome.Action),
		"reason":    string(outcome.Reason),
	})
	return outcome
}

func (m *Monitor) evaluate(ctx context.Context) Outcome {
	inst, err := m.manager.Describe(ctx)
	if err != nil {
		canonlog.ErrorAdd(ctx, fmt.Errorf("describe instance: %w", err))
		return Outcome{Action: ActionNone, Reason: ReasonError}
	}

	canonlog.InfoAdd(ctx, "run_state", string(inst.State))

	if !inst.Running() {
		return Outcome{Action: ActionNone, Reason: ReasonNotRunning}
	}

	now := m.now()
	uptime := now.Sub(inst.StartedAt)
	canonlog.InfoAdd(ctx, "uptime_s", int64(uptime.Seconds()))

	if uptime > m.config.HardLimit {
		return m.stop(ctx, ReasonHardLimit)
	}

	last, found, err := m.activity.Last(ctx)
	if err != nil {
		canonlog.ErrorAdd(ctx, fmt.Errorf("read liveness signal: %w", err))
		return Outcome{Action: ActionNone, Reason: ReasonError}
	}
	if !found {
		return m.stop(ctx, ReasonNoActivityRecorded)
	}

	idle := now.Sub(last)
	canonlog.InfoAdd(ctx, "idle_s", int64(idle.Seconds()))

	if idle > m.config.IdleTimeout {
		return m.stop(ctx, ReasonIdleTimeout)
	}

	return Outcome{Action: ActionNone, Reason: ReasonActive}
}

// stop issues the stop command. The command is idempotent at the provider,
// so a concurrent or repeated stop is harmless. A transient failure is not
// retried here; the next scheduled run picks it up.
func (m *Monitor) stop(ctx context.Context, reason Reason) Outcome {
	if err := m.manager.Stop(ctx); err != nil {
		canonlog.ErrorAdd(ctx, fmt.Errorf("stop instance (%s): %w", reason, err))
		return Outcome{Action: ActionNone, Reason: ReasonError}
	}
	return Outcome{Action: ActionStopped, Reason: reason}
}

// Run evaluates on the given interval until ctx is cancelled. The interval
// should be at most the idle timeout so idleness is detected promptly.
// One evaluation runs immediately on start.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.EvaluateAndAct(ctx)

	for {
		select {
		case <-ticker.C:
			m.EvaluateAndAct(ctx)
		case <-ctx.Done():
			return
		}
	}
}
