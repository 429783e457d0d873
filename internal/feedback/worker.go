package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// UpdateTimer drains the due model updates on a fixed interval and
// applies performance drift on a slower one.
type UpdateTimer struct {
	learner       *Learner
	logger        *slog.Logger
	drainInterval time.Duration
	driftInterval time.Duration
	stop          chan struct{}
	running       atomic.Bool
}

// NewUpdateTimer creates a worker that drains the update queue every
// drainInterval and drifts model performance every driftInterval.
func NewUpdateTimer(learner *Learner, logger *slog.Logger, drainInterval, driftInterval time.Duration) *UpdateTimer {
	return &UpdateTimer{
		learner:       learner,
		logger:        logger,
		drainInterval: drainInterval,
		driftInterval: driftInterval,
		stop:          make(chan struct{}),
	}
}

// Running reports whether the timer loop is active.
func (t *UpdateTimer) Running() bool {
	return t.running.Load()
}

// Start runs the drain and drift loops until the context is canceled or
// Stop is called.
func (t *UpdateTimer) Start(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	defer t.running.Store(false)

	drain := time.NewTicker(t.drainInterval)
	defer drain.Stop()
	drift := time.NewTicker(t.driftInterval)
	defer drift.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-drain.C:
			t.safeDoWork(ctx, t.drain)
		case <-drift.C:
			t.safeDoWork(ctx, t.drift)
		}
	}
}

// Stop signals the timer to stop.
func (t *UpdateTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *UpdateTimer) safeDoWork(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in update worker", "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx)
}

func (t *UpdateTimer) drain(ctx context.Context) {
	if n := t.learner.ProcessDueUpdates(ctx, time.Now()); n > 0 {
		t.logger.Info("model updates applied", "count", n)
	}
}

func (t *UpdateTimer) drift(_ context.Context) {
	t.learner.ApplyDrift(time.Now())
}
