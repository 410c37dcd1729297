package generation

import (
	"context"
	"time"
)

// Scheduler suspends between batch calls.
type Scheduler interface {
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SchedulerFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerScheduler struct{}

func (timerScheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WallClock returns a Scheduler backed by real timers.
func WallClock() Scheduler { return timerScheduler{} }
