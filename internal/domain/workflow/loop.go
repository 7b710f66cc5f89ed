package workflow

import (
	"context"
	"time"

	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// TaskLister is the subset of the Store a Loop needs each tick: a
// full, ordered scan. Declared here (rather than importing filestore)
// so this package stays free of a storage-layer dependency.
type TaskLister interface {
	Scan() []*task.Task
}

// PauseChecker reports whether the workflow loops should stay
// suspended between ticks (spec §4.7's pause flag).
type PauseChecker interface {
	Paused() bool
}

// Loop drives one environment's token through Registry one tick at a
// time, forever, until ctx is canceled. Fatal DB errors (LockHeld,
// DatabaseNotOpen) stop the loop and propagate to the caller so the
// daemon can exit for supervisor restart; every other error backs off
// and retries.
type Loop struct {
	Environment   string
	Registry      *Registry
	Store         TaskLister
	Token         *Token
	Pause         PauseChecker
	Logger        logging.Logger
	TickInterval  time.Duration
	FatalBackoff  time.Duration
	FatalCallback func(err error)
}

// Run blocks until ctx is canceled or a fatal error occurs, in which
// case it returns that error. A canceled ctx returns nil.
func (l *Loop) Run(ctx context.Context) error {
	logger := logging.OrNop(l.Logger).With("env:" + l.Environment)
	tick := l.TickInterval
	if tick <= 0 {
		tick = 2 * time.Second
	}
	backoff := l.FatalBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if l.Pause != nil && l.Pause.Paused() {
			if !sleepOrDone(ctx, tick) {
				return nil
			}
			continue
		}

		tasks := l.Store.Scan()
		err := l.Registry.Tick(ctx, tasks, l.Token)
		if err != nil {
			if task.Fatal(err) {
				logger.Error("fatal store error during tick, stopping loop: %v", err)
				if l.FatalCallback != nil {
					l.FatalCallback(err)
				}
				return err
			}
			logger.Warn("tick error, backing off %s: %v", backoff, err)
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			continue
		}

		if !sleepOrDone(ctx, tick) {
			return nil
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
