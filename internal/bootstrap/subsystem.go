package bootstrap

import (
	"context"
	"sync"

	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// Subsystem is one independently startable/stoppable background
// component: a listener, a workflow loop, a background timer. Start
// must return once the subsystem is ready to serve (e.g. the listener
// is bound); Stop must be safe to call even if Start failed or was
// never called.
type Subsystem interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// SubsystemManager starts subsystems and stops them in the reverse
// order they were started, so a later subsystem that depends on an
// earlier one (e.g. the HTTP server depends on the registry) never
// outlives its dependency during shutdown.
type SubsystemManager struct {
	logger logging.Logger

	mu      sync.Mutex
	started []Subsystem
	cancel  context.CancelFunc
	stopped bool
}

// NewSubsystemManager returns an empty manager.
func NewSubsystemManager(logger logging.Logger) *SubsystemManager {
	return &SubsystemManager{logger: logging.OrNop(logger).With("bootstrap")}
}

// Start starts sub under a context derived from ctx. If Start fails,
// sub is not tracked and will not be stopped by StopAll.
func (m *SubsystemManager) Start(ctx context.Context, sub Subsystem) error {
	m.mu.Lock()
	if m.cancel == nil {
		ctx, m.cancel = context.WithCancel(ctx)
	}
	runCtx := ctx
	m.mu.Unlock()

	if err := sub.Start(runCtx); err != nil {
		m.logger.Error("subsystem %s failed to start: %v", sub.Name(), err)
		return err
	}

	m.mu.Lock()
	m.started = append(m.started, sub)
	m.mu.Unlock()
	m.logger.Info("subsystem %s started", sub.Name())
	return nil
}

// StopAll cancels the shared context and stops every started
// subsystem in LIFO order. Idempotent.
func (m *SubsystemManager) StopAll() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	toStop := make([]Subsystem, len(m.started))
	copy(toStop, m.started)
	m.mu.Unlock()

	for i := len(toStop) - 1; i >= 0; i-- {
		sub := toStop[i]
		sub.Stop()
		m.logger.Info("subsystem %s stopped", sub.Name())
	}
}
