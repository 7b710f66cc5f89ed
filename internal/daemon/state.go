// Package daemon holds the process-wide control surface shared by the
// TCP daemon-lifecycle commands and the bootstrap orchestration layer
// that starts/stops the actual listeners and workflow loops: a small,
// dependency-free type so neither side needs to import the other.
package daemon

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// State is the daemon-wide control surface shared by command handlers
// (writers) and the workflow loops and status commands (readers): the
// paused flag, restart/stop signaling, and process metadata. Visibility
// is atomic so "setting paused from any handler must be observed by all
// loops within one tick" (per the concurrency model) holds without a
// mutex on the hot path.
type State struct {
	paused    atomic.Bool
	restart   atomic.Bool
	startedAt time.Time
	pid       int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewState returns a fresh, unpaused State stamped with the current
// time and pid.
func NewState() *State {
	return &State{
		startedAt: time.Now(),
		pid:       os.Getpid(),
		stopCh:    make(chan struct{}),
	}
}

// Pause suspends the workflow loops between ticks; in-flight commands
// continue to be served.
func (s *State) Pause() { s.paused.Store(true) }

// Resume lifts the pause.
func (s *State) Resume() { s.paused.Store(false) }

// Paused reports the current pause flag.
func (s *State) Paused() bool { return s.paused.Load() }

// Stop closes the stop channel exactly once, signaling every
// subsystem and workflow loop to unwind.
func (s *State) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Restart marks the pending shutdown as a restart (the process should
// be relaunched after it exits) and stops the daemon the same way Stop
// does. A supervisor process, not this one, performs the relaunch.
func (s *State) Restart() {
	s.restart.Store(true)
	s.Stop()
}

// Restarting reports whether Stop was triggered via Restart.
func (s *State) Restarting() bool { return s.restart.Load() }

// Done returns the channel that closes when Stop is called.
func (s *State) Done() <-chan struct{} { return s.stopCh }

// Stopped reports whether Stop has been called.
func (s *State) Stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Status is the snapshot `get_daemon_status` returns.
type Status struct {
	Paused   bool          `json:"paused"`
	Uptime   time.Duration `json:"uptime"`
	PID      int           `json:"pid"`
	MemAlloc uint64        `json:"memAllocBytes"`
}

// Snapshot returns the current Status, including live memory stats.
func (s *State) Snapshot() Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Status{
		Paused:   s.Paused(),
		Uptime:   time.Since(s.startedAt),
		PID:      s.pid,
		MemAlloc: mem.Alloc,
	}
}
