package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_PauseResumeTogglesFlag(t *testing.T) {
	s := NewState()
	assert.False(t, s.Paused())
	s.Pause()
	assert.True(t, s.Paused())
	s.Resume()
	assert.False(t, s.Paused())
}

func TestState_StopClosesDoneExactlyOnce(t *testing.T) {
	s := NewState()
	assert.False(t, s.Stopped())
	s.Stop()
	s.Stop() // idempotent
	assert.True(t, s.Stopped())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel did not close")
	}
}

func TestState_RestartMarksRestartingAndStops(t *testing.T) {
	s := NewState()
	assert.False(t, s.Restarting())
	s.Restart()
	assert.True(t, s.Restarting())
	assert.True(t, s.Stopped())
}

func TestState_SnapshotReportsPid(t *testing.T) {
	s := NewState()
	snap := s.Snapshot()
	assert.Greater(t, snap.PID, 0)
	assert.False(t, snap.Paused)
}
