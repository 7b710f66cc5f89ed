package bootstrap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/shared/config"
)

func TestLockHeld_MatchesTaxonomyError(t *testing.T) {
	wrapped := fmt.Errorf("build environment %q: %w", "default", task.LockHeldError("/tmp/x"))
	assert.True(t, lockHeld(wrapped))
	assert.False(t, lockHeld(fmt.Errorf("build environment %q: %w", "default", task.NotFoundError("task"))))
	assert.False(t, lockHeld(fmt.Errorf("plain error")))
}

func TestDaemon_RunServesHTTPAndStopsOnState(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Environments = []string{"default"}
	cfg.DefaultEnv = "default"
	cfg.SkipTCP = true
	cfg.TestMode = true
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.TelemetryExporter = "none"

	d := New(cfg, nil)

	resultCh := make(chan int, 1)
	go func() {
		code, err := d.Run(context.Background())
		assert.NoError(t, err)
		resultCh <- code
	}()

	require.Eventually(t, func() bool {
		return d.Registry != nil
	}, 2*time.Second, 10*time.Millisecond)

	d.State.Stop()

	select {
	case code := <-resultCh:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("Daemon.Run did not return after State.Stop")
	}
}

func TestDaemon_RunExitsCleanlyOnLockHeld(t *testing.T) {
	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Environments = []string{"default"}
	cfg.DefaultEnv = "default"
	cfg.SkipTCP = true
	cfg.TestMode = true
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.TelemetryExporter = "none"

	holder := New(cfg, nil)
	holderDone := make(chan int, 1)
	go func() {
		code, err := holder.Run(context.Background())
		assert.NoError(t, err)
		holderDone <- code
	}()
	require.Eventually(t, func() bool {
		return holder.Registry != nil
	}, 2*time.Second, 10*time.Millisecond)
	defer func() {
		holder.State.Stop()
		<-holderDone
	}()

	contender := New(cfg, nil)
	code, err := contender.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Nil(t, contender.Registry)
}
