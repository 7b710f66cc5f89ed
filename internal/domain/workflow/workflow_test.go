package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/agent"
	"github.com/cklxx/taskwarden/internal/domain/task"
)

func TestTick_EmptyStorePicksDeterministicTransition(t *testing.T) {
	mgr := agent.NewManager(agent.Config{Transport: agent.TransportStub}, nil)
	reg := NewDefaultRegistry(mgr, t.TempDir(), nil)
	tok := NewToken(StateNewFeatureProposed)

	err := reg.Tick(context.Background(), nil, tok)
	require.NoError(t, err)
	assert.Equal(t, StateFeaturesPrioritized, tok.State())
}

func TestTick_TaskInProgressDeclinesWithoutAnInProgressTask(t *testing.T) {
	mgr := agent.NewManager(agent.Config{Transport: agent.TransportStub}, nil)
	reg := NewDefaultRegistry(mgr, t.TempDir(), nil)
	tok := NewToken(StateTaskInProgress)

	err := reg.Tick(context.Background(), nil, tok)
	assert.ErrorIs(t, err, ErrNoTransition)
	assert.Equal(t, StateTaskInProgress, tok.State())
}

func TestTick_TestsCompletedBranchesOnLastTestResult(t *testing.T) {
	mgr := agent.NewManager(agent.Config{Transport: agent.TransportStub}, nil)
	reg := NewDefaultRegistry(mgr, t.TempDir(), nil)

	passTok := NewToken(StateTestsCompleted)
	passTok.Set(ContextKeyLastTestResult, TestResult{Passed: true})
	require.NoError(t, reg.Tick(context.Background(), nil, passTok))
	assert.Equal(t, StateTaskCompleted, passTok.State())

	failTok := NewToken(StateTestsCompleted)
	failTok.Set(ContextKeyLastTestResult, TestResult{Passed: false})
	require.NoError(t, reg.Tick(context.Background(), nil, failTok))
	assert.Equal(t, StateTaskInProgress, failTok.State())
}

func TestTick_UnregisteredStateIsAnError(t *testing.T) {
	reg := NewRegistry()
	tok := NewToken("no-such-state")
	err := reg.Tick(context.Background(), nil, tok)
	assert.Error(t, err)
}

type fakeLister struct{ tasks []*task.Task }

func (f fakeLister) Scan() []*task.Task { return f.tasks }

type fakePause struct{ paused bool }

func (f fakePause) Paused() bool { return f.paused }

func TestLoop_StopsOnContextCancel(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewState("solo", always("loop")).AddTransition("loop", "solo", nil))
	tok := NewToken("solo")

	loop := &Loop{
		Registry:     reg,
		Store:        fakeLister{},
		Token:        tok,
		TickInterval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := loop.Run(ctx)
	assert.NoError(t, err)
}

func TestLoop_PausedSkipsTicking(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewState("solo", always("loop")).AddTransition("loop", "other", nil))
	tok := NewToken("solo")

	loop := &Loop{
		Registry:     reg,
		Store:        fakeLister{},
		Token:        tok,
		Pause:        fakePause{paused: true},
		TickInterval: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)
	assert.Equal(t, StateName("solo"), tok.State())
}
