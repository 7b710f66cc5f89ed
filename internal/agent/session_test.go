package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAcquire_ReusesSessionForSameProfile(t *testing.T) {
	m := NewManager(Config{Transport: TransportStub}, nil)
	s1, err := m.Acquire("planner")
	require.NoError(t, err)
	s2, err := m.Acquire("planner")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestManagerAcquire_SwapsSessionOnProfileChange(t *testing.T) {
	m := NewManager(Config{Transport: TransportStub}, nil)
	s1, err := m.Acquire("planner")
	require.NoError(t, err)
	s2, err := m.Acquire("engineer")
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, "engineer", s2.Profile())
}

func TestSendTurnWithTimeout_StubRepliesImmediately(t *testing.T) {
	m := NewManager(Config{Transport: TransportStub}, nil)
	res, err := m.SendTurnWithTimeout(context.Background(), "planner", "do the thing", time.Second)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Output, "do the thing")
}
