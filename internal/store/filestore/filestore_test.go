package filestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/domain/task"
)

func newTask(id string) *task.Task {
	now := time.Now()
	t := &task.Task{
		ID:        id,
		Title:     "Task " + id,
		CreatedBy: "tester",
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.Normalize()
	return t
}

func TestPutGet_RoundTripsIgnoringActionLogAndTimestamps(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	original := newTask("t1")
	require.NoError(t, s.Put(original))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, original.Title, got.Title)
	assert.Equal(t, original.Status, got.Status)
	assert.Equal(t, original.Priority, got.Priority)
}

func TestGet_NotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("missing")
	require.Error(t, err)
	assert.True(t, task.IsNotFound(err))
}

func TestDelete_SecondDeleteIsNotFoundWithoutMutatingState(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(newTask("t1")))
	require.NoError(t, s.Delete("t1"))

	err = s.Delete("t1")
	require.Error(t, err)
	assert.True(t, task.IsNotFound(err))
	assert.Empty(t, s.Scan())
}

func TestOpen_SecondInstanceOnSameDirectoryFailsLockHeld(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, nil)
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(dir, nil)
	require.Error(t, err)
	var terr *task.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, task.ErrLockHeld, terr.Name)
}

func TestOpen_ReloadsPersistedTasksAfterRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(newTask("t1")))
	require.NoError(t, s.Close())

	s2, err := Open(dir, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
}

func TestOpen_TombstoneSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(newTask("t1")))
	require.NoError(t, s.Delete("t1"))
	require.NoError(t, s.Close())

	s2, err := Open(dir, nil)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Get("t1")
	require.Error(t, err)
	assert.True(t, task.IsNotFound(err))
}

func TestMutate_UpdateStatusTwiceWithSameValueIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(newTask("t1")))

	mutate := func() (*task.Task, error) {
		return s.Mutate("t1", func(t *task.Task) error {
			t.Status = task.StatusInProgress
			return nil
		})
	}

	first, err := mutate()
	require.NoError(t, err)
	second, err := mutate()
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Title, second.Title)
}

func TestPut_NormalizesDuplicateDependencies(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	base := newTask("base")
	require.NoError(t, s.Put(base))

	dependent := newTask("dependent")
	dependent.Dependencies = []string{"base", "base", "base"}
	require.NoError(t, s.Put(dependent))

	got, err := s.Get("dependent")
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, got.Dependencies)
}

func TestScan_ReturnsDefensiveCopies(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(newTask("t1")))
	tasks := s.Scan()
	require.Len(t, tasks, 1)
	tasks[0].Title = "mutated externally"

	fresh, err := s.Get("t1")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated externally", fresh.Title)
}
