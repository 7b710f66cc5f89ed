package dependency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/domain/task"
)

func mkTask(id string, priority task.Priority, createdAt time.Time, deps ...string) *task.Task {
	return &task.Task{
		ID:           id,
		Title:        id,
		Status:       task.StatusTodo,
		Priority:     priority,
		Type:         task.KindTask,
		Dependencies: deps,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestDetectCycle_NoCycleOnValidChain(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base)
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")

	assert.Nil(t, DetectCycle([]*task.Task{t1, t2}))
}

func TestDetectCycle_FindsDirectCycle(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base, "t2")
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")

	cyc := DetectCycle([]*task.Task{t1, t2})
	require.NotNil(t, cyc)
}

func TestWouldFormCycle_RejectsIntroducedCycle(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base)
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")
	existing := []*task.Task{t1, t2}

	candidate := mkTask("t1", task.PriorityHigh, base, "t2")
	assert.True(t, WouldFormCycle(existing, candidate))
}

func TestValidate_ReportsMissingDependencyAndSelfDependency(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base, "t1", "ghost")

	result := Validate([]*task.Task{t1})
	assert.False(t, result.Valid)

	kinds := map[string]bool{}
	for _, f := range result.Errors {
		kinds[f.Kind] = true
	}
	assert.True(t, kinds["self-dependency"])
	assert.True(t, kinds["missing-dependency"])
}

func TestValidate_WarnsOnDependencyOnCompletedTask(t *testing.T) {
	base := time.Now()
	done := mkTask("done", task.PriorityMedium, base)
	done.Status = task.StatusDone
	dependent := mkTask("dependent", task.PriorityMedium, base.Add(time.Second), "done")

	result := Validate([]*task.Task{done, dependent})
	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "dependency-on-completed-task", result.Warnings[0].Kind)
}

func TestValidate_WarnsOnDeepDependencyChain(t *testing.T) {
	base := time.Now()
	var tasks []*task.Task
	prev := ""
	for i := 0; i < 12; i++ {
		id := string(rune('a' + i))
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		tasks = append(tasks, mkTask(id, task.PriorityMedium, base.Add(time.Duration(i)*time.Second), deps...))
		prev = id
	}

	result := Validate(tasks)
	assert.True(t, result.Valid)

	found := false
	for _, w := range result.Warnings {
		if w.Kind == "dependency-depth" {
			found = true
		}
	}
	assert.True(t, found, "expected a dependency-depth warning for a chain deeper than 10")
}

func TestTopoSort_OrdersByDependencyThenPriority(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base)
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")

	order, err := TopoSort([]*task.Task{t2, t1})
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, "t1", order[0].ID)
	assert.Equal(t, "t2", order[1].ID)
}

func TestTopoSort_TieBreaksByPriorityThenCreatedAtThenID(t *testing.T) {
	base := time.Now()
	a := mkTask("b", task.PriorityMedium, base)
	b := mkTask("a", task.PriorityHigh, base)
	c := mkTask("c", task.PriorityHigh, base.Add(time.Second))

	order, err := TopoSort([]*task.Task{a, b, c})
	require.NoError(t, err)
	// b is lower priority, so it sorts last despite its id; a sorts
	// before c by CreatedAt within the same priority band.
	assert.Equal(t, []string{"a", "c", "b"}, []string{order[0].ID, order[1].ID, order[2].ID})
}

func TestTopoSort_CyclicInputReturnsErrCycleDetected(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base, "t2")
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")

	_, err := TopoSort([]*task.Task{t1, t2})
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestTopoSort_StableOnEqualPriorityAndCreatedAt(t *testing.T) {
	same := time.Now()
	a := mkTask("a", task.PriorityMedium, same)
	b := mkTask("b", task.PriorityMedium, same)
	c := mkTask("c", task.PriorityMedium, same)

	order, err := TopoSort([]*task.Task{c, a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, []string{order[0].ID, order[1].ID, order[2].ID})
}

func TestImpact_ComputesForwardAndReverseClosure(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base)
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")
	t3 := mkTask("t3", task.PriorityMedium, base.Add(2*time.Second), "t2")

	impact := Impact([]*task.Task{t1, t2, t3}, "t1")
	assert.ElementsMatch(t, []string{"t2", "t3"}, impact.Blocks)
	assert.Empty(t, impact.DependsOn)

	impact3 := Impact([]*task.Task{t1, t2, t3}, "t3")
	assert.Empty(t, impact3.Blocks)
	assert.ElementsMatch(t, []string{"t1", "t2"}, impact3.DependsOn)
}

func TestCriticalPath_WeightsByEstimate(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base)
	t1.Estimate = 2 * time.Hour
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")
	t2.Estimate = 3 * time.Hour

	result := CriticalPath([]*task.Task{t1, t2})
	assert.Equal(t, []string{"t1", "t2"}, result.Path)
	assert.Equal(t, 5*time.Hour, result.Duration)
}

func TestCriticalPath_EmptyOnCycle(t *testing.T) {
	base := time.Now()
	t1 := mkTask("t1", task.PriorityHigh, base, "t2")
	t2 := mkTask("t2", task.PriorityMedium, base.Add(time.Second), "t1")

	result := CriticalPath([]*task.Task{t1, t2})
	assert.Nil(t, result.Path)
}
