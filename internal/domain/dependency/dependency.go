// Package dependency implements pure functions over a Task set: cycle
// detection, dependency validation, priority-aware topological sort,
// critical-path/bottleneck analysis, and impact analysis. Nothing in
// this package touches the Store or any transport; every function
// takes a task.Task slice and returns a value.
package dependency

import (
	"sort"

	"github.com/cklxx/taskwarden/internal/domain/task"
)

// ErrCycleDetected is returned by functions that refuse to operate on a
// cyclic graph.
var ErrCycleDetected = task.NewError("CycleDetected", "dependency graph contains a cycle")

// byID indexes a task set for O(1) lookups keyed by id.
func byID(tasks []*task.Task) map[string]*task.Task {
	m := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

// DetectCycle performs a depth-first traversal with a "visiting" set
// over the proposed task set and returns the first cycle found as a
// sequence of task ids, or nil if the graph is acyclic.
func DetectCycle(tasks []*task.Task) []string {
	index := byID(tasks)
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		switch state[id] {
		case done:
			return nil
		case visiting:
			// Found a back-edge; return the cycle starting at id.
			cut := 0
			for i, p := range path {
				if p == id {
					cut = i
					break
				}
			}
			cycle := append([]string(nil), path[cut:]...)
			return append(cycle, id)
		}
		state[id] = visiting
		path = append(path, id)
		t, ok := index[id]
		if ok {
			for _, dep := range t.Dependencies {
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids) // deterministic scan order

	for _, id := range ids {
		if state[id] == unvisited {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// WouldFormCycle reports whether applying candidate (a task whose
// Dependencies reflect the proposed write) to the existing task set
// would introduce a cycle. existing must not itself contain candidate;
// callers pass the pre-write set plus the would-be-written task.
func WouldFormCycle(existing []*task.Task, candidate *task.Task) bool {
	merged := make([]*task.Task, 0, len(existing)+1)
	replaced := false
	for _, t := range existing {
		if t.ID == candidate.ID {
			merged = append(merged, candidate)
			replaced = true
			continue
		}
		merged = append(merged, t)
	}
	if !replaced {
		merged = append(merged, candidate)
	}
	return DetectCycle(merged) != nil
}

// Severity distinguishes validator findings that block a write from
// ones that are merely advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one entry in a Validation result.
type Finding struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	TaskID   string   `json:"taskId"`
	Message  string   `json:"message"`
}

// ValidationResult is the { valid, errors[], warnings[] } shape spec.md
// §4.2 requires.
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

const maxHealthyDependencyDepth = 10

// Validate inspects the full task set and reports every error and
// warning finding spec.md §4.2 enumerates: cycles, missing
// dependencies, self-dependencies, dependencies on completed tasks,
// and dependency chains deeper than ten.
func Validate(tasks []*task.Task) ValidationResult {
	result := ValidationResult{Valid: true}
	index := byID(tasks)

	if cyc := DetectCycle(tasks); cyc != nil {
		titles := make([]string, 0, len(cyc))
		for _, id := range cyc {
			if t, ok := index[id]; ok {
				titles = append(titles, t.Title)
			} else {
				titles = append(titles, id)
			}
		}
		result.Errors = append(result.Errors, Finding{
			Severity: SeverityError,
			Kind:     "cycle",
			Message:  "dependency cycle: " + joinArrow(titles),
		})
		result.Valid = false
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				result.Errors = append(result.Errors, Finding{
					Severity: SeverityError,
					Kind:     "self-dependency",
					TaskID:   t.ID,
					Message:  "task " + t.ID + " depends on itself",
				})
				result.Valid = false
				continue
			}
			depTask, ok := index[dep]
			if !ok {
				result.Errors = append(result.Errors, Finding{
					Severity: SeverityError,
					Kind:     "missing-dependency",
					TaskID:   t.ID,
					Message:  "task " + t.ID + " depends on missing task " + dep,
				})
				result.Valid = false
				continue
			}
			if depTask.Status == task.StatusDone {
				result.Warnings = append(result.Warnings, Finding{
					Severity: SeverityWarning,
					Kind:     "dependency-on-completed-task",
					TaskID:   t.ID,
					Message:  "task " + t.ID + " depends on already-completed task " + dep,
				})
			}
		}
		if depth := chainDepth(t.ID, index, make(map[string]struct{})); depth > maxHealthyDependencyDepth {
			result.Warnings = append(result.Warnings, Finding{
				Severity: SeverityWarning,
				Kind:     "dependency-depth",
				TaskID:   t.ID,
				Message:  "task " + t.ID + " has a dependency chain deeper than 10",
			})
		}
	}

	return result
}

func chainDepth(id string, index map[string]*task.Task, visiting map[string]struct{}) int {
	if _, cyclic := visiting[id]; cyclic {
		return 0
	}
	t, ok := index[id]
	if !ok || len(t.Dependencies) == 0 {
		return 0
	}
	visiting[id] = struct{}{}
	defer delete(visiting, id)

	max := 0
	for _, dep := range t.Dependencies {
		if d := chainDepth(dep, index, visiting); d+1 > max {
			max = d + 1
		}
	}
	return max
}

func joinArrow(titles []string) string {
	out := ""
	for i, t := range titles {
		if i > 0 {
			out += " -> "
		}
		out += t
	}
	return out
}

// TopoSort returns tasks in topological order using Kahn's algorithm.
// Among nodes with zero remaining in-degree, ties are broken by
// priority (high > medium > low) then by CreatedAt ascending then by
// id ascending, so the result is fully deterministic for any input.
// Returns ErrCycleDetected on a cyclic input; callers should fall back
// to a priority-only sort in that case.
func TopoSort(tasks []*task.Task) ([]*task.Task, error) {
	index := byID(tasks)
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
		for _, dep := range t.Dependencies {
			if _, ok := index[dep]; !ok {
				continue // missing dependency; validation reports this separately
			}
			inDegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	ready := make([]*task.Task, 0)
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			ready = append(ready, t)
		}
	}

	ordered := make([]*task.Task, 0, len(tasks))
	for len(ready) > 0 {
		sortReady(ready)
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for _, depID := range dependents[next.ID] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				ready = append(ready, index[depID])
			}
		}
	}

	if len(ordered) != len(tasks) {
		return nil, ErrCycleDetected
	}
	return ordered, nil
}

// sortReady orders the zero-in-degree frontier by the tie-break rule:
// priority rank ascending (high first), then CreatedAt ascending, then
// id ascending.
func sortReady(ready []*task.Task) {
	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// PriorityOnlySort is the fallback ordering used when TopoSort reports
// a cycle: sorted purely by priority then CreatedAt then id, ignoring
// dependency edges entirely.
func PriorityOnlySort(tasks []*task.Task) []*task.Task {
	out := append([]*task.Task(nil), tasks...)
	sortReady(out)
	return out
}
