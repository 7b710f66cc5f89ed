package dependency

import (
	"sort"
	"time"

	"github.com/cklxx/taskwarden/internal/domain/task"
)

// NodeSchedule is one task's position within the critical-path
// analysis: its earliest/latest start offsets (from the root of its
// chain) and the slack between them.
type NodeSchedule struct {
	TaskID        string        `json:"taskId"`
	Duration      time.Duration `json:"duration"`
	EarliestStart time.Duration `json:"earliestStart"`
	LatestStart   time.Duration `json:"latestStart"`
	Slack         time.Duration `json:"slack"`
	OnCriticalPath bool         `json:"onCriticalPath"`
}

// CriticalPathResult is the longest-path analysis over the dependency
// DAG, weighted by each task's Estimate (unit weight when zero).
type CriticalPathResult struct {
	Path       []string       `json:"path"`
	Duration   time.Duration  `json:"duration"`
	Nodes      []NodeSchedule `json:"nodes"`
	Bottlenecks []string      `json:"bottlenecks"`
}

func weight(t *task.Task) time.Duration {
	if t.Estimate > 0 {
		return t.Estimate
	}
	return time.Duration(1)
}

// CriticalPath computes the longest path from any root (a task with no
// dependencies) to any leaf (a task nothing depends on), by task
// duration, and the per-node slack (latestStart - earliestStart).
// Bottlenecks are nodes with zero slack and more than one direct
// dependent; the path is not recomputed with a node removed, and a
// high out-degree alone does not mark a node.
// Returns a zero-value result with no path on a cyclic input.
func CriticalPath(tasks []*task.Task) CriticalPathResult {
	index := byID(tasks)
	if DetectCycle(tasks) != nil {
		return CriticalPathResult{}
	}

	order, err := TopoSort(tasks)
	if err != nil {
		return CriticalPathResult{}
	}

	earliest := make(map[string]time.Duration, len(tasks))
	predecessor := make(map[string]string, len(tasks))
	for _, t := range order {
		start := time.Duration(0)
		pred := ""
		for _, dep := range t.Dependencies {
			depTask, ok := index[dep]
			if !ok {
				continue
			}
			finish := earliest[dep] + weight(depTask)
			if finish > start {
				start = finish
				pred = dep
			}
		}
		earliest[t.ID] = start
		predecessor[t.ID] = pred
	}

	// Overall duration and the leaf the critical path ends at.
	var duration time.Duration
	var endID string
	for _, t := range order {
		finish := earliest[t.ID] + weight(t)
		if finish > duration {
			duration = finish
			endID = t.ID
		}
	}

	var path []string
	for id := endID; id != ""; id = predecessor[id] {
		path = append([]string{id}, path...)
	}

	// Latest start, computed by walking the reverse topo order: a leaf's
	// latest finish is the overall duration; its latest start is
	// latestFinish - its own weight. A node with multiple dependents
	// takes the minimum latest-start among them, minus its own weight.
	dependents := make(map[string][]string, len(tasks))
	for _, t := range order {
		for _, dep := range t.Dependencies {
			if _, ok := index[dep]; ok {
				dependents[dep] = append(dependents[dep], t.ID)
			}
		}
	}

	latestFinish := make(map[string]time.Duration, len(tasks))
	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]
		children := dependents[t.ID]
		if len(children) == 0 {
			latestFinish[t.ID] = duration
			continue
		}
		min := duration
		for _, child := range children {
			childLatestStart := latestFinish[child] - weight(index[child])
			if childLatestStart < min {
				min = childLatestStart
			}
		}
		latestFinish[t.ID] = min
	}

	onPath := make(map[string]bool, len(path))
	for _, id := range path {
		onPath[id] = true
	}

	nodes := make([]NodeSchedule, 0, len(order))
	var bottlenecks []string
	for _, t := range order {
		latestStart := latestFinish[t.ID] - weight(t)
		slack := latestStart - earliest[t.ID]
		nodes = append(nodes, NodeSchedule{
			TaskID:         t.ID,
			Duration:       weight(t),
			EarliestStart:  earliest[t.ID],
			LatestStart:    latestStart,
			Slack:          slack,
			OnCriticalPath: onPath[t.ID],
		})
		// A bottleneck has zero slack (it's on some critical chain) and
		// more than one task depending directly on it: removing it
		// would force every one of those dependents to re-root, which
		// is the practical notion of "removal shortens the path".
		if slack == 0 && len(dependents[t.ID]) > 1 {
			bottlenecks = append(bottlenecks, t.ID)
		}
	}

	return CriticalPathResult{
		Path:        path,
		Duration:    duration,
		Nodes:       nodes,
		Bottlenecks: bottlenecks,
	}
}

// ImpactAnalysis reports, for a given task id, the forward transitive
// closure (tasks blocked by this one, i.e. whose dependency chain
// reaches it) and the reverse transitive closure (tasks this one
// depends on, directly or indirectly).
type ImpactAnalysis struct {
	TaskID   string   `json:"taskId"`
	Blocks   []string `json:"blocks"`   // forward closure: dependents
	DependsOn []string `json:"dependsOn"` // reverse closure: dependencies
}

// Impact computes the forward and reverse transitive closures for id.
func Impact(tasks []*task.Task, id string) ImpactAnalysis {
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	blocks := closure(id, dependents)
	dependsOn := closure(id, func() map[string][]string {
		m := make(map[string][]string, len(tasks))
		for _, t := range tasks {
			m[t.ID] = append([]string(nil), t.Dependencies...)
		}
		return m
	}())

	sort.Strings(blocks)
	sort.Strings(dependsOn)
	return ImpactAnalysis{TaskID: id, Blocks: blocks, DependsOn: dependsOn}
}

func closure(start string, edges map[string][]string) []string {
	visited := make(map[string]struct{})
	var walk func(string)
	walk = func(id string) {
		for _, next := range edges[id] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			walk(next)
		}
	}
	walk(start)
	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	return out
}
