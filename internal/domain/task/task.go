// Package task defines the Task entity and the error taxonomy shared
// by the store, dependency engine, and every transport that surfaces
// task operations.
package task

import (
	"sort"
	"time"
)

// Status is one of the four lifecycle states a Task can occupy.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusInvalid    Status = "invalid"
)

// Priority orders tasks for scheduling purposes; High sorts first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns the tie-break ordinal for p; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1 // legacy/unspecified normalizes to medium, see DESIGN.md
	}
}

// Kind classifies the nature of the work a task represents.
type Kind string

const (
	KindFeature        Kind = "feature"
	KindStory          Kind = "story"
	KindTask           Kind = "task"
	KindImplementation Kind = "implementation"
	KindIntegration    Kind = "integration"
	KindTesting        Kind = "testing"
	KindResearch       Kind = "research"
)

// ActionLogEntry records one mutation applied to a Task.
type ActionLogEntry struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Details   string    `json:"details,omitempty"`
}

// Task is the core persistent entity owned by the Store.
type Task struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Status       Status   `json:"status"`
	Priority     Priority `json:"priority"`
	Type         Kind     `json:"type"`
	Dependencies []string `json:"dependencies"`

	CreatedBy     string   `json:"createdBy"`
	AssignedTo    string   `json:"assignedTo,omitempty"`
	Collaborators []string `json:"collaborators"`
	Watchers      []string `json:"watchers"`

	// Estimate is the expected duration of the work; zero means "unit
	// weight" for critical-path purposes.
	Estimate time.Duration `json:"estimate,omitempty"`

	// TokenBudget/TokensUsed are optional LLM token-usage observability
	// counters carried on the record; nothing in the daemon sets them.
	// Purely informational; never read by the workflow decider.
	TokenBudget int `json:"tokenBudget,omitempty"`
	TokensUsed  int `json:"tokensUsed,omitempty"`

	ActionLog []ActionLogEntry `json:"actionLog"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Normalize fills legacy-record defaults for fields that may be absent
// from a record written by an older schema version. It never rejects
// a record; absent fields get their default.
func (t *Task) Normalize() {
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Type == "" {
		t.Type = KindTask
	}
	if t.Collaborators == nil {
		t.Collaborators = []string{}
	}
	if t.Watchers == nil {
		t.Watchers = []string{}
	}
	if t.ActionLog == nil {
		t.ActionLog = []ActionLogEntry{}
	}
	if t.CreatedBy == "" {
		t.CreatedBy = "system"
	}
	t.Dependencies = dedupeSorted(t.Dependencies)
	t.Collaborators = dedupeSorted(t.Collaborators)
	t.Watchers = dedupeSorted(t.Watchers)
}

// Clone returns a defensive deep-enough copy: slices are copied so the
// caller cannot mutate the store's internal state through the result.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Collaborators = append([]string(nil), t.Collaborators...)
	c.Watchers = append([]string(nil), t.Watchers...)
	c.ActionLog = append([]ActionLogEntry(nil), t.ActionLog...)
	return &c
}

// AppendAction appends an action-log entry and refreshes UpdatedAt.
func (t *Task) AppendAction(action, userID, details string) {
	t.ActionLog = append(t.ActionLog, ActionLogEntry{
		Action:    action,
		Timestamp: time.Now(),
		UserID:    userID,
		Details:   details,
	})
	t.UpdatedAt = time.Now()
}

// dedupeSorted collapses duplicates and sorts for deterministic output;
// the field is specified as an unordered set, so a stable sorted
// representation makes it trivially idempotent to re-normalize.
func dedupeSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
