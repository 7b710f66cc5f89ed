package workflow

import (
	"sync"
	"time"
)

// StateName identifies a registered workflow state.
type StateName string

// TransitionName identifies a registered transition.
type TransitionName string

// The eight states the workflow engine drives a Task set through.
const (
	StateNewFeatureProposed  StateName = "new-feature-proposed"
	StateFeaturesPrioritized StateName = "features-prioritized"
	StateStoriesCreated      StateName = "stories-created"
	StateStoriesPrioritized  StateName = "stories-prioritized"
	StateTasksPrepared       StateName = "tasks-prepared"
	StateTaskInProgress      StateName = "task-in-progress"
	StateTestsCompleted      StateName = "tests-completed"
	StateTaskCompleted       StateName = "task-completed"
)

// TestResult is the outcome of a LocalTestEffect run, carried in the
// token's context under ContextKeyLastTestResult.
type TestResult struct {
	Passed bool
	Output string
	At     time.Time
}

// ContextKeyLastTestResult is the token.Context key LocalTestEffect
// writes to and the tests-completed branch reads from.
const ContextKeyLastTestResult = "lastTestResult"

// Token is the workflow loop's sole, process-local cursor: current
// state plus open-ended context. Never shared with command handlers
// (spec §3: "sole ownership by the workflow loop").
type Token struct {
	mu      sync.RWMutex
	state   StateName
	context map[string]any
}

// NewToken returns a Token starting in the given state with an empty
// context.
func NewToken(start StateName) *Token {
	return &Token{state: start, context: make(map[string]any)}
}

// State returns the token's current state.
func (t *Token) State() StateName {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState advances the token to a new state.
func (t *Token) SetState(s StateName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Get returns a context value by key.
func (t *Token) Get(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.context[key]
	return v, ok
}

// Set stores a context value by key.
func (t *Token) Set(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.context[key] = value
}

// LastTestResult is a typed accessor over ContextKeyLastTestResult.
func (t *Token) LastTestResult() (TestResult, bool) {
	v, ok := t.Get(ContextKeyLastTestResult)
	if !ok {
		return TestResult{}, false
	}
	tr, ok := v.(TestResult)
	return tr, ok
}

// Snapshot is an immutable view of a Token for status reporting.
type Snapshot struct {
	State   StateName
	Context map[string]any
}

// Snapshot copies the token's current state and context.
func (t *Token) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ctx := make(map[string]any, len(t.context))
	for k, v := range t.context {
		ctx[k] = v
	}
	return Snapshot{State: t.state, Context: ctx}
}
