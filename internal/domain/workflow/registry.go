// Package workflow implements the token-driven state machine that
// advances Tasks through a fixed sequence of states by running a
// registered effect per transition (spec §4.7, §9's replacement for
// "anonymous lambdas closing over mutable outer state": a registry
// data structure mapping (state, transition) -> effect, each effect an
// explicit value, with the state machine holding only the token and
// the registry).
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/cklxx/taskwarden/internal/domain/task"
)

// ErrNoTransition is returned when a state's Decide function declines
// to choose a transition. It fails only the current tick; the loop
// backs off and retries (it is never one of the two DB-fatal codes).
var ErrNoTransition = errors.New("workflow: no transition chosen for current state")

// Decider is the pure function mapping (state, task set, token) to a
// transition name. It must be deterministic for a given input.
type Decider func(tasks []*task.Task, tok *Token) (TransitionName, bool)

// Effect is the action bound to a transition. It reports whether the
// token should advance to the transition's destination state: a false
// return with a nil error means the effect's failure was swallowed
// (e.g. an agent turn timeout) and the same state should be retried
// next tick; a non-nil error propagates to the loop for its normal
// fatal/backoff handling.
type Effect interface {
	Run(ctx context.Context, tok *Token) (advance bool, err error)
}

// EffectFunc adapts a function to Effect.
type EffectFunc func(ctx context.Context, tok *Token) (bool, error)

func (f EffectFunc) Run(ctx context.Context, tok *Token) (bool, error) { return f(ctx, tok) }

// Transition is one outbound edge of a State.
type Transition struct {
	Name   TransitionName
	To     StateName
	Effect Effect
}

// State is a registered node: its Decide function chooses among its
// outbound Transitions.
type State struct {
	Name        StateName
	Decide      Decider
	Transitions map[TransitionName]*Transition
}

// NewState returns a State with no transitions yet registered.
func NewState(name StateName, decide Decider) *State {
	return &State{Name: name, Decide: decide, Transitions: make(map[TransitionName]*Transition)}
}

// AddTransition registers a transition on s and returns s for chaining.
func (s *State) AddTransition(name TransitionName, to StateName, effect Effect) *State {
	s.Transitions[name] = &Transition{Name: name, To: to, Effect: effect}
	return s
}

// Registry is the full set of registered states, built once at
// startup and never mutated while a Loop runs against it.
type Registry struct {
	states map[StateName]*State
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[StateName]*State)}
}

// Register adds s to the registry.
func (r *Registry) Register(s *State) *Registry {
	r.states[s.Name] = s
	return r
}

// Lookup returns the registered State by name.
func (r *Registry) Lookup(name StateName) (*State, bool) {
	s, ok := r.states[name]
	return s, ok
}

// Tick performs exactly one step of spec §4.7's loop body against tok:
// decide a transition (with the hard-coded tests-completed branch),
// run its effect, and advance the token if the effect says to.
func (r *Registry) Tick(ctx context.Context, tasks []*task.Task, tok *Token) error {
	state, ok := r.states[tok.State()]
	if !ok {
		return fmt.Errorf("workflow: state %q is not registered", tok.State())
	}

	transName, ok := decideTransition(state, tasks, tok)
	if !ok {
		return ErrNoTransition
	}

	transition, ok := state.Transitions[transName]
	if !ok {
		return fmt.Errorf("workflow: state %q has no transition %q", state.Name, transName)
	}

	if transition.Effect == nil {
		tok.SetState(transition.To)
		return nil
	}

	advance, err := transition.Effect.Run(ctx, tok)
	if err != nil {
		return err
	}
	if advance {
		tok.SetState(transition.To)
	}
	return nil
}

func decideTransition(state *State, tasks []*task.Task, tok *Token) (TransitionName, bool) {
	if state.Name == StateTestsCompleted {
		result, _ := tok.LastTestResult()
		if result.Passed {
			return "tests-passing", true
		}
		return "tests-failed", true
	}
	if state.Decide == nil {
		return "", false
	}
	return state.Decide(tasks, tok)
}
