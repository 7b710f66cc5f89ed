package workflow

import (
	"github.com/cklxx/taskwarden/internal/agent"
	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// always returns a Decider that unconditionally chooses name: most of
// the eight states have exactly one outbound transition, so their
// decider is a deterministic constant rather than a function of the
// task set (spec's S5: the decider still selects a registered
// transition even against an empty Store).
func always(name TransitionName) Decider {
	return func(tasks []*task.Task, tok *Token) (TransitionName, bool) {
		return name, true
	}
}

// anyInProgress reports whether at least one task is in-progress. The
// task-in-progress decider chooses "run-tests" only when it is, and
// otherwise declines (ErrNoTransition) so an idle environment's loop
// backs off rather than spinning test runs against nothing.
func anyInProgress(tasks []*task.Task) bool {
	for _, t := range tasks {
		if t.Status == task.StatusInProgress {
			return true
		}
	}
	return false
}

// NewDefaultRegistry builds the standard eight-state pipeline: propose
// a feature, prioritize, break into stories, prioritize those,
// prepare tasks, work a task, test it, and either commit or loop back
// for a fix, then start over.
func NewDefaultRegistry(mgr *agent.Manager, workDir string, logger logging.Logger) *Registry {
	logger = logging.OrNop(logger).With("workflow")

	turn := func(profile string) *AgentTurnEffect {
		return &AgentTurnEffect{Manager: mgr, Profile: profile, Logger: logger}
	}

	reg := NewRegistry()

	reg.Register(NewState(StateNewFeatureProposed, always("retry-product-research")).
		AddTransition("retry-product-research", StateFeaturesPrioritized, turn("product-research")))

	reg.Register(NewState(StateFeaturesPrioritized, always("create-stories")).
		AddTransition("create-stories", StateStoriesCreated, turn("story-writer")))

	reg.Register(NewState(StateStoriesCreated, always("prioritize-stories")).
		AddTransition("prioritize-stories", StateStoriesPrioritized, turn("planner")))

	reg.Register(NewState(StateStoriesPrioritized, always("prepare-tasks")).
		AddTransition("prepare-tasks", StateTasksPrepared, turn("planner")))

	reg.Register(NewState(StateTasksPrepared, always("start-task")).
		AddTransition("start-task", StateTaskInProgress, turn("engineer")))

	reg.Register(NewState(StateTaskInProgress, func(tasks []*task.Task, tok *Token) (TransitionName, bool) {
		if !anyInProgress(tasks) {
			return "", false
		}
		return "run-tests", true
	}).AddTransition("run-tests", StateTestsCompleted, &LocalTestEffect{
		WorkDir: workDir,
		TestCmd: []string{"go", "test", "./..."},
		Logger:  logger,
	}))

	reg.Register(NewState(StateTestsCompleted, nil). // branch handled by decideTransition directly
								AddTransition("tests-passing", StateTaskCompleted, &LocalCommitEffect{WorkDir: workDir, Logger: logger}).
								AddTransition("tests-failed", StateTaskInProgress, turn("fixer")))

	reg.Register(NewState(StateTaskCompleted, always("cycle-complete")).
		AddTransition("cycle-complete", StateNewFeatureProposed, nil))

	return reg
}
