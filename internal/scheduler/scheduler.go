// Package scheduler implements the `scheduler verbs` of spec.md
// §4.5: cron-triggered scheduled task creation, pause/resume,
// validation, a failure log, and a simple priority-based run-order
// optimization, built on robfig/cron/v3 the way the teacher's own
// proactive-trigger scheduler is.
package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// ConcurrencyPolicy controls what happens when a scheduled task's
// previous run is still in flight when the next fire time arrives.
type ConcurrencyPolicy string

const (
	PolicySkip  ConcurrencyPolicy = "skip"
	PolicyDelay ConcurrencyPolicy = "delay"
)

// ScheduledTask is a cron-triggered template for creating Tasks.
type ScheduledTask struct {
	ID       string
	Name     string
	Cron     string
	Priority task.Priority
	Template task.Task
	Paused   bool
	Policy   ConcurrencyPolicy

	CreatedAt time.Time
	LastRunAt time.Time
	NextRunAt time.Time
}

// FailureRecord captures one failed scheduled-task run.
type FailureRecord struct {
	ScheduledTaskID string
	At              time.Time
	Err             string
}

// TaskCreator is the subset of the Store a Scheduler needs: it only
// ever creates new Tasks from a ScheduledTask's template.
type TaskCreator interface {
	Put(t *task.Task) error
}

// NewTaskFunc builds the concrete *task.Task to persist for one fire
// of a ScheduledTask; callers supply id generation and normalization.
type NewTaskFunc func(st ScheduledTask) *task.Task

// Scheduler manages scheduled-task cron entries for one environment.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	store   TaskCreator
	newTask NewTaskFunc
	logger  logging.Logger

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	tasks    map[string]*ScheduledTask
	failures []FailureRecord
	stopOnce sync.Once
}

// New builds a Scheduler that creates Tasks in store via newTask.
func New(store TaskCreator, newTask NewTaskFunc, logger logging.Logger) *Scheduler {
	logger = logging.OrNop(logger).With("scheduler")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		store:   store,
		newTask: newTask,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		tasks:   make(map[string]*ScheduledTask),
	}
}

// Name identifies this Scheduler as a Subsystem.
func (s *Scheduler) Name() string { return "scheduler" }

// Start begins running the cron loop. Already-registered scheduled
// tasks (added via Create before Start) are scheduled immediately.
func (s *Scheduler) Start() error {
	s.cron.Start()
	s.logger.Info("scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for any in-flight job.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.logger.Info("scheduler stopped")
	})
}

// ValidateCron reports whether expr parses under this Scheduler's
// cron dialect (minute hour dom month dow, no seconds field).
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Create registers a new ScheduledTask and schedules it if unpaused.
func (s *Scheduler) Create(st ScheduledTask) (*ScheduledTask, error) {
	if err := s.ValidateCron(st.Cron); err != nil {
		return nil, err
	}
	if st.ID == "" {
		return nil, fmt.Errorf("scheduled task requires an id")
	}
	st.CreatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[st.ID]; exists {
		return nil, fmt.Errorf("scheduled task %q already exists", st.ID)
	}
	s.tasks[st.ID] = &st
	if !st.Paused {
		if err := s.scheduleLocked(&st); err != nil {
			delete(s.tasks, st.ID)
			return nil, err
		}
	}
	return &st, nil
}

func (s *Scheduler) scheduleLocked(st *ScheduledTask) error {
	wrapper := cron.SkipIfStillRunning(cron.DefaultLogger)
	if st.Policy == PolicyDelay {
		wrapper = cron.DelayIfStillRunning(cron.DefaultLogger)
	}
	job := cron.NewChain(wrapper).Then(cron.FuncJob(func() { s.fire(st.ID) }))

	entryID, err := s.cron.AddJob(st.Cron, job)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", st.ID, err)
	}
	s.entries[st.ID] = entryID
	for _, e := range s.cron.Entries() {
		if e.ID == entryID {
			st.NextRunAt = e.Next
		}
	}
	return nil
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	st, ok := s.tasks[id]
	if !ok || st.Paused {
		s.mu.Unlock()
		return
	}
	newTaskFn := s.newTask
	s.mu.Unlock()

	t := newTaskFn(*st)
	err := s.store.Put(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if st, ok = s.tasks[id]; !ok {
		return
	}
	st.LastRunAt = now
	if err != nil {
		s.failures = append(s.failures, FailureRecord{ScheduledTaskID: id, At: now, Err: err.Error()})
		s.logger.Warn("scheduled task %q failed to create its task: %v", id, err)
	}
}

// Update replaces the cron expression, priority, or pause state of an
// existing scheduled task, re-scheduling if needed.
func (s *Scheduler) Update(id string, mutate func(*ScheduledTask)) (*ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return nil, task.NotFoundError(fmt.Sprintf("scheduled task %q", id))
	}

	wasPaused := st.Paused
	prevCron := st.Cron
	mutate(st)

	if err := s.ValidateCron(st.Cron); err != nil {
		return nil, err
	}

	needsReschedule := st.Cron != prevCron || wasPaused != st.Paused
	if needsReschedule {
		if entryID, scheduled := s.entries[id]; scheduled {
			s.cron.Remove(entryID)
			delete(s.entries, id)
		}
		if !st.Paused {
			if err := s.scheduleLocked(st); err != nil {
				return nil, err
			}
		}
	}
	return st, nil
}

// Delete removes a scheduled task and its cron entry.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return task.NotFoundError(fmt.Sprintf("scheduled task %q", id))
	}
	if entryID, scheduled := s.entries[id]; scheduled {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	delete(s.tasks, id)
	return nil
}

// Pause stops a scheduled task from firing without deleting it.
func (s *Scheduler) Pause(id string) error {
	_, err := s.Update(id, func(st *ScheduledTask) { st.Paused = true })
	return err
}

// Resume reverses Pause.
func (s *Scheduler) Resume(id string) error {
	_, err := s.Update(id, func(st *ScheduledTask) { st.Paused = false })
	return err
}

// Get returns one scheduled task by id.
func (s *Scheduler) Get(id string) (*ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[id]
	return st, ok
}

// List returns every scheduled task, ordered for run-order
// optimization: unpaused before paused, then by priority rank, then
// by next scheduled fire time.
func (s *Scheduler) List() []*ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ScheduledTask, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Paused != out[j].Paused {
			return !out[i].Paused
		}
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].NextRunAt.Before(out[j].NextRunAt)
	})
	return out
}

// FailureLog returns every recorded run failure, newest first.
func (s *Scheduler) FailureLog() []FailureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FailureRecord, len(s.failures))
	copy(out, s.failures)
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

// NormalizePolicy lowercases and defaults an unrecognized concurrency
// policy string to skip, matching the teacher's own defaulting.
func NormalizePolicy(raw string) ConcurrencyPolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PolicyDelay):
		return PolicyDelay
	default:
		return PolicySkip
	}
}
