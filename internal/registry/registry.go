// Package registry builds and resolves the per-environment Services
// tuple: {Store, Audit Log, Broadcaster, Event Bus, Scheduler,
// Monitor}. Built once at startup from config and treated as read-only
// thereafter, per spec.md §4.6 and §5's "effectively immutable after"
// shared-resource policy.
package registry

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cklxx/taskwarden/internal/domain/audit"
	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/events/bus"
	"github.com/cklxx/taskwarden/internal/events/ws"
	"github.com/cklxx/taskwarden/internal/scheduler"
	"github.com/cklxx/taskwarden/internal/shared/async"
	"github.com/cklxx/taskwarden/internal/shared/config"
	"github.com/cklxx/taskwarden/internal/shared/idgen"
	"github.com/cklxx/taskwarden/internal/shared/logging"
	"github.com/cklxx/taskwarden/internal/store/filestore"
)

// Monitor tracks monitoring sessions: server-side subscription state
// recording which task ids a given client cares about, per the
// GLOSSARY's "Monitoring session" entry.
type Monitor struct {
	mu       sync.Mutex
	sessions map[string]*MonitorSession
}

// MonitorSession is one client's subscription to a set of task ids.
type MonitorSession struct {
	ID      string
	TaskIDs map[string]struct{}
}

// NewMonitor constructs an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{sessions: make(map[string]*MonitorSession)}
}

// Create registers a new monitoring session with no task ids yet.
func (m *Monitor) Create(id string) *MonitorSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &MonitorSession{ID: id, TaskIDs: make(map[string]struct{})}
	m.sessions[id] = s
	return s
}

// Get returns the session with the given id, if any.
func (m *Monitor) Get(id string) (*MonitorSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns every active session id.
func (m *Monitor) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Subscribe adds taskIDs to session id's watch set.
func (m *Monitor) Subscribe(id string, taskIDs ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	for _, t := range taskIDs {
		s.TaskIDs[t] = struct{}{}
	}
	return true
}

// Close removes session id.
func (m *Monitor) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Services is the isolated per-environment tuple spec.md §3/§4.6
// describes.
type Services struct {
	Name        string
	Store       *filestore.Store
	Audit       *audit.Log
	Broadcaster *ws.Broadcaster
	Bus         *bus.Bus
	Monitor     *Monitor
	Scheduler   *scheduler.Scheduler

	logger logging.Logger
}

// Logger returns this environment's component logger.
func (s *Services) Logger() logging.Logger { return s.logger }

// Registry holds every configured environment's Services, built once
// at startup, plus the resolved default environment name.
type Registry struct {
	byName  map[string]*Services
	names   []string
	defName string
}

// Build opens a Services tuple for every environment named in cfg and
// returns the assembled Registry. If any environment's Store reports
// LockHeld, Build returns that error immediately (per spec.md §4.6,
// the daemon should then log a warning and exit 0 — that decision is
// made by the caller, not here, since Build has no way to print or
// exit cleanly on its own).
func Build(cfg config.RuntimeConfig, logger logging.Logger) (*Registry, error) {
	logger = logging.OrNop(logger)
	reg := &Registry{byName: make(map[string]*Services), defName: cfg.DefaultEnv}

	for _, name := range cfg.Environments {
		svc, err := buildOne(cfg, name, logger)
		if err != nil {
			reg.CloseAll()
			return nil, fmt.Errorf("build environment %q: %w", name, err)
		}
		reg.byName[name] = svc
		reg.names = append(reg.names, name)
	}
	return reg, nil
}

func buildOne(cfg config.RuntimeConfig, name string, logger logging.Logger) (*Services, error) {
	envDir := filepath.Join(cfg.DataDir, name)
	envLogger := logger.With("env:" + name)

	store, err := filestore.Open(envDir, envLogger)
	if err != nil {
		return nil, err
	}
	auditLog, err := audit.Open(envDir, envLogger)
	if err != nil {
		store.Close()
		return nil, err
	}

	sched := scheduler.New(store, newScheduledTaskFn, envLogger)
	broadcaster := ws.NewBroadcaster(envLogger, cfg.AllowedOrigins)
	eventBus := bus.NewBus(envLogger)

	fanout := eventBus.Subscribe("ws-broadcaster", 256)
	async.Go(envLogger, "ws-fanout", func() {
		for evt := range fanout {
			broadcaster.Broadcast(evt)
		}
	})

	return &Services{
		Name:        name,
		Store:       store,
		Audit:       auditLog,
		Broadcaster: broadcaster,
		Bus:         eventBus,
		Monitor:     NewMonitor(),
		Scheduler:   sched,
		logger:      envLogger,
	}, nil
}

// newScheduledTaskFn materializes the concrete Task a ScheduledTask's
// cron fire creates, assigning a fresh id and normalizing legacy
// fields the same way every other creation path does.
func newScheduledTaskFn(st scheduler.ScheduledTask) *task.Task {
	t := st.Template
	t.ID = idgen.NewTaskID()
	t.Title = st.Name
	t.Priority = st.Priority
	t.Normalize()
	return &t
}

// Resolve returns the Services for name, falling back to the default
// environment when name is empty. Reports ok=false when name is
// non-empty but unknown.
func (r *Registry) Resolve(name string) (*Services, bool) {
	if name == "" {
		name = r.defName
	}
	svc, ok := r.byName[name]
	return svc, ok
}

// Names returns every configured environment name.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Default returns the default environment's Services.
func (r *Registry) Default() (*Services, bool) {
	return r.Resolve("")
}

// SelectWorkflowEnvironments resolves the workflow loop's environment
// subset per spec.md §4.6: an explicit list, an "all" flag, or the
// default environment, in that precedence order.
func (r *Registry) SelectWorkflowEnvironments(cfg config.RuntimeConfig) []string {
	if len(cfg.ProcessEnvs) > 0 {
		return cfg.ProcessEnvs
	}
	if cfg.ProcessAllEnvs {
		return r.Names()
	}
	return []string{r.defName}
}

// CloseAll releases every environment's Store/Audit/Broadcaster
// resources. Used both on graceful shutdown and to unwind a partially
// built Registry when Build fails partway through.
func (r *Registry) CloseAll() {
	for _, svc := range r.byName {
		svc.Scheduler.Stop()
		svc.Broadcaster.Close()
		svc.Audit.Close()
		svc.Store.Close()
	}
}
