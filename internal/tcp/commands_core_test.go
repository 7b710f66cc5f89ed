package tcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/domain/audit"
	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/events/bus"
	"github.com/cklxx/taskwarden/internal/registry"
	"github.com/cklxx/taskwarden/internal/shared/config"
)

func testServices(t *testing.T) *registry.Services {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Environments = []string{"default"}
	cfg.DefaultEnv = "default"

	reg, err := registry.Build(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(reg.CloseAll)

	svc, ok := reg.Default()
	require.True(t, ok)
	return svc
}

func testRegistry(t *testing.T) *Registry {
	reg := NewRegistry()
	RegisterCoreCommands(reg)
	return reg
}

func dispatch(t *testing.T, reg *Registry, svc *registry.Services, req *Request) Response {
	t.Helper()
	return reg.Dispatch(req, func(name string) (*registry.Services, bool) { return svc, true })
}

func TestCreateTask_PersistsAndPublishes(t *testing.T) {
	svc := testServices(t)
	reg := testRegistry(t)
	events := svc.Bus.Subscribe("test-observer", 4)

	resp := dispatch(t, reg, svc, &Request{
		Command: "create_task",
		Data:    map[string]any{"title": "write docs", "priority": "high"},
	})
	require.True(t, resp.Success)

	tasks := svc.Store.Scan()
	require.Len(t, tasks, 1)
	assert.Equal(t, "write docs", tasks[0].Title)

	select {
	case ev := <-events:
		assert.Equal(t, bus.TaskCreated, ev.Type)
	default:
		t.Fatal("expected a task_created event on the bus")
	}
}

func TestCreateTask_RejectsMissingDependency(t *testing.T) {
	svc := testServices(t)
	reg := testRegistry(t)

	resp := dispatch(t, reg, svc, &Request{
		Command: "create_task",
		Data:    map[string]any{"title": "b", "dependencies": []any{"does-not-exist"}},
	})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "DependencyMissing", resp.Error.Name)
}

func TestListTasks_ReturnsAllCreated(t *testing.T) {
	svc := testServices(t)
	reg := testRegistry(t)

	dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "a"}})
	dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "b"}})

	resp := dispatch(t, reg, svc, &Request{Command: "list_tasks"})
	require.True(t, resp.Success)
	assert.Len(t, svc.Store.Scan(), 2)
}

func TestGetTask_NotFoundReturnsUniformError(t *testing.T) {
	svc := testServices(t)
	reg := testRegistry(t)

	resp := dispatch(t, reg, svc, &Request{Command: "get_task", Data: map[string]any{"id": "missing"}})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NotFound", resp.Error.Name)
}

func TestUpdateTaskStatus_RecordsOldAndNewStatus(t *testing.T) {
	svc := testServices(t)
	reg := testRegistry(t)

	created := dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "a"}})
	require.True(t, created.Success)
	tasks := svc.Store.Scan()
	require.Len(t, tasks, 1)

	resp := dispatch(t, reg, svc, &Request{
		Command: "update_task_status",
		Data:    map[string]any{"id": tasks[0].ID, "status": "in-progress"},
	})
	require.True(t, resp.Success)

	got, err := svc.Store.Get(tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "in-progress", string(got.Status))

	history, err := svc.Audit.Read(audit.Filter{TaskID: tasks[0].ID, Kind: audit.KindStatusChanged})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "todo", history[0].Payload["oldStatus"])
	assert.Equal(t, "in-progress", history[0].Payload["newStatus"])
}

func TestUpdateTask_RejectsDependencyCycleWithoutPersisting(t *testing.T) {
	svc := testServices(t)
	reg := testRegistry(t)

	t1 := dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "t1"}})
	require.True(t, t1.Success)
	t1ID := t1.Data.(*task.Task).ID

	t2 := dispatch(t, reg, svc, &Request{
		Command: "create_task",
		Data:    map[string]any{"title": "t2", "dependencies": []any{t1ID}},
	})
	require.True(t, t2.Success)
	t2ID := t2.Data.(*task.Task).ID

	before := svc.Store.Scan()

	resp := dispatch(t, reg, svc, &Request{
		Command: "update_task",
		Data:    map[string]any{"id": t1ID, "dependencies": []any{t2ID}},
	})
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CycleWouldForm", resp.Error.Name)

	after := svc.Store.Scan()
	require.Len(t, after, 2)
	assert.Equal(t, before, after)

	got1, err := svc.Store.Get(t1ID)
	require.NoError(t, err)
	assert.Empty(t, got1.Dependencies)

	got2, err := svc.Store.Get(t2ID)
	require.NoError(t, err)
	assert.Equal(t, []string{t1ID}, got2.Dependencies)
}

func TestDeleteTask_RemovesFromStore(t *testing.T) {
	svc := testServices(t)
	reg := testRegistry(t)

	created := dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "a"}})
	require.True(t, created.Success)
	tasks := svc.Store.Scan()
	require.Len(t, tasks, 1)

	resp := dispatch(t, reg, svc, &Request{Command: "delete_task", Data: map[string]any{"id": tasks[0].ID}})
	require.True(t, resp.Success)

	_, err := svc.Store.Get(tasks[0].ID)
	assert.Error(t, err)
}
