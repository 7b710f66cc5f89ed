package tcp

import (
	"time"

	"github.com/cklxx/taskwarden/internal/domain/audit"
	"github.com/cklxx/taskwarden/internal/domain/dependency"
	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/events/bus"
	"github.com/cklxx/taskwarden/internal/registry"
	"github.com/cklxx/taskwarden/internal/shared/idgen"
)

// RegisterCoreCommands wires the Task CRUD verbs of spec.md §4.5 into
// reg: create_task, list_tasks, get_task, update_task_status,
// update_task_priority, update_task, delete_task, get_task_status.
func RegisterCoreCommands(reg *Registry) {
	reg.Register(&Command{Name: "create_task", ParseArgs: parseCreateTaskArgs, Execute: executeCreateTask})
	reg.Register(&Command{Name: "list_tasks", ParseArgs: noArgs, Execute: executeListTasks})
	reg.Register(&Command{Name: "get_task", ParseArgs: parseTaskIDArgs, Execute: executeGetTask})
	reg.Register(&Command{Name: "get_task_status", ParseArgs: parseTaskIDArgs, Execute: executeGetTaskStatus})
	reg.Register(&Command{Name: "update_task_status", ParseArgs: parseUpdateStatusArgs, Execute: executeUpdateTaskStatus})
	reg.Register(&Command{Name: "update_task_priority", ParseArgs: parseUpdatePriorityArgs, Execute: executeUpdateTaskPriority})
	reg.Register(&Command{Name: "update_task", ParseArgs: parseUpdateTaskArgs, Execute: executeUpdateTask})
	reg.Register(&Command{Name: "delete_task", ParseArgs: parseTaskIDArgs, Execute: executeDeleteTask})
}

func noArgs(req *Request) (any, error) { return nil, nil }

type taskIDArgs struct{ ID string }

func parseTaskIDArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	id, err := argString(data, "id")
	if err != nil {
		return nil, err
	}
	return taskIDArgs{ID: id}, nil
}

type createTaskArgs struct {
	Task *task.Task
}

func parseCreateTaskArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	title, err := argString(data, "title")
	if err != nil {
		return nil, err
	}
	priority, err := parsePriority(argStringOptional(data, "priority"))
	if err != nil {
		return nil, err
	}
	kind, err := parseKind(argStringOptional(data, "type"))
	if err != nil {
		return nil, err
	}

	t := &task.Task{
		ID:            idgen.NewTaskID(),
		Title:         title,
		Description:   argStringOptional(data, "description"),
		Status:        task.StatusTodo,
		Priority:      priority,
		Type:          kind,
		Dependencies:  argStringSlice(data, "dependencies"),
		CreatedBy:     argStringOptional(data, "createdBy"),
		AssignedTo:    argStringOptional(data, "assignedTo"),
		Collaborators: argStringSlice(data, "collaborators"),
		Watchers:      argStringSlice(data, "watchers"),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	t.Normalize()
	return createTaskArgs{Task: t}, nil
}

func executeCreateTask(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(createTaskArgs)
	t := args.Task

	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return nil, task.SelfDependencyError(t.ID)
		}
	}
	existing := svc.Store.Scan()
	for _, dep := range t.Dependencies {
		if _, err := findByID(existing, dep); err != nil {
			return nil, task.DependencyMissingError(t.ID, dep)
		}
	}
	if dependency.WouldFormCycle(existing, t) {
		cyc := dependency.DetectCycle(append(existing, t))
		return nil, task.CycleWouldFormError(cyc)
	}

	if err := svc.Store.Put(t); err != nil {
		return nil, err
	}
	if err := svc.Audit.Record(t.ID, audit.KindCreated, "system", map[string]any{"title": t.Title}); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", t.ID, err)
	}
	svc.Bus.Publish(bus.New(bus.TaskCreated, t))
	return t, nil
}

func findByID(tasks []*task.Task, id string) (*task.Task, error) {
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, task.NotFoundError("task " + id)
}

func executeListTasks(svc *registry.Services, _ any) (any, error) {
	tasks := svc.Store.Scan()
	svc.Bus.Publish(bus.New(bus.TasksList, tasks))
	return tasks, nil
}

func executeGetTask(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(taskIDArgs)
	return svc.Store.Get(args.ID)
}

// statusProjection is the thin get_task_status response shape: status
// and priority only, not the full Task.
type statusProjection struct {
	ID       string        `json:"id"`
	Status   task.Status   `json:"status"`
	Priority task.Priority `json:"priority"`
}

func executeGetTaskStatus(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(taskIDArgs)
	t, err := svc.Store.Get(args.ID)
	if err != nil {
		return nil, err
	}
	return statusProjection{ID: t.ID, Status: t.Status, Priority: t.Priority}, nil
}

type updateStatusArgs struct {
	ID     string
	Status task.Status
}

func parseUpdateStatusArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	id, err := argString(data, "id")
	if err != nil {
		return nil, err
	}
	rawStatus, err := argString(data, "status")
	if err != nil {
		return nil, err
	}
	status, err := parseStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	return updateStatusArgs{ID: id, Status: status}, nil
}

func executeUpdateTaskStatus(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(updateStatusArgs)
	var oldStatus task.Status

	updated, err := svc.Store.Mutate(args.ID, func(t *task.Task) error {
		oldStatus = t.Status
		t.Status = args.Status
		t.AppendAction("status_changed", "system", string(args.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := svc.Audit.Record(args.ID, audit.KindStatusChanged, "system", map[string]any{
		"oldStatus": oldStatus, "newStatus": args.Status,
	}); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", args.ID, err)
	}
	svc.Bus.Publish(bus.New(bus.TaskStatusChanged, map[string]any{
		"task": updated, "oldStatus": oldStatus, "newStatus": args.Status,
	}))
	svc.Bus.Publish(bus.New(bus.TaskStatusNotification, map[string]any{
		"taskId": args.ID, "status": args.Status,
	}))
	return updated, nil
}

type updatePriorityArgs struct {
	ID       string
	Priority task.Priority
}

func parseUpdatePriorityArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	id, err := argString(data, "id")
	if err != nil {
		return nil, err
	}
	rawPriority, err := argString(data, "priority")
	if err != nil {
		return nil, err
	}
	priority, err := parsePriority(rawPriority)
	if err != nil {
		return nil, err
	}
	return updatePriorityArgs{ID: id, Priority: priority}, nil
}

func executeUpdateTaskPriority(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(updatePriorityArgs)
	var oldPriority task.Priority

	updated, err := svc.Store.Mutate(args.ID, func(t *task.Task) error {
		oldPriority = t.Priority
		t.Priority = args.Priority
		t.AppendAction("priority_changed", "system", string(args.Priority))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := svc.Audit.Record(args.ID, audit.KindPriorityChanged, "system", map[string]any{
		"oldPriority": oldPriority, "newPriority": args.Priority,
	}); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", args.ID, err)
	}
	svc.Bus.Publish(bus.New(bus.TaskPriorityChanged, map[string]any{
		"task": updated, "oldPriority": oldPriority, "newPriority": args.Priority,
	}))
	return updated, nil
}

type updateTaskArgs struct {
	ID   string
	Data map[string]any
}

func parseUpdateTaskArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	id, err := argString(data, "id")
	if err != nil {
		return nil, err
	}
	return updateTaskArgs{ID: id, Data: data}, nil
}

// applyTaskFields merges the named fields from data onto t in place,
// returning the subset that actually changed.
func applyTaskFields(t *task.Task, data map[string]any) map[string]any {
	changed := make(map[string]any)
	if v, ok := data["title"].(string); ok && v != "" && v != t.Title {
		changed["title"] = v
		t.Title = v
	}
	if v, ok := data["description"].(string); ok && v != t.Description {
		changed["description"] = v
		t.Description = v
	}
	if v, ok := data["assignedTo"].(string); ok && v != t.AssignedTo {
		changed["assignedTo"] = v
		t.AssignedTo = v
	}
	if raw := argStringSlice(data, "collaborators"); raw != nil {
		changed["collaborators"] = raw
		t.Collaborators = raw
	}
	if raw := argStringSlice(data, "watchers"); raw != nil {
		changed["watchers"] = raw
		t.Watchers = raw
	}
	if raw := argStringSlice(data, "dependencies"); raw != nil {
		changed["dependencies"] = raw
		t.Dependencies = raw
	}
	return changed
}

// executeUpdateTask applies a partial merge over the named fields,
// recording one `updated` audit entry per changed field. It publishes
// one TaskUpdated event carrying every changed field, plus TaskAssigned,
// TaskCollaboratorsUpdated or TaskWatchersUpdated when those fields
// change; title, description and dependency changes have no event of
// their own. A dependency
// cycle is checked against the candidate task before the merge ever
// reaches Store.Mutate, so a rejected write never touches persistence
// (invariant (1): acyclic at all times).
func executeUpdateTask(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(updateTaskArgs)

	existing, err := svc.Store.Get(args.ID)
	if err != nil {
		return nil, err
	}

	candidate := existing.Clone()
	changed := applyTaskFields(candidate, args.Data)

	if _, depsChanged := changed["dependencies"]; depsChanged {
		others := filterOut(svc.Store.Scan(), candidate.ID)
		if dependency.WouldFormCycle(others, candidate) {
			cyc := dependency.DetectCycle(append(others, candidate))
			return nil, task.CycleWouldFormError(cyc)
		}
	}

	updated, err := svc.Store.Mutate(args.ID, func(t *task.Task) error {
		applyTaskFields(t, args.Data)
		if len(changed) > 0 {
			t.AppendAction("updated", "system", "")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for field, value := range changed {
		if auditErr := svc.Audit.Record(args.ID, audit.KindUpdated, "system", map[string]any{"field": field, "value": value}); auditErr != nil {
			svc.Logger().Warn("audit record failed for task %s field %s: %v", args.ID, field, auditErr)
		}
	}
	svc.Bus.Publish(bus.New(bus.TaskUpdated, map[string]any{"task": updated, "changed": changed}))
	if _, ok := changed["assignedTo"]; ok {
		svc.Bus.Publish(bus.New(bus.TaskAssigned, map[string]any{"task": updated}))
	}
	if _, ok := changed["collaborators"]; ok {
		svc.Bus.Publish(bus.New(bus.TaskCollaboratorsUpdated, map[string]any{"task": updated}))
	}
	if _, ok := changed["watchers"]; ok {
		svc.Bus.Publish(bus.New(bus.TaskWatchersUpdated, map[string]any{"task": updated}))
	}
	return updated, nil
}

func filterOut(tasks []*task.Task, id string) []*task.Task {
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func executeDeleteTask(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(taskIDArgs)

	if err := svc.Audit.Record(args.ID, audit.KindDeleted, "system", nil); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", args.ID, err)
	}
	if err := svc.Store.Delete(args.ID); err != nil {
		return nil, err
	}
	svc.Bus.Publish(bus.New(bus.TaskDeleted, map[string]any{"id": args.ID}))
	return map[string]any{"id": args.ID, "deleted": true}, nil
}
