package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cklxx/taskwarden/internal/domain/audit"
	"github.com/cklxx/taskwarden/internal/domain/dependency"
	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/events/bus"
	"github.com/cklxx/taskwarden/internal/shared/idgen"
)

func registerTaskRoutes(g *gin.RouterGroup) {
	g.GET("/tasks", handleListTasks)
	g.POST("/tasks", handleCreateTask)
	g.GET("/tasks/:id", handleGetTask)
	g.PATCH("/tasks/:id", handleUpdateTask)
	g.PATCH("/tasks/:id/status", handleUpdateTaskStatus)
	g.PATCH("/tasks/:id/priority", handleUpdateTaskPriority)
	g.PATCH("/tasks/:id/assignment", handleUpdateTaskAssignment)
	g.DELETE("/tasks/:id", handleDeleteTask)
}

func respondError(c *gin.Context, err error) {
	if terr, ok := err.(*task.Error); ok {
		status := http.StatusBadRequest
		switch terr.Name {
		case task.ErrNotFound:
			status = http.StatusNotFound
		case task.ErrCycleWouldForm, task.ErrDependencyMissing, task.ErrSelfDependency, task.ErrValidation:
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": terr.Message, "name": terr.Name})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func handleListTasks(c *gin.Context) {
	svc := servicesFrom(c)
	c.JSON(http.StatusOK, svc.Store.Scan())
}

type createTaskRequest struct {
	Title         string   `json:"title" binding:"required"`
	Description   string   `json:"description"`
	Priority      string   `json:"priority"`
	Type          string   `json:"type"`
	Dependencies  []string `json:"dependencies"`
	CreatedBy     string   `json:"createdBy"`
	AssignedTo    string   `json:"assignedTo"`
	Collaborators []string `json:"collaborators"`
	Watchers      []string `json:"watchers"`
}

func handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc := servicesFrom(c)

	priority := task.Priority(req.Priority)
	if priority == "" {
		priority = task.PriorityMedium
	}
	kind := task.Kind(req.Type)
	if kind == "" {
		kind = task.KindTask
	}

	t := &task.Task{
		ID:            idgen.NewTaskID(),
		Title:         req.Title,
		Description:   req.Description,
		Status:        task.StatusTodo,
		Priority:      priority,
		Type:          kind,
		Dependencies:  req.Dependencies,
		CreatedBy:     req.CreatedBy,
		AssignedTo:    req.AssignedTo,
		Collaborators: req.Collaborators,
		Watchers:      req.Watchers,
	}
	t.Normalize()

	existing := svc.Store.Scan()
	for _, dep := range t.Dependencies {
		found := false
		for _, e := range existing {
			if e.ID == dep {
				found = true
				break
			}
		}
		if !found {
			respondError(c, task.DependencyMissingError(t.ID, dep))
			return
		}
	}
	if dependency.WouldFormCycle(existing, t) {
		respondError(c, task.CycleWouldFormError(dependency.DetectCycle(append(existing, t))))
		return
	}

	if err := svc.Store.Put(t); err != nil {
		respondError(c, err)
		return
	}
	if err := svc.Audit.Record(t.ID, audit.KindCreated, "http", map[string]any{"title": t.Title}); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", t.ID, err)
	}
	svc.Bus.Publish(bus.New(bus.TaskCreated, t))
	c.JSON(http.StatusCreated, t)
}

func handleGetTask(c *gin.Context) {
	svc := servicesFrom(c)
	t, err := svc.Store.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type updateTaskRequest struct {
	Title         *string   `json:"title"`
	Description   *string   `json:"description"`
	AssignedTo    *string   `json:"assignedTo"`
	Collaborators *[]string `json:"collaborators"`
	Watchers      *[]string `json:"watchers"`
	Dependencies  *[]string `json:"dependencies"`
}

// applyUpdateTaskRequest merges req's set fields onto t in place,
// returning the subset that actually changed.
func applyUpdateTaskRequest(t *task.Task, req updateTaskRequest) map[string]any {
	changed := make(map[string]any)
	if req.Title != nil && *req.Title != "" && *req.Title != t.Title {
		changed["title"] = *req.Title
		t.Title = *req.Title
	}
	if req.Description != nil && *req.Description != t.Description {
		changed["description"] = *req.Description
		t.Description = *req.Description
	}
	if req.AssignedTo != nil && *req.AssignedTo != t.AssignedTo {
		changed["assignedTo"] = *req.AssignedTo
		t.AssignedTo = *req.AssignedTo
	}
	if req.Collaborators != nil {
		changed["collaborators"] = *req.Collaborators
		t.Collaborators = *req.Collaborators
	}
	if req.Watchers != nil {
		changed["watchers"] = *req.Watchers
		t.Watchers = *req.Watchers
	}
	if req.Dependencies != nil {
		changed["dependencies"] = *req.Dependencies
		t.Dependencies = *req.Dependencies
	}
	return changed
}

// handleUpdateTask checks a would-be dependency cycle against the
// candidate task before ever calling Store.Mutate, so a rejected write
// never reaches persistence (invariant (1): acyclic at all times).
func handleUpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc := servicesFrom(c)
	id := c.Param("id")

	existing, err := svc.Store.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}

	candidate := existing.Clone()
	changed := applyUpdateTaskRequest(candidate, req)

	if _, depsChanged := changed["dependencies"]; depsChanged {
		others := filterOutID(svc.Store.Scan(), id)
		if dependency.WouldFormCycle(others, candidate) {
			respondError(c, task.CycleWouldFormError(dependency.DetectCycle(append(others, candidate))))
			return
		}
	}

	updated, err := svc.Store.Mutate(id, func(t *task.Task) error {
		applyUpdateTaskRequest(t, req)
		if len(changed) > 0 {
			t.AppendAction("updated", "http", "")
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	for field, value := range changed {
		if auditErr := svc.Audit.Record(id, audit.KindUpdated, "http", map[string]any{"field": field, "value": value}); auditErr != nil {
			svc.Logger().Warn("audit record failed for task %s field %s: %v", id, field, auditErr)
		}
	}
	svc.Bus.Publish(bus.New(bus.TaskUpdated, map[string]any{"task": updated, "changed": changed}))
	c.JSON(http.StatusOK, updated)
}

func filterOutID(tasks []*task.Task, id string) []*task.Task {
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func handleUpdateTaskStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc := servicesFrom(c)
	id := c.Param("id")
	var oldStatus task.Status

	updated, err := svc.Store.Mutate(id, func(t *task.Task) error {
		oldStatus = t.Status
		t.Status = task.Status(req.Status)
		t.AppendAction("status_changed", "http", req.Status)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if err := svc.Audit.Record(id, audit.KindStatusChanged, "http", map[string]any{
		"oldStatus": oldStatus, "newStatus": updated.Status,
	}); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", id, err)
	}
	svc.Bus.Publish(bus.New(bus.TaskStatusChanged, map[string]any{
		"task": updated, "oldStatus": oldStatus, "newStatus": updated.Status,
	}))
	c.JSON(http.StatusOK, updated)
}

type priorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

func handleUpdateTaskPriority(c *gin.Context) {
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc := servicesFrom(c)
	id := c.Param("id")
	var oldPriority task.Priority

	updated, err := svc.Store.Mutate(id, func(t *task.Task) error {
		oldPriority = t.Priority
		t.Priority = task.Priority(req.Priority)
		t.AppendAction("priority_changed", "http", req.Priority)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if err := svc.Audit.Record(id, audit.KindPriorityChanged, "http", map[string]any{
		"oldPriority": oldPriority, "newPriority": updated.Priority,
	}); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", id, err)
	}
	svc.Bus.Publish(bus.New(bus.TaskPriorityChanged, map[string]any{
		"task": updated, "oldPriority": oldPriority, "newPriority": updated.Priority,
	}))
	c.JSON(http.StatusOK, updated)
}

type assignmentRequest struct {
	AssignedTo string `json:"assignedTo" binding:"required"`
}

func handleUpdateTaskAssignment(c *gin.Context) {
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	svc := servicesFrom(c)
	id := c.Param("id")

	updated, err := svc.Store.Mutate(id, func(t *task.Task) error {
		t.AssignedTo = req.AssignedTo
		t.AppendAction("updated", "http", "assignedTo="+req.AssignedTo)
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if err := svc.Audit.Record(id, audit.KindUpdated, "http", map[string]any{"field": "assignedTo", "value": req.AssignedTo}); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", id, err)
	}
	svc.Bus.Publish(bus.New(bus.TaskAssigned, map[string]any{"task": updated}))
	c.JSON(http.StatusOK, updated)
}

func handleDeleteTask(c *gin.Context) {
	svc := servicesFrom(c)
	id := c.Param("id")
	if err := svc.Audit.Record(id, audit.KindDeleted, "http", nil); err != nil {
		svc.Logger().Warn("audit record failed for task %s: %v", id, err)
	}
	if err := svc.Store.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	svc.Bus.Publish(bus.New(bus.TaskDeleted, map[string]any{"id": id}))
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
