package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/registry"
	"github.com/cklxx/taskwarden/internal/shared/config"
)

func testRouter(t *testing.T) (http.Handler, *registry.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Environments = []string{"default"}
	cfg.DefaultEnv = "default"

	reg, err := registry.Build(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(reg.CloseAll)

	return NewRouter(reg, nil, nil), reg
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetTask_RoundTrips(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "write docs"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "write docs", created.Title)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTask_UnknownIDReturns404(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTask_MissingDependencyReturns422(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		Title: "b", Dependencies: []string{"nonexistent"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateTask_RejectsDependencyCycleWithoutPersisting(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "t1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var t1 task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &t1))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		Title: "t2", Dependencies: []string{t1.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var t2 task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &t2))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var before []*task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))

	cycleDeps := []string{t2.ID}
	rec = doJSON(t, router, http.MethodPatch, "/api/v1/tasks/"+t1.ID, updateTaskRequest{Dependencies: &cycleDeps})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var after []*task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, before, after)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks/"+t1.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got1 task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got1))
	assert.Empty(t, got1.Dependencies)
}

func TestUpdateTaskStatus_PersistsNewStatus(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, router, http.MethodPatch, "/api/v1/tasks/"+created.ID+"/status", statusRequest{Status: "in-progress"})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, task.StatusInProgress, updated.Status)
}

func TestDeleteTask_RemovesTask(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalytics_ReportsTotalsByStatus(t *testing.T) {
	router, _ := testRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "a"})
	doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "b"})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report analyticsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.TotalTasks)
	assert.Equal(t, 2, report.ByStatus["todo"])
}

func TestQueue_OrdersByPriorityThenCreatedAt(t *testing.T) {
	router, _ := testRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "low", Priority: "low"})
	doJSON(t, router, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "high", Priority: "high"})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var queue []*task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Len(t, queue, 2)
	assert.Equal(t, "high", queue[0].Title)
}

func TestUnknownEnvironment_Returns404(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks?environment=bogus", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzAndMetrics_SkipEnvironmentResolution(t *testing.T) {
	router, _ := testRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}
