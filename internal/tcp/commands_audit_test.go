package tcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cklxx/taskwarden/internal/domain/audit"
)

func testAuditRegistry(t *testing.T) *Registry {
	reg := NewRegistry()
	RegisterCoreCommands(reg)
	RegisterAuditCommands(reg)
	return reg
}

func TestGetTaskHistory_ReturnsCreatedEvent(t *testing.T) {
	svc := testServices(t)
	reg := testAuditRegistry(t)

	created := dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "a"}})
	require.True(t, created.Success)
	tasks := svc.Store.Scan()
	require.Len(t, tasks, 1)

	resp := dispatch(t, reg, svc, &Request{Command: "get_task_history", Data: map[string]any{"id": tasks[0].ID}})
	require.True(t, resp.Success)
	events := resp.Data.([]audit.Event)
	require.Len(t, events, 1)
	assert.Equal(t, audit.KindCreated, events[0].Kind)
}

func TestGetAuditSummary_CountsByKind(t *testing.T) {
	svc := testServices(t)
	reg := testAuditRegistry(t)

	dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "a"}})
	dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "b"}})

	resp := dispatch(t, reg, svc, &Request{Command: "get_audit_summary"})
	require.True(t, resp.Success)
	summary := resp.Data.(audit.Summary)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.ByKind[audit.KindCreated])
}

func TestPruneAuditLog_NoOpWithinRetentionWindow(t *testing.T) {
	svc := testServices(t)
	reg := testAuditRegistry(t)

	dispatch(t, reg, svc, &Request{Command: "create_task", Data: map[string]any{"title": "a"}})

	resp := dispatch(t, reg, svc, &Request{Command: "prune_audit_log", Data: map[string]any{"olderThanDays": 90}})
	require.True(t, resp.Success)
	result := resp.Data.(map[string]any)
	assert.Equal(t, 0, result["removed"])
}
