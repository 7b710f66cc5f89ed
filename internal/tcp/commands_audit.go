package tcp

import (
	"time"

	"github.com/cklxx/taskwarden/internal/domain/audit"
	"github.com/cklxx/taskwarden/internal/registry"
)

// RegisterAuditCommands wires the audit-log verbs of spec.md §4.5 into
// reg: get_task_history, get_audit_summary, get_audit_statistics,
// prune_audit_log.
func RegisterAuditCommands(reg *Registry) {
	reg.Register(&Command{Name: "get_task_history", ParseArgs: parseTaskHistoryArgs, Execute: executeTaskHistory})
	reg.Register(&Command{Name: "get_audit_summary", ParseArgs: parseAuditFilterArgs, Execute: executeAuditSummary})
	reg.Register(&Command{Name: "get_audit_statistics", ParseArgs: parseAuditFilterArgs, Execute: executeAuditStatistics})
	reg.Register(&Command{Name: "prune_audit_log", ParseArgs: parsePruneArgs, Execute: executePruneAuditLog})
}

func parseTaskHistoryArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	id, err := argString(data, "id")
	if err != nil {
		return nil, err
	}
	return audit.Filter{TaskID: id}, nil
}

func executeTaskHistory(svc *registry.Services, rawArgs any) (any, error) {
	filter := rawArgs.(audit.Filter)
	return svc.Audit.Read(filter)
}

func parseAuditFilterArgs(req *Request) (any, error) {
	if req.Data == nil {
		return audit.Filter{}, nil
	}
	filter := audit.Filter{
		TaskID: argStringOptional(req.Data, "taskId"),
		Actor:  argStringOptional(req.Data, "actor"),
	}
	if kind := argStringOptional(req.Data, "kind"); kind != "" {
		filter.Kind = audit.Kind(kind)
	}
	return filter, nil
}

func executeAuditSummary(svc *registry.Services, rawArgs any) (any, error) {
	filter := rawArgs.(audit.Filter)
	return svc.Audit.Stats(filter)
}

func executeAuditStatistics(svc *registry.Services, rawArgs any) (any, error) {
	filter := rawArgs.(audit.Filter)
	events, err := svc.Audit.Read(filter)
	if err != nil {
		return nil, err
	}
	summary, err := svc.Audit.Stats(filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"summary": summary, "events": events}, nil
}

type pruneArgs struct {
	OlderThan time.Duration
}

func parsePruneArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	days := argInt(data, "olderThanDays", 90)
	return pruneArgs{OlderThan: time.Duration(days) * 24 * time.Hour}, nil
}

func executePruneAuditLog(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(pruneArgs)
	removed, err := svc.Audit.Prune(args.OlderThan)
	if err != nil {
		return nil, err
	}
	return map[string]any{"removed": removed}, nil
}
