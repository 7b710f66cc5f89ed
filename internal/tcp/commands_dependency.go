package tcp

import (
	"github.com/cklxx/taskwarden/internal/domain/dependency"
	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/registry"
)

// RegisterDependencyCommands wires the dependency-analysis verbs of
// spec.md §4.5 into reg: graph, validate_dependencies, critical_path,
// analyze_impact, find_bottlenecks, detect_cycles, what_if_remove.
func RegisterDependencyCommands(reg *Registry) {
	reg.Register(&Command{Name: "get_dependency_graph", ParseArgs: noArgs, Execute: executeDependencyGraph})
	reg.Register(&Command{Name: "validate_dependencies", ParseArgs: noArgs, Execute: executeValidateDependencies})
	reg.Register(&Command{Name: "get_critical_path", ParseArgs: noArgs, Execute: executeCriticalPath})
	reg.Register(&Command{Name: "analyze_impact", ParseArgs: parseTaskIDArgs, Execute: executeAnalyzeImpact})
	reg.Register(&Command{Name: "find_bottlenecks", ParseArgs: noArgs, Execute: executeFindBottlenecks})
	reg.Register(&Command{Name: "detect_cycles", ParseArgs: noArgs, Execute: executeDetectCycles})
	reg.Register(&Command{Name: "what_if_remove_dependency", ParseArgs: parseWhatIfArgs, Execute: executeWhatIfRemoveDependency})
}

// graphEdge is one dependency edge in the get_dependency_graph
// response: task id depends on the named id.
type graphEdge struct {
	TaskID    string `json:"taskId"`
	DependsOn string `json:"dependsOn"`
}

func executeDependencyGraph(svc *registry.Services, _ any) (any, error) {
	tasks := svc.Store.Scan()
	edges := make([]graphEdge, 0)
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			edges = append(edges, graphEdge{TaskID: t.ID, DependsOn: dep})
		}
	}
	return map[string]any{"tasks": tasks, "edges": edges}, nil
}

func executeValidateDependencies(svc *registry.Services, _ any) (any, error) {
	return dependency.Validate(svc.Store.Scan()), nil
}

func executeCriticalPath(svc *registry.Services, _ any) (any, error) {
	return dependency.CriticalPath(svc.Store.Scan()), nil
}

func executeAnalyzeImpact(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(taskIDArgs)
	tasks := svc.Store.Scan()
	if _, err := findByID(tasks, args.ID); err != nil {
		return nil, err
	}
	return dependency.Impact(tasks, args.ID), nil
}

// executeFindBottlenecks surfaces the critical path's Bottlenecks field
// as a standalone verb, since spec.md §4.5 lists it separately from
// get_critical_path.
func executeFindBottlenecks(svc *registry.Services, _ any) (any, error) {
	result := dependency.CriticalPath(svc.Store.Scan())
	return map[string]any{"bottlenecks": result.Bottlenecks}, nil
}

func executeDetectCycles(svc *registry.Services, _ any) (any, error) {
	cyc := dependency.DetectCycle(svc.Store.Scan())
	return map[string]any{"cycle": cyc, "hasCycle": cyc != nil}, nil
}

type whatIfArgs struct {
	TaskID string
	DepID  string
}

func parseWhatIfArgs(req *Request) (any, error) {
	data, err := requireData(req)
	if err != nil {
		return nil, err
	}
	taskID, err := argString(data, "taskId")
	if err != nil {
		return nil, err
	}
	depID, err := argString(data, "dependsOn")
	if err != nil {
		return nil, err
	}
	return whatIfArgs{TaskID: taskID, DepID: depID}, nil
}

// executeWhatIfRemoveDependency reports the dependency-validation
// result of the task set as it would look with one edge removed,
// without mutating the Store.
func executeWhatIfRemoveDependency(svc *registry.Services, rawArgs any) (any, error) {
	args := rawArgs.(whatIfArgs)
	tasks := svc.Store.Scan()
	target, err := findByID(tasks, args.TaskID)
	if err != nil {
		return nil, err
	}

	hypothetical := target.Clone()
	remaining := make([]string, 0, len(hypothetical.Dependencies))
	found := false
	for _, dep := range hypothetical.Dependencies {
		if dep == args.DepID {
			found = true
			continue
		}
		remaining = append(remaining, dep)
	}
	if !found {
		return nil, task.ValidationError("task %s does not depend on %s", args.TaskID, args.DepID)
	}
	hypothetical.Dependencies = remaining

	merged := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == args.TaskID {
			merged = append(merged, hypothetical)
			continue
		}
		merged = append(merged, t)
	}

	before := dependency.CriticalPath(tasks)
	after := dependency.CriticalPath(merged)
	return map[string]any{
		"validation":     dependency.Validate(merged),
		"durationBefore": before.Duration,
		"durationAfter":  after.Duration,
	}, nil
}
