package tcp

import (
	"fmt"

	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/registry"
)

// Command is a typed dispatcher entry, replacing the "long switch on
// command" anti-pattern spec.md's REDESIGN FLAGS §9 calls out: each
// verb is a value with a name, an argument parser, and an executor.
type Command struct {
	Name      string
	ParseArgs func(req *Request) (any, error)
	Execute   func(svc *registry.Services, args any) (any, error)
}

// Registry maps verb name to Command.
type Registry struct {
	commands map[string]*Command
}

// NewRegistry builds an empty command Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds cmd to the registry. Re-registering the same name
// replaces the previous entry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
}

// Lookup returns the Command registered for name, if any.
func (r *Registry) Lookup(name string) (*Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Dispatch resolves req.Command, parses its arguments, resolves the
// target environment's Services via resolver, executes, and converts
// any error into the uniform Response error shape. It never panics out
// to the caller: handler panics are recovered and reported as Unknown
// errors so the connection survives a single bad command.
func (r *Registry) Dispatch(req *Request, resolver func(name string) (*registry.Services, bool)) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = errorResponse(task.UnknownError(fmt.Errorf("handler panic: %v", rec)))
		}
	}()

	cmd, ok := r.commands[req.Command]
	if !ok {
		return errorResponse(task.NewError(task.ErrUnknown, "unknown command %q", req.Command))
	}

	envName := resolveEnvironment(req)
	svc, ok := resolver(envName)
	if !ok {
		return errorResponse(task.NewError(task.ErrUnknown, "unknown environment %q", envName))
	}

	args, err := cmd.ParseArgs(req)
	if err != nil {
		return errorResponse(task.ValidationError("%v", err))
	}

	data, err := cmd.Execute(svc, args)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Success: true, Data: data}
}

// resolveEnvironment implements spec.md §4.5's resolution order:
// explicit `environment` field -> `data.environment` -> default
// (signaled here by an empty string, which the resolver maps to the
// registry's configured default environment).
func resolveEnvironment(req *Request) string {
	if req.Environment != "" {
		return req.Environment
	}
	if req.Data != nil {
		if v, ok := req.Data["environment"]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func errorResponse(err error) Response {
	if terr, ok := err.(*task.Error); ok {
		return Response{Success: false, Error: &ResponseError{Message: terr.Message, Name: terr.Name}}
	}
	return Response{Success: false, Error: &ResponseError{Message: err.Error(), Name: task.ErrUnknown}}
}
