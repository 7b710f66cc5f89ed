package tcp

import "github.com/cklxx/taskwarden/internal/daemon"

// RegisterAll wires every verb taxonomy in spec.md §4.5 into reg: core
// task CRUD, dependency analysis, audit, and daemon/monitoring/
// scheduler lifecycle commands.
func RegisterAll(reg *Registry, state *daemon.State) {
	RegisterCoreCommands(reg)
	RegisterDependencyCommands(reg)
	RegisterAuditCommands(reg)
	RegisterDaemonCommands(reg, state)
}
