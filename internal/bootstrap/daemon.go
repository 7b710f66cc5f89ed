// Package bootstrap wires the Environment Registry, the TCP/HTTP/WS
// listeners, and the per-environment workflow loops into one process,
// and drives graceful startup and shutdown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cklxx/taskwarden/internal/agent"
	"github.com/cklxx/taskwarden/internal/daemon"
	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/domain/workflow"
	"github.com/cklxx/taskwarden/internal/httpapi"
	"github.com/cklxx/taskwarden/internal/registry"
	"github.com/cklxx/taskwarden/internal/shared/config"
	"github.com/cklxx/taskwarden/internal/shared/logging"
	"github.com/cklxx/taskwarden/internal/tcp"
	"github.com/cklxx/taskwarden/internal/telemetry"
)

// Daemon owns one taskwarden process end to end: the Environment
// Registry, the TCP/HTTP listeners, and one workflow Loop per selected
// environment, wired under a single SubsystemManager so shutdown
// unwinds in the reverse order things were started.
type Daemon struct {
	cfg    config.RuntimeConfig
	logger logging.Logger
	State  *daemon.State

	Registry *registry.Registry
	manager  *SubsystemManager
}

// New builds a Daemon from cfg. It does not open the Registry yet;
// call Run to do that and block until shutdown.
func New(cfg config.RuntimeConfig, logger logging.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: logging.OrNop(logger).With("daemon"),
		State:  daemon.NewState(),
	}
}

// Run opens the Environment Registry, starts every subsystem, and
// blocks until a shutdown signal, a stop_daemon/restart command, or
// ctx is canceled. The returned exit code follows §6's table: 0 for
// clean shutdown (including lock-held at startup), non-zero for an
// unrecoverable startup error.
func (d *Daemon) Run(ctx context.Context) (int, error) {
	// Phase 0: install the tracer provider every span downstream uses.
	shutdownTelemetry, err := telemetry.Init(ctx, d.cfg.TelemetryExporter, d.cfg.TelemetryEndpoint, "taskwarden")
	if err != nil {
		return 1, fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := shutdownTelemetry(shutdownCtx); shutdownErr != nil {
			d.logger.Warn("telemetry shutdown: %v", shutdownErr)
		}
	}()

	// Phase 1: open the Environment Registry.
	reg, err := registry.Build(d.cfg, d.logger)
	if err != nil {
		if lockHeld(err) {
			d.logger.Warn("store directory already owned by another process, exiting cleanly: %v", err)
			return 0, nil
		}
		return 1, fmt.Errorf("open environment registry: %w", err)
	}
	d.Registry = reg
	defer reg.CloseAll()

	for _, name := range reg.Names() {
		svc, _ := reg.Resolve(name)
		if startErr := svc.Scheduler.Start(); startErr != nil {
			d.logger.Error("environment %s: scheduler failed to start: %v", name, startErr)
		}
	}

	d.manager = NewSubsystemManager(d.logger)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Phase 2: register TCP commands, then start the TCP and HTTP
	// listeners against the same Registry.
	tcpReg := tcp.NewRegistry()
	tcp.RegisterAll(tcpReg, d.State)

	if !d.cfg.SkipTCP {
		tcpServer := tcp.NewServer(d.cfg.TCPAddr, tcpReg, reg.Resolve, d.logger)
		if startErr := d.manager.Start(runCtx, newTCPSubsystem(tcpServer)); startErr != nil {
			return 1, fmt.Errorf("start tcp listener: %w", startErr)
		}
	}

	router := httpapi.NewRouter(reg, d.cfg.AllowedOrigins, d.logger)
	httpSub := newHTTPSubsystem(d.cfg.HTTPAddr, router, d.logger)
	if startErr := d.manager.Start(runCtx, httpSub); startErr != nil {
		return 1, fmt.Errorf("start http listener: %w", startErr)
	}

	// Phase 3: one workflow loop per selected environment, unless this
	// is a headless test run.
	var agentMgr *agent.Manager
	if !d.cfg.TestMode {
		agentMgr = agent.NewManager(agent.Config{
			Transport: agent.Transport(d.cfg.AgentTransport),
			Host:      d.cfg.AgentHost,
			Port:      d.cfg.AgentPort,
			Path:      d.cfg.AgentPath,
		}, d.logger)
		defer agentMgr.Close()

		for _, name := range reg.SelectWorkflowEnvironments(d.cfg) {
			svc, ok := reg.Resolve(name)
			if !ok {
				continue
			}
			loop := &workflow.Loop{
				Environment:  name,
				Registry:     workflow.NewDefaultRegistry(agentMgr, d.cfg.DataDir, svc.Logger()),
				Store:        svc.Store,
				Token:        workflow.NewToken(workflow.StateNewFeatureProposed),
				Pause:        d.State,
				Logger:       svc.Logger(),
				TickInterval: d.cfg.TickInterval,
				FatalBackoff: config.DefaultFatalBackoff,
				FatalCallback: func(err error) {
					d.logger.Error("fatal workflow error, triggering daemon stop: %v", err)
					d.State.Stop()
				},
			}
			if startErr := d.manager.Start(runCtx, newLoopSubsystem(name, loop, svc.Logger())); startErr != nil {
				return 1, fmt.Errorf("start workflow loop for %s: %w", name, startErr)
			}
		}
	}

	// Phase 4: wait for an OS signal or a stop_daemon/restart command,
	// then unwind every subsystem in reverse start order.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("received signal %s, shutting down", sig)
	case <-d.State.Done():
		d.logger.Info("stop requested via command, shutting down")
	case <-ctx.Done():
	}

	cancel()
	time.Sleep(config.DefaultShutdownGrace)
	d.manager.StopAll()

	if d.State.Restarting() {
		d.logger.Info("restart requested; exiting for supervisor relaunch")
	}
	return 0, nil
}

func lockHeld(err error) bool {
	var terr *task.Error
	return errors.As(err, &terr) && terr.Name == task.ErrLockHeld
}
