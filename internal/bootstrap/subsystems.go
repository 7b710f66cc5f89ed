package bootstrap

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cklxx/taskwarden/internal/domain/workflow"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// httpSubsystem adapts a plain *http.Server, whose ListenAndServe has
// no context parameter, to the Subsystem interface: Start binds the
// listener synchronously (so the caller knows the port is live before
// it returns) and serves in a background goroutine; Stop drains
// in-flight handlers best-effort within the shutdown grace period
// spec.md §5 gives the listeners.
type httpSubsystem struct {
	server *http.Server
	logger logging.Logger
}

func newHTTPSubsystem(addr string, handler http.Handler, logger logging.Logger) *httpSubsystem {
	return &httpSubsystem{
		server: &http.Server{Addr: addr, Handler: handler},
		logger: logging.OrNop(logger).With("http"),
	}
}

func (h *httpSubsystem) Name() string { return "http-listener" }

func (h *httpSubsystem) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		if serveErr := h.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			h.logger.Error("serve failed: %v", serveErr)
		}
	}()
	h.logger.Info("listening on %s", ln.Addr())
	return nil
}

func (h *httpSubsystem) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Warn("graceful shutdown incomplete, forcing close: %v", err)
		h.server.Close()
	}
}

// tcpStarter is the subset of *tcp.Server a Subsystem wraps: a
// ctx-less Start (it binds synchronously already) and a Stop.
type tcpStarter interface {
	Name() string
	Start() error
	Stop()
}

// tcpSubsystem adapts tcp.Server's ctx-less Start to Subsystem.
type tcpSubsystem struct{ server tcpStarter }

func newTCPSubsystem(server tcpStarter) *tcpSubsystem { return &tcpSubsystem{server: server} }

func (t *tcpSubsystem) Name() string                    { return t.server.Name() }
func (t *tcpSubsystem) Start(ctx context.Context) error { return t.server.Start() }
func (t *tcpSubsystem) Stop()                           { t.server.Stop() }

// loopSubsystem runs one environment's workflow.Loop for the
// subsystem's lifetime: Start launches it in a goroutine and returns
// immediately (a Loop never "becomes ready", it just starts ticking),
// Stop waits for Run to actually return so StopAll doesn't race a
// tick still in flight against the Store being closed.
type loopSubsystem struct {
	envName string
	loop    *workflow.Loop
	logger  logging.Logger

	done chan struct{}
	err  error
}

func newLoopSubsystem(envName string, loop *workflow.Loop, logger logging.Logger) *loopSubsystem {
	return &loopSubsystem{envName: envName, loop: loop, logger: logging.OrNop(logger), done: make(chan struct{})}
}

func (l *loopSubsystem) Name() string { return "workflow-loop:" + l.envName }

func (l *loopSubsystem) Start(ctx context.Context) error {
	go func() {
		defer close(l.done)
		l.err = l.loop.Run(ctx)
	}()
	return nil
}

func (l *loopSubsystem) Stop() {
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("workflow loop %s did not stop within grace period", l.envName)
	}
}
