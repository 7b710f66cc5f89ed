package tcp

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/registry"
	"github.com/cklxx/taskwarden/internal/shared/async"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// Server is the bare-TCP command listener: one goroutine per accepted
// connection, newline-delimited JSON frames in and out, dispatched
// through a Registry of Commands against a Resolver of environment
// Services.
type Server struct {
	addr     string
	registry *Registry
	resolver func(name string) (*registry.Services, bool)
	logger   logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
}

// NewServer builds a Server listening on addr, dispatching through reg
// and resolving environments via resolver.
func NewServer(addr string, reg *Registry, resolver func(name string) (*registry.Services, bool), logger logging.Logger) *Server {
	return &Server{
		addr:     addr,
		registry: reg,
		resolver: resolver,
		logger:   logging.OrNop(logger).With("tcp"),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Name identifies this Server as a Subsystem.
func (s *Server) Name() string { return "tcp-command-server" }

// Start binds the listener and begins accepting connections in a
// background goroutine. Returns once the listener is bound so the
// caller can rely on the address being live immediately after Start
// returns.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	async.Go(s.logger, "tcp-accept-loop", s.acceptLoop)
	s.logger.Info("listening on %s", ln.Addr())
	return nil
}

// Stop closes the listener and every tracked connection, causing each
// connection's read loop to unblock and exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	ln := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.logger.Warn("accept failed: %v", err)
			return
		}
		s.trackConn(conn)
		async.Go(s.logger, "tcp-connection", func() { s.handleConn(conn) })
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConn owns one client connection end to end: it reads frames,
// dispatches each, and writes back a response frame, looping until the
// connection closes or a transport-level error occurs. A single
// malformed request or handler error never closes the connection —
// Dispatch already converts those into an error Response frame — only
// EOF, read errors, or write errors end the loop.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.untrackConn(conn)
		conn.Close()
	}()

	reader := NewFrameReader(conn)
	enc := json.NewEncoder(conn)

	for {
		req, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				if writeErr := enc.Encode(errorResponse(task.TransportError("%v", frameErr))); writeErr != nil {
					return
				}
				continue
			}
			s.logger.Warn("connection read error: %v", err)
			return
		}

		resp := s.registry.Dispatch(req, s.resolver)
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("connection write error: %v", err)
			return
		}
	}
}
