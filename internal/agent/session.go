// Package agent provides the Workflow Engine's one external
// collaborator boundary: a Session per profile that accepts a prompt
// and returns a turn result. The transport that actually produces text
// is out of scope (spec §1); this package only specifies the small
// request/response contract and the stub/process transports needed to
// exercise it end to end.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/cklxx/taskwarden/internal/domain/task"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// TurnResult is one agent session reply.
type TurnResult struct {
	Profile string
	Output  string
	Passed  bool // set by local-test effects that reuse the turn shape; zero value for plain turns
}

// Session is one live conversation with an external agent transport,
// bound to a profile for its whole lifetime.
type Session interface {
	Profile() string
	SendTurn(ctx context.Context, prompt string) (TurnResult, error)
	Close()
}

// Transport selects how sessions are created.
type Transport string

const (
	TransportStub    Transport = "stub"
	TransportProcess Transport = "process"
)

// Manager owns at most one live Session per profile, transparently
// tearing down and replacing a session whenever the workflow loop asks
// for a different profile than the one currently held (spec §4.7: "if
// the current session's profile differs from the new profile, cleanly
// terminate the old session and start a new one").
type Manager struct {
	transport Transport
	path      string
	logger    logging.Logger

	mu      sync.Mutex
	current Session
}

// Config selects the transport a Manager's sessions use.
type Config struct {
	Transport Transport
	Host      string
	Port      int
	Path      string // executable path for TransportProcess
}

// NewManager builds a Manager for the given Config.
func NewManager(cfg Config, logger logging.Logger) *Manager {
	return &Manager{
		transport: cfg.Transport,
		path:      cfg.Path,
		logger:    logging.OrNop(logger).With("agent"),
	}
}

// Acquire returns the live session for profile, replacing the current
// session if its profile differs.
func (m *Manager) Acquire(profile string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if m.current.Profile() == profile {
			return m.current, nil
		}
		m.current.Close()
		m.current = nil
	}

	sess, err := m.newSession(profile)
	if err != nil {
		return nil, err
	}
	m.current = sess
	return sess, nil
}

// Close tears down any live session. Safe to call with none live.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}

func (m *Manager) newSession(profile string) (Session, error) {
	switch m.transport {
	case TransportProcess:
		return newProcessSession(profile, m.path, m.logger)
	default:
		return newStubSession(profile), nil
	}
}

// SendTurnWithTimeout acquires the session for profile, sends prompt,
// and enforces the per-turn deadline: on timeout the session is torn
// down (spec §5: "on timeout the session is cleanly torn down") and a
// SessionTimeout error is returned.
func (m *Manager) SendTurnWithTimeout(ctx context.Context, profile, prompt string, timeout time.Duration) (TurnResult, error) {
	sess, err := m.Acquire(profile)
	if err != nil {
		return TurnResult{}, err
	}

	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type turnOutcome struct {
		result TurnResult
		err    error
	}
	doneCh := make(chan turnOutcome, 1)
	go func() {
		res, err := sess.SendTurn(turnCtx, prompt)
		doneCh <- turnOutcome{res, err}
	}()

	select {
	case out := <-doneCh:
		return out.result, out.err
	case <-turnCtx.Done():
		m.mu.Lock()
		if m.current == sess {
			m.current.Close()
			m.current = nil
		}
		m.mu.Unlock()
		return TurnResult{}, task.SessionTimeoutError(profile)
	}
}

// stubSession replies immediately with a canned acknowledgment; used
// in tests and for "skip TCP"/headless runs where no real agent
// transport is configured (spec's S5: "if the agent session transport
// is stubbed to reply immediately").
type stubSession struct {
	profile string
}

func newStubSession(profile string) *stubSession { return &stubSession{profile: profile} }

func (s *stubSession) Profile() string { return s.profile }

func (s *stubSession) SendTurn(ctx context.Context, prompt string) (TurnResult, error) {
	return TurnResult{Profile: s.profile, Output: "ack: " + prompt, Passed: true}, nil
}

func (s *stubSession) Close() {}

// processSession drives a long-lived subprocess over stdin/stdout:
// one JSON line request, one JSON line reply, matching the TCP
// protocol's own newline-delimited-JSON framing idiom. A reply that
// fails to parse is run through jsonrepair before being given up on,
// mirroring the tool-call argument repair path used elsewhere for
// agent-produced JSON.
type processSession struct {
	profile string
	logger  logging.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Scanner
}

type processRequest struct {
	Profile string `json:"profile"`
	Prompt  string `json:"prompt"`
}

type processReply struct {
	Output string `json:"output"`
	Passed bool   `json:"passed"`
}

func newProcessSession(profile, path string, logger logging.Logger) (*processSession, error) {
	cmd := exec.Command(path, "--profile", profile)
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent process stdin: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent process stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	return &processSession{
		profile: profile,
		logger:  logger,
		cmd:     cmd,
		stdin:   bufio.NewWriter(stdinPipe),
		stdout:  bufio.NewScanner(stdoutPipe),
	}, nil
}

func (p *processSession) Profile() string { return p.profile }

func (p *processSession) SendTurn(ctx context.Context, prompt string) (TurnResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line, err := json.Marshal(processRequest{Profile: p.profile, Prompt: prompt})
	if err != nil {
		return TurnResult{}, err
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return TurnResult{}, err
	}
	if err := p.stdin.Flush(); err != nil {
		return TurnResult{}, err
	}

	if !p.stdout.Scan() {
		if err := p.stdout.Err(); err != nil {
			return TurnResult{}, err
		}
		return TurnResult{}, fmt.Errorf("agent process closed stdout without a reply")
	}

	raw := p.stdout.Bytes()
	var reply processReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(raw))
		if repairErr != nil {
			return TurnResult{}, fmt.Errorf("agent reply was not valid JSON and could not be repaired: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
			return TurnResult{}, fmt.Errorf("agent reply could not be parsed even after repair: %w", err)
		}
		p.logger.Warn("repaired malformed agent reply JSON for profile %s", p.profile)
	}

	return TurnResult{Profile: p.profile, Output: reply.Output, Passed: reply.Passed}, nil
}

func (p *processSession) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		p.cmd.Wait()
	}
}
