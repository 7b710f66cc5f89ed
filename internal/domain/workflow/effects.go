package workflow

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/cklxx/taskwarden/internal/agent"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// AgentTurnEffect sends a prompt to the profile's agent session and
// swallows failures so the same state retries next tick (spec §4.7).
type AgentTurnEffect struct {
	Manager  *agent.Manager
	Profile  string
	PromptFn func(tok *Token) string
	Timeout  time.Duration
	Logger   logging.Logger
}

// Run sends the turn and reports advance=false on any failure
// (including SessionTimeout), never an error: agent failures are
// never daemon-fatal.
func (e *AgentTurnEffect) Run(ctx context.Context, tok *Token) (bool, error) {
	logger := logging.OrNop(e.Logger)
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	prompt := e.Profile
	if e.PromptFn != nil {
		prompt = e.PromptFn(tok)
	}

	result, err := e.Manager.SendTurnWithTimeout(ctx, e.Profile, prompt, timeout)
	if err != nil {
		logger.Warn("agent turn for profile %s failed, will retry next tick: %v", e.Profile, err)
		return false, nil
	}
	tok.Set("lastTurnOutput", result.Output)
	return true, nil
}

// LocalTestEffect runs lint and tests as subprocesses, captures
// output, and records context.lastTestResult for the tests-completed
// branch to read.
type LocalTestEffect struct {
	WorkDir  string
	LintCmd  []string
	TestCmd  []string
	Logger   logging.Logger
	RunClock func() time.Time
}

// Run executes LintCmd (if set) then TestCmd, combining their output,
// and always advances (running the tests is the point of this state;
// whether they passed is read back from the token by the caller).
func (e *LocalTestEffect) Run(ctx context.Context, tok *Token) (bool, error) {
	logger := logging.OrNop(e.Logger)
	var out bytes.Buffer
	passed := true

	for _, cmdline := range [][]string{e.LintCmd, e.TestCmd} {
		if len(cmdline) == 0 {
			continue
		}
		cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
		cmd.Dir = e.WorkDir
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			passed = false
			logger.Warn("local test command %v failed: %v", cmdline, err)
		}
	}

	at := time.Now()
	if e.RunClock != nil {
		at = e.RunClock()
	}
	tok.Set(ContextKeyLastTestResult, TestResult{Passed: passed, Output: out.String(), At: at})
	return true, nil
}

// LocalCommitEffect commits working-tree changes when any exist, with a
// one-line generated message that counts the changed paths reported by
// `git status --porcelain` and the diffmatchpatch segments of that
// status text.
type LocalCommitEffect struct {
	WorkDir string
	Logger  logging.Logger
}

// Run stages and commits pending changes under WorkDir. It always
// advances: "nothing to commit" is a normal outcome of this state, not
// a failure.
func (e *LocalCommitEffect) Run(ctx context.Context, tok *Token) (bool, error) {
	logger := logging.OrNop(e.Logger)

	statusCmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	statusCmd.Dir = e.WorkDir
	statusOut, err := statusCmd.Output()
	if err != nil {
		logger.Warn("commit effect: git status failed: %v", err)
		return true, nil
	}
	if len(bytes.TrimSpace(statusOut)) == 0 {
		return true, nil
	}

	message := e.summarize(string(statusOut))

	addCmd := exec.CommandContext(ctx, "git", "add", "-A")
	addCmd.Dir = e.WorkDir
	if err := addCmd.Run(); err != nil {
		logger.Warn("commit effect: git add failed: %v", err)
		return true, nil
	}

	commitCmd := exec.CommandContext(ctx, "git", "commit", "-m", message)
	commitCmd.Dir = e.WorkDir
	if err := commitCmd.Run(); err != nil {
		logger.Warn("commit effect: git commit failed: %v", err)
	}
	return true, nil
}

func (e *LocalCommitEffect) summarize(status string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain("", status, false)
	lines := strings.Split(strings.TrimSpace(status), "\n")
	return fmt.Sprintf("workflow: automated commit (%d changed paths, %d diff segments)", len(lines), len(diffs))
}
