// Package audit implements the append-only per-environment audit
// journal: every Task mutation is recorded after the Store write
// succeeds. Writes are serialized by a single goroutine per Log so
// concurrent command handlers never interleave partial JSON lines,
// mirroring the teacher's write-temp-then-rename durability idiom
// adapted here to append mode.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cklxx/taskwarden/internal/shared/idgen"
	"github.com/cklxx/taskwarden/internal/shared/logging"
)

// Kind enumerates the mutation categories spec.md §3 assigns to audit
// events.
type Kind string

const (
	KindCreated        Kind = "created"
	KindUpdated        Kind = "updated"
	KindStatusChanged  Kind = "status_changed"
	KindPriorityChanged Kind = "priority_changed"
	KindDeleted        Kind = "deleted"
)

// Event is one append-only audit record.
type Event struct {
	ID      string         `json:"id"`
	TaskID  string         `json:"taskId"`
	Kind    Kind           `json:"kind"`
	At      time.Time      `json:"at"`
	Actor   string         `json:"actor"`
	Payload map[string]any `json:"payload,omitempty"`
	// Diff is an optional unified diff, set only through RecordWithDiff.
	Diff string `json:"diff,omitempty"`
}

type writeRequest struct {
	event      Event
	pruneAfter time.Duration
	isPrune    bool
	done       chan error
	result     chan int
}

// Log is an append-only audit journal for a single environment. All
// writes flow through one internal goroutine so appends never race.
type Log struct {
	path    string
	logger  logging.Logger
	writeCh chan writeRequest
	stopCh  chan struct{}
}

// Open opens (creating if absent) the audit journal file at
// <envDir>/task-audit/events.jsonl and starts its writer goroutine.
func Open(envDir string, logger logging.Logger) (*Log, error) {
	logger = logging.OrNop(logger)
	dir := filepath.Join(envDir, "task-audit")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(dir, "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	_ = f.Close()

	l := &Log{
		path:    path,
		logger:  logger.With("audit"),
		writeCh: make(chan writeRequest, 64),
		stopCh:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *Log) run() {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Error("failed to open audit log for appending: %v", err)
		for req := range l.writeCh {
			req.done <- err
		}
		return
	}
	defer f.Close()

	for {
		select {
		case <-l.stopCh:
			if len(l.writeCh) > 0 {
				continue
			}
			return
		case req := <-l.writeCh:
			if req.isPrune {
				removed, newF, err := l.pruneLocked(f, req.pruneAfter)
				if newF != nil {
					f = newF
				}
				req.result <- removed
				req.done <- err
				continue
			}
			line, err := json.Marshal(req.event)
			if err != nil {
				req.done <- err
				continue
			}
			line = append(line, '\n')
			_, werr := f.Write(line)
			if werr == nil {
				werr = f.Sync()
			}
			req.done <- werr
		}
	}
}

// Close stops the writer goroutine. Pending writes already submitted
// are allowed to drain first.
func (l *Log) Close() {
	close(l.stopCh)
}

// Record appends a new audit event. Per spec.md §4.3 and §7, a failure
// here is logged by the caller and must never roll back the Store
// write that preceded it — Record itself only reports the error back
// so the caller can log it; it never panics or blocks indefinitely.
func (l *Log) Record(taskID string, kind Kind, actor string, payload map[string]any) error {
	return l.append(Event{
		ID:      idgen.NewAuditID(),
		TaskID:  taskID,
		Kind:    kind,
		At:      time.Now(),
		Actor:   actor,
		Payload: payload,
	})
}

// RecordWithDiff is like Record but attaches a unified diff to the
// event.
func (l *Log) RecordWithDiff(taskID string, kind Kind, actor, diff string, payload map[string]any) error {
	return l.append(Event{
		ID:      idgen.NewAuditID(),
		TaskID:  taskID,
		Kind:    kind,
		At:      time.Now(),
		Actor:   actor,
		Payload: payload,
		Diff:    diff,
	})
}

func (l *Log) append(e Event) error {
	done := make(chan error, 1)
	select {
	case l.writeCh <- writeRequest{event: e, done: done}:
	case <-l.stopCh:
		return fmt.Errorf("audit log closed")
	}
	return <-done
}

// Filter selects a subset of events from a read.
type Filter struct {
	TaskID string
	Actor  string
	Kind   Kind
	Since  time.Time
	Until  time.Time
}

func (f Filter) matches(e Event) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && e.At.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.At.After(f.Until) {
		return false
	}
	return true
}

// Read returns every event matching filter, oldest first.
func (l *Log) Read(filter Filter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log for read: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			l.logger.Warn("skipping malformed audit line: %v", err)
			continue
		}
		if filter.matches(e) {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events, nil
}

// Summary aggregates event counts by kind, for the "summary"/"statistics"
// audit verbs.
type Summary struct {
	Total   int            `json:"total"`
	ByKind  map[Kind]int   `json:"byKind"`
	ByActor map[string]int `json:"byActor"`
}

// Stats computes a Summary over every event matching filter.
func (l *Log) Stats(filter Filter) (Summary, error) {
	events, err := l.Read(filter)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{ByKind: map[Kind]int{}, ByActor: map[string]int{}}
	for _, e := range events {
		s.Total++
		s.ByKind[e.Kind]++
		s.ByActor[e.Actor]++
	}
	return s, nil
}

// Prune rewrites the journal keeping only events newer than olderThan
// ago, via the same write-temp-then-rename pattern the Store uses for
// its own durability, so a crash mid-prune never corrupts the file.
// The rewrite is serialized through the writer goroutine so it never
// races with a concurrent Record/RecordWithDiff append.
func (l *Log) Prune(olderThan time.Duration) (int, error) {
	done := make(chan error, 1)
	result := make(chan int, 1)
	select {
	case l.writeCh <- writeRequest{isPrune: true, pruneAfter: olderThan, done: done, result: result}:
	case <-l.stopCh:
		return 0, fmt.Errorf("audit log closed")
	}
	removed := <-result
	return removed, <-done
}

// pruneLocked rewrites the journal to a temp file, renames it over the
// original, and reopens an append handle on the new file. Called only
// from the writer goroutine, so f is the only open append handle.
func (l *Log) pruneLocked(f *os.File, olderThan time.Duration) (int, *os.File, error) {
	cutoff := time.Now().Add(-olderThan)
	events, err := l.Read(Filter{})
	if err != nil {
		return 0, f, err
	}

	kept := make([]Event, 0, len(events))
	removed := 0
	for _, e := range events {
		if e.At.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, f, nil
	}

	tmpPath := fmt.Sprintf("%s.tmp-%d", l.path, time.Now().UnixNano())
	tf, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, f, fmt.Errorf("create prune temp file: %w", err)
	}
	w := bufio.NewWriter(tf)
	for _, e := range kept {
		line, err := json.Marshal(e)
		if err != nil {
			tf.Close()
			os.Remove(tmpPath)
			return 0, f, err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tf.Close()
		os.Remove(tmpPath)
		return 0, f, err
	}
	if err := tf.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, f, err
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return 0, f, fmt.Errorf("rename pruned audit log: %w", err)
	}

	f.Close()
	newF, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return removed, nil, fmt.Errorf("reopen audit log after prune: %w", err)
	}
	return removed, newF, nil
}
