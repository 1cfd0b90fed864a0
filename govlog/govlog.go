// Package govlog implements the Governance Log (C10): an append-only,
// advisory-only audit trail of workflow events, one JSON object per line.
// It is never read back by the engine — only by operators and external
// tooling — so writes are best-effort from the caller's perspective (a
// write failure is reported, but never blocks or reverses a workflow
// transition). Grounded on the teacher's use of sirupsen/logrus for
// structured records and natefinch/lumberjack for rotation (promoted from
// an indirect dependency per DESIGN.md's Open Question Decision #3).
package govlog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventKind enumerates the six event kinds spec §4.9 names.
type EventKind string

const (
	EventWorkflowStarted  EventKind = "workflow_started"
	EventNodeCompleted    EventKind = "node_completed"
	EventReviewRequested  EventKind = "review_requested"
	EventReviewCompleted  EventKind = "review_completed"
	EventWorkflowFinalize EventKind = "workflow_finalized"
	EventWorkflowAborted  EventKind = "workflow_aborted"
)

// Event is one line of the governance log. ID is a stable, non-sequential
// identifier for the entry itself — unlike ThreadID, which repeats across
// every event belonging to the same workflow instance, ID never repeats,
// so a single entry can be referenced (e.g. from an external ticket) even
// after the log file has rotated.
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       EventKind      `json:"kind"`
	ThreadID   string         `json:"thread_id"`
	Stage      string         `json:"stage,omitempty"`
	Node       string         `json:"node,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Logger appends Events to a rotated file, one JSON object per line.
type Logger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// Options configures log rotation, mirroring config.Config's
// GovernanceLogMaxSizeMB/MaxBackups/MaxAgeDays fields.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func Open(opts Options) *Logger {
	return &Logger{
		w: &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		},
	}
}

// OpenWriter wraps an arbitrary writer (tests use this to avoid touching
// disk); production callers use Open.
func OpenWriter(w io.WriteCloser) *Logger {
	return &Logger{w: w}
}

// Append writes ev as one JSON line. Best-effort: a write error is
// returned to the caller to log, never raised as a workflow failure.
func (l *Logger) Append(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal governance log event: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.w.Write(line); err != nil {
		return fmt.Errorf("write governance log event: %w", err)
	}
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
