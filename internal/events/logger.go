// Package events provides the append-only audit trail for task lifecycle
// activity. A Logger owns one run session: a directory holding a JSONL
// event log plus a pretty-printed summary written on finalize. A Bus fans
// the same events out to in-process subscribers.
package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/msageha/conductor/internal/model"
)

// EventKind classifies one audit record.
type EventKind string

const (
	EventTaskCreated     EventKind = "task_created"
	EventTaskStarted     EventKind = "task_started"
	EventTaskCompleted   EventKind = "task_completed"
	EventTaskFailed      EventKind = "task_failed"
	EventTaskCancelled   EventKind = "task_cancelled"
	EventTaskRetried     EventKind = "task_retried"
	EventStateTransition EventKind = "state_transition"
)

var validEventKinds = map[EventKind]bool{
	EventTaskCreated:     true,
	EventTaskStarted:     true,
	EventTaskCompleted:   true,
	EventTaskFailed:      true,
	EventTaskCancelled:   true,
	EventTaskRetried:     true,
	EventStateTransition: true,
}

// TaskEvent is one immutable audit record. Ordering within a session file
// is call order; records are never rewritten.
type TaskEvent struct {
	EventID   string         `json:"event_id"`
	TaskID    string         `json:"task_id"`
	Type      EventKind      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// RunSession mirrors one session's on-disk log in memory.
type RunSession struct {
	SessionID string      `json:"session_id"`
	StartTime time.Time   `json:"start_time"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	Events    []TaskEvent `json:"events"`
}

// Logger appends task events to a session-scoped JSONL file. One Logger
// exclusively owns its session directory; instances must not be shared
// across sessions.
type Logger struct {
	mu         sync.Mutex
	sessionDir string
	file       *os.File
	session    RunSession
	bus        *Bus
}

const (
	eventLogName   = "events.jsonl"
	runSummaryName = "run.json"
)

// NewLogger allocates a session id, creates the session directory under
// baseDir and opens its event log. A nil bus disables fan-out.
func NewLogger(baseDir string, bus *Bus) (*Logger, error) {
	sessionID, err := model.RandomHex(4)
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	start := time.Now().UTC()
	sessionDir := filepath.Join(baseDir,
		fmt.Sprintf("%s_%s", start.Format("20060102_150405"), sessionID))
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(sessionDir, eventLogName),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	return &Logger{
		sessionDir: sessionDir,
		file:       file,
		session: RunSession{
			SessionID: sessionID,
			StartTime: start,
		},
		bus: bus,
	}, nil
}

func (l *Logger) append(kind EventKind, taskID string, details map[string]any) error {
	eventID, err := model.GenerateID(model.IDTypeEvent)
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	event := TaskEvent{
		EventID:   eventID,
		TaskID:    taskID,
		Type:      kind,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}

	l.mu.Lock()
	l.session.Events = append(l.session.Events, event)
	writeErr := l.writeLocked(event)
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(event)
	}
	return writeErr
}

func (l *Logger) writeLocked(event TaskEvent) error {
	if l.file == nil {
		return fmt.Errorf("event log already closed")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

// LogTaskCreated records a submission with its type, description and payload.
func (l *Logger) LogTaskCreated(task *model.Task) error {
	return l.append(EventTaskCreated, task.ID, map[string]any{
		"task_type":   task.Type,
		"description": task.Description,
		"payload":     task.Payload,
	})
}

func (l *Logger) LogTaskStarted(taskID string) error {
	return l.append(EventTaskStarted, taskID, nil)
}

func (l *Logger) LogTaskCompleted(taskID string, result map[string]any) error {
	return l.append(EventTaskCompleted, taskID, map[string]any{
		"result": result,
	})
}

func (l *Logger) LogTaskFailed(taskID string, errMsg string) error {
	return l.append(EventTaskFailed, taskID, map[string]any{
		"error": errMsg,
	})
}

func (l *Logger) LogTaskCancelled(taskID string) error {
	return l.append(EventTaskCancelled, taskID, nil)
}

func (l *Logger) LogTaskRetried(taskID string, retryCount int) error {
	return l.append(EventTaskRetried, taskID, map[string]any{
		"retry_count": retryCount,
	})
}

func (l *Logger) LogStateTransition(taskID string, from, to model.State) error {
	return l.append(EventStateTransition, taskID, map[string]any{
		"from_state": from,
		"to_state":   to,
	})
}

// FinalizeSession stamps the end time, writes the pretty-printed session
// summary next to the event log and closes the log file.
func (l *Logger) FinalizeSession() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	l.session.EndTime = &now

	summary, err := json.MarshalIndent(l.session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.sessionDir, runSummaryName), summary, 0644); err != nil {
		return fmt.Errorf("write session summary: %w", err)
	}
	return l.closeLocked()
}

// Close releases the event log file without writing a summary. Safe to call
// after FinalizeSession.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Logger) closeLocked() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

// SessionID returns the current session's identifier.
func (l *Logger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.SessionID
}

// SessionDir returns the directory holding this session's log files.
func (l *Logger) SessionDir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionDir
}

// Events returns a snapshot of the in-memory event list.
func (l *Logger) Events() []TaskEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TaskEvent, len(l.session.Events))
	copy(out, l.session.Events)
	return out
}

// VerifyLog scans an event log file and reports (total, valid) entry
// counts. Total counts non-empty lines; an entry is valid when it decodes
// and carries well-formed ids and a known kind.
func VerifyLog(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	total := 0
	valid := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		total++
		var event TaskEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if model.ValidateID(event.EventID) && model.ValidateTaskID(event.TaskID) && validEventKinds[event.Type] {
			valid++
		}
	}
	if err := scanner.Err(); err != nil {
		return total, valid, fmt.Errorf("scan event log: %w", err)
	}
	return total, valid, nil
}
