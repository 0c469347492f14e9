package model

import (
	"fmt"
	"maps"
	"time"
)

type TaskType string

const (
	TaskTypePlan     TaskType = "plan"
	TaskTypeReview   TaskType = "review"
	TaskTypeStatus   TaskType = "status"
	TaskTypeFollowup TaskType = "followup"
	TaskTypeApply    TaskType = "apply"
)

var validTaskTypes = map[TaskType]bool{
	TaskTypePlan:     true,
	TaskTypeReview:   true,
	TaskTypeStatus:   true,
	TaskTypeFollowup: true,
	TaskTypeApply:    true,
}

func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(s)
	if !validTaskTypes[t] {
		return "", fmt.Errorf("unknown task type: %q", s)
	}
	return t, nil
}

// MaxTaskRetries caps the retry counter; a task that has already failed this
// many times is abandoned rather than re-queued.
const MaxTaskRetries = 3

// Task is one unit of orchestrated work. The registry hands out snapshot
// copies only, so state changes always go through the transition table.
type Task struct {
	ID           string         `json:"id"`
	Type         TaskType       `json:"task_type"`
	Description  string         `json:"description"`
	Payload      map[string]any `json:"payload,omitempty"`
	State        State          `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
}

func NewTask(taskType TaskType, description string, payload map[string]any) (*Task, error) {
	if !validTaskTypes[taskType] {
		return nil, fmt.Errorf("unknown task type: %q", taskType)
	}
	id, err := NewTaskID()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}
	now := time.Now().UTC()
	return &Task{
		ID:          id,
		Type:        taskType,
		Description: description,
		Payload:     payload,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the task running. Callers validate the transition first.
func (t *Task) Start() {
	now := time.Now().UTC()
	t.State = StateRunning
	t.StartedAt = &now
	t.UpdatedAt = now
}

// Complete marks the task completed and records its result.
func (t *Task) Complete(result map[string]any) {
	now := time.Now().UTC()
	t.State = StateCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Result = result
}

// Fail marks the task failed and records the error message.
func (t *Task) Fail(message string) {
	t.State = StateFailed
	t.ErrorMessage = message
	t.UpdatedAt = time.Now().UTC()
}

// Retry moves a failed task back to pending and bumps the retry counter.
// The return value reports whether the task is still within the retry
// ceiling after the increment.
func (t *Task) Retry() bool {
	t.RetryCount++
	t.State = StatePending
	t.UpdatedAt = time.Now().UTC()
	return t.RetryCount <= MaxTaskRetries
}

// CanRetry reports whether a retry dispatch would be accepted.
func (t *Task) CanRetry() bool {
	return t.State == StateFailed && t.RetryCount < MaxTaskRetries
}

// Clone returns a snapshot copy. Payload/result maps and optional timestamps
// are copied one level deep so holders cannot reach back into the registry.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Payload = maps.Clone(t.Payload)
	cp.Result = maps.Clone(t.Result)
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

// DispatchAction names what the dispatch consumer should do with a task.
type DispatchAction string

const (
	ActionExecute DispatchAction = "execute"
	ActionRetry   DispatchAction = "retry"
	ActionCancel  DispatchAction = "cancel"
	ActionPause   DispatchAction = "pause"
	ActionResume  DispatchAction = "resume"
)

// DispatchRequest is one entry on the orchestrator's dispatch queue.
type DispatchRequest struct {
	TaskID string         `json:"task_id"`
	Action DispatchAction `json:"action"`
}
