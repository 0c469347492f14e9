// Package workflow turns orchestrated tasks into provider calls and wraps
// their outcomes in a uniform result record. The plan workflow additionally
// parses the provider's response into a structured task plan.
package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/msageha/conductor/internal/model"
)

// Type names the workflow a task executes as.
type Type string

const (
	TypePlan     Type = "plan"
	TypeEdit     Type = "edit"
	TypeReview   Type = "review"
	TypeApply    Type = "apply"
	TypeFollowup Type = "followup"
)

// Status is the lifecycle state of one workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TypeForTask maps a task type onto the workflow that executes it. Status
// checks ride the followup workflow since both are conversational.
func TypeForTask(t model.TaskType) Type {
	switch t {
	case model.TaskTypePlan:
		return TypePlan
	case model.TaskTypeReview:
		return TypeReview
	case model.TaskTypeApply:
		return TypeApply
	default:
		return TypeFollowup
	}
}

// Result records one workflow execution end to end. It round-trips through
// JSON unchanged, which is how it lands in the task registry and the event
// log.
type Result struct {
	WorkflowID   string         `json:"workflow_id"`
	Type         Type           `json:"workflow_type"`
	Status       Status         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	InputData    map[string]any `json:"input_data"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Artifacts    []string       `json:"artifacts,omitempty"`
}

// NewResult opens a running result for the given workflow.
func NewResult(wfType Type, input map[string]any) (*Result, error) {
	id, err := model.GenerateID(model.IDTypeWorkflow)
	if err != nil {
		return nil, fmt.Errorf("generate workflow id: %w", err)
	}
	return &Result{
		WorkflowID: id,
		Type:       wfType,
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
		InputData:  input,
	}, nil
}

// MarkCompleted closes the result with its output and any produced files.
func (r *Result) MarkCompleted(output map[string]any, artifacts ...string) {
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.CompletedAt = &now
	r.OutputData = output
	r.Artifacts = append(r.Artifacts, artifacts...)
}

// MarkFailed closes the result with an error message.
func (r *Result) MarkFailed(message string) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.CompletedAt = &now
	r.ErrorMessage = message
}

// AsMap renders the result through its JSON form, which is the shape the
// task registry stores.
func (r *Result) AsMap() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow result: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal workflow result: %w", err)
	}
	return m, nil
}
