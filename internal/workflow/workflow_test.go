package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/conductor/internal/model"
)

func TestNewResult(t *testing.T) {
	result, err := NewResult(TypePlan, map[string]any{"task_id": "abc"})
	require.NoError(t, err)

	assert.True(t, model.ValidateID(result.WorkflowID))
	idType, err := model.ParseIDType(result.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, model.IDTypeWorkflow, idType)

	assert.Equal(t, StatusRunning, result.Status)
	assert.Nil(t, result.CompletedAt)
	assert.Equal(t, map[string]any{"task_id": "abc"}, result.InputData)
}

func TestResult_MarkCompleted(t *testing.T) {
	result, err := NewResult(TypeReview, nil)
	require.NoError(t, err)

	result.MarkCompleted(map[string]any{"content": "looks good"}, "reviews/out.md")

	assert.Equal(t, StatusCompleted, result.Status)
	require.NotNil(t, result.CompletedAt)
	assert.False(t, result.CompletedAt.Before(result.StartedAt))
	assert.Equal(t, "looks good", result.OutputData["content"])
	assert.Equal(t, []string{"reviews/out.md"}, result.Artifacts)
	assert.Empty(t, result.ErrorMessage)
}

func TestResult_MarkFailed(t *testing.T) {
	result, err := NewResult(TypeApply, nil)
	require.NoError(t, err)

	result.MarkFailed("provider unreachable")

	assert.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.CompletedAt)
	assert.Equal(t, "provider unreachable", result.ErrorMessage)
	assert.Nil(t, result.OutputData)
}

func TestResult_JSONRoundTrip(t *testing.T) {
	result, err := NewResult(TypePlan, map[string]any{"sprint_file": "sprint-01.md"})
	require.NoError(t, err)
	result.MarkCompleted(map[string]any{"content": "plan body"}, "plans/p.plan.json")

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, *result, decoded)

	// Wire names stay snake_case.
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	for _, key := range []string{"workflow_id", "workflow_type", "status", "started_at", "completed_at", "input_data", "output_data", "artifacts"} {
		assert.Contains(t, asMap, key)
	}
	assert.NotContains(t, asMap, "error_message")
}

func TestResult_AsMap(t *testing.T) {
	result, err := NewResult(TypeFollowup, nil)
	require.NoError(t, err)
	result.MarkCompleted(map[string]any{"tokens_used": 42})

	m, err := result.AsMap()
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), m["status"])
	assert.Equal(t, result.WorkflowID, m["workflow_id"])

	output, ok := m["output_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), output["tokens_used"])
}

func TestTypeForTask(t *testing.T) {
	tests := []struct {
		taskType model.TaskType
		want     Type
	}{
		{model.TaskTypePlan, TypePlan},
		{model.TaskTypeReview, TypeReview},
		{model.TaskTypeApply, TypeApply},
		{model.TaskTypeStatus, TypeFollowup},
		{model.TaskTypeFollowup, TypeFollowup},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeForTask(tt.taskType), "task type %s", tt.taskType)
	}
}
