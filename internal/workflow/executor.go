package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/conductor/internal/llm"
	"github.com/msageha/conductor/internal/model"
)

// Generator is the slice of the provider router the executor depends on.
type Generator interface {
	Generate(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// LLMExecutor runs orchestrated tasks as single provider calls and wraps
// each outcome in a workflow result. It satisfies the orchestrator's
// executor contract.
type LLMExecutor struct {
	router   Generator
	basePath string
}

// NewLLMExecutor builds an executor. basePath is where plan artifacts are
// written; an empty path disables artifact writes.
func NewLLMExecutor(router Generator, basePath string) *LLMExecutor {
	return &LLMExecutor{router: router, basePath: basePath}
}

// Execute routes one generate call for the task and returns the completed
// workflow result as the task's result payload. Routing errors propagate
// so the orchestrator marks the task failed with the router's message.
func (e *LLMExecutor) Execute(ctx context.Context, task *model.Task) (map[string]any, error) {
	result, err := NewResult(TypeForTask(task.Type), map[string]any{
		"task_id":     task.ID,
		"description": task.Description,
		"payload":     task.Payload,
	})
	if err != nil {
		return nil, err
	}

	req, err := llm.NewRequest(task.Type, messagesFor(task))
	if err != nil {
		return nil, err
	}

	resp, err := e.router.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate for task %s: %w", task.ID, err)
	}

	output := map[string]any{
		"content":     resp.Content,
		"provider":    string(resp.Provider),
		"model":       resp.Model,
		"tokens_used": resp.Usage.TotalTokens,
	}
	if resp.CostCents != nil {
		output["cost_cents"] = *resp.CostCents
	}

	var artifacts []string
	if task.Type == model.TaskTypePlan {
		plan, err := ParsePlanResponse(resp.Content, sprintFileFor(task))
		if err != nil {
			return nil, err
		}
		planMap, err := planAsMap(plan)
		if err != nil {
			return nil, err
		}
		output["plan"] = planMap

		path, err := e.writePlanArtifact(plan)
		if err != nil {
			return nil, err
		}
		if path != "" {
			artifacts = append(artifacts, path)
		}
	}

	result.MarkCompleted(output, artifacts...)
	return result.AsMap()
}

// messagesFor builds the per-task-type message list sent to the router.
func messagesFor(task *model.Task) []llm.Message {
	switch task.Type {
	case model.TaskTypePlan:
		return []llm.Message{llm.UserMessage(BuildPlanPrompt(sprintContentFor(task)))}

	case model.TaskTypeReview:
		content := task.Description
		if diff, ok := task.Payload["diff"].(string); ok && diff != "" {
			content = fmt.Sprintf("%s\n\nDIFF:\n%s", content, diff)
		}
		return []llm.Message{
			llm.SystemMessage("You are a meticulous senior engineer reviewing a proposed change. Respond with sections SUMMARY, SECURITY, PERFORMANCE and ARCHITECTURE, then rate maintainability on a scale of 1-10."),
			llm.UserMessage(content),
		}

	case model.TaskTypeStatus:
		return []llm.Message{
			llm.UserMessage(fmt.Sprintf("Summarize the current state of the following work in three sentences or fewer:\n\n%s", task.Description)),
		}

	case model.TaskTypeApply:
		return []llm.Message{
			llm.SystemMessage("You apply planned changes exactly as specified. List each change you would make and flag anything that cannot be applied as written."),
			llm.UserMessage(task.Description),
		}

	default:
		return []llm.Message{llm.UserMessage(task.Description)}
	}
}

// sprintContentFor prefers an explicit sprint document in the payload over
// the task description.
func sprintContentFor(task *model.Task) string {
	if content, ok := task.Payload["sprint_content"].(string); ok && content != "" {
		return content
	}
	return task.Description
}

func sprintFileFor(task *model.Task) string {
	if file, ok := task.Payload["sprint_file"].(string); ok {
		return file
	}
	return ""
}

// writePlanArtifact persists the plan under <basePath>/plans.
func (e *LLMExecutor) writePlanArtifact(plan *TaskPlan) (string, error) {
	if e.basePath == "" {
		return "", nil
	}
	plansDir := filepath.Join(e.basePath, "plans")
	if err := os.MkdirAll(plansDir, 0o755); err != nil {
		return "", fmt.Errorf("create plans directory: %w", err)
	}
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	path := filepath.Join(plansDir, plan.PlanID+".plan.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write plan artifact: %w", err)
	}
	return path, nil
}

func planAsMap(plan *TaskPlan) (map[string]any, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return m, nil
}
