package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/msageha/conductor/internal/model"
)

// PlanTaskKind classifies one planned task.
type PlanTaskKind string

const (
	PlanTaskImplementation PlanTaskKind = "implementation"
	PlanTaskRefactor       PlanTaskKind = "refactor"
	PlanTaskTesting        PlanTaskKind = "testing"
	PlanTaskDocumentation  PlanTaskKind = "documentation"
	PlanTaskConfiguration  PlanTaskKind = "configuration"
)

// Priority rates a plan's overall urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

const (
	defaultTaskMinutes  = 60
	defaultPlanDuration = 240
)

// PlanTask is one actionable unit inside a task plan.
type PlanTask struct {
	TaskID             string       `json:"task_id"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	FileTargets        []string     `json:"file_targets"`
	EstimatedMinutes   int          `json:"estimated_minutes"`
	TaskType           PlanTaskKind `json:"task_type"`
	ValidationCriteria []string     `json:"validation_criteria"`
}

// TaskPlan is the structured output of the plan workflow.
type TaskPlan struct {
	PlanID                   string     `json:"plan_id"`
	CreatedAt                time.Time  `json:"created_at"`
	SprintFile               string     `json:"sprint_file"`
	Overview                 string     `json:"overview"`
	Tasks                    []PlanTask `json:"tasks"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes"`
	Priority                 Priority   `json:"priority"`
	Dependencies             []string   `json:"dependencies"`
}

// BuildPlanPrompt renders the planning instruction around the sprint text.
func BuildPlanPrompt(sprintContent string) string {
	return fmt.Sprintf(`You are a senior software architect and project manager. Analyze the following sprint document and create a detailed implementation plan.

SPRINT CONTENT:
%s

Create a structured task plan with the following requirements:

1. OVERVIEW: summarize the main goals and deliverables.
2. TASKS: break the work into specific, actionable tasks, each with a clear title and description, the files it targets, a time estimate in minutes, a task type (implementation, refactor, testing, documentation, configuration) and validation criteria for completion.
3. DEPENDENCIES: identify task dependencies and execution order.
4. PRIORITY: assess overall priority (low, medium, high, critical).
5. DURATION: estimate total implementation time in minutes.

Respond with a single JSON object matching this format:
{
  "overview": "Brief description of what will be accomplished",
  "tasks": [
    {
      "task_id": "unique-id",
      "title": "Task title",
      "description": "Detailed description",
      "file_targets": ["path/to/file"],
      "estimated_minutes": 60,
      "task_type": "implementation",
      "validation_criteria": ["How to verify completion"]
    }
  ],
  "estimated_duration_minutes": 240,
  "priority": "high",
  "dependencies": ["task-id-1"]
}
`, sprintContent)
}

// planPayload mirrors the JSON shape the prompt asks for. Field-level
// defaults are applied after decoding, not during.
type planPayload struct {
	Overview                 string            `json:"overview"`
	Tasks                    []planTaskPayload `json:"tasks"`
	EstimatedDurationMinutes int               `json:"estimated_duration_minutes"`
	Priority                 string            `json:"priority"`
	Dependencies             []string          `json:"dependencies"`
}

type planTaskPayload struct {
	TaskID             string   `json:"task_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	FileTargets        []string `json:"file_targets"`
	EstimatedMinutes   int      `json:"estimated_minutes"`
	TaskType           string   `json:"task_type"`
	ValidationCriteria []string `json:"validation_criteria"`
}

// ParsePlanResponse extracts the JSON object embedded in a provider
// response and normalizes it into a TaskPlan. Responses that do not carry
// a decodable object degrade to the fallback plan rather than failing the
// workflow.
func ParsePlanResponse(content, sprintFile string) (*TaskPlan, error) {
	var raw planPayload
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &raw); err != nil {
		return FallbackPlan(sprintFile)
	}

	id, err := model.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("generate plan id: %w", err)
	}

	tasks := make([]PlanTask, 0, len(raw.Tasks))
	for i, t := range raw.Tasks {
		if t.TaskID == "" {
			t.TaskID = fmt.Sprintf("task-%d", i+1)
		}
		if t.Title == "" {
			t.Title = "Unnamed Task"
		}
		if t.Description == "" {
			t.Description = "No description"
		}
		if t.EstimatedMinutes <= 0 {
			t.EstimatedMinutes = defaultTaskMinutes
		}
		if len(t.ValidationCriteria) == 0 {
			t.ValidationCriteria = []string{"Task completed successfully"}
		}
		tasks = append(tasks, PlanTask{
			TaskID:             t.TaskID,
			Title:              t.Title,
			Description:        t.Description,
			FileTargets:        t.FileTargets,
			EstimatedMinutes:   t.EstimatedMinutes,
			TaskType:           parsePlanTaskKind(t.TaskType),
			ValidationCriteria: t.ValidationCriteria,
		})
	}

	plan := &TaskPlan{
		PlanID:                   id,
		CreatedAt:                time.Now().UTC(),
		SprintFile:               sprintFile,
		Overview:                 raw.Overview,
		Tasks:                    tasks,
		EstimatedDurationMinutes: raw.EstimatedDurationMinutes,
		Priority:                 parsePriority(raw.Priority),
		Dependencies:             raw.Dependencies,
	}
	if plan.Overview == "" {
		plan.Overview = "Generated task plan"
	}
	if plan.EstimatedDurationMinutes <= 0 {
		plan.EstimatedDurationMinutes = defaultPlanDuration
	}
	if plan.Dependencies == nil {
		plan.Dependencies = []string{}
	}
	return plan, nil
}

// FallbackPlan is the plan used when the provider response cannot be
// decoded: a fixed analyze/implement/test breakdown.
func FallbackPlan(sprintFile string) (*TaskPlan, error) {
	id, err := model.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("generate plan id: %w", err)
	}
	return &TaskPlan{
		PlanID:     id,
		CreatedAt:  time.Now().UTC(),
		SprintFile: sprintFile,
		Overview:   "Fallback implementation plan based on content analysis",
		Tasks: []PlanTask{
			{
				TaskID:             "analyze-requirements",
				Title:              "Analyze Requirements",
				Description:        "Review and understand the requirements from the sprint document",
				FileTargets:        []string{},
				EstimatedMinutes:   30,
				TaskType:           PlanTaskDocumentation,
				ValidationCriteria: []string{"Requirements clearly documented and understood"},
			},
			{
				TaskID:             "implement-core-logic",
				Title:              "Implement Core Logic",
				Description:        "Implement the main functionality as described in the requirements",
				FileTargets:        []string{},
				EstimatedMinutes:   120,
				TaskType:           PlanTaskImplementation,
				ValidationCriteria: []string{"Core logic implemented and compiles without errors"},
			},
			{
				TaskID:             "add-comprehensive-tests",
				Title:              "Add Comprehensive Tests",
				Description:        "Create thorough test coverage for all implemented functionality",
				FileTargets:        []string{},
				EstimatedMinutes:   90,
				TaskType:           PlanTaskTesting,
				ValidationCriteria: []string{"All tests pass"},
			},
		},
		EstimatedDurationMinutes: defaultPlanDuration,
		Priority:                 PriorityMedium,
		Dependencies:             []string{"analyze-requirements"},
	}, nil
}

// extractJSONObject returns the substring from the first '{' through the
// last '}'. Without both brackets the input passes through unchanged.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		return s
	}
	return s[start : end+1]
}

func parsePlanTaskKind(s string) PlanTaskKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "refactor":
		return PlanTaskRefactor
	case "testing":
		return PlanTaskTesting
	case "documentation":
		return PlanTaskDocumentation
	case "configuration":
		return PlanTaskConfiguration
	default:
		return PlanTaskImplementation
	}
}

func parsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}
