// Package llm routes text-generation requests across provider backends.
// A Router owns one adapter per configured provider, a per-task-type
// routing policy and the retry/fallback loop; every generate call appends
// exactly one outcome record to an append-only JSONL audit log.
package llm

import (
	"fmt"

	"github.com/msageha/conductor/internal/model"
)

// Role tags one conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one role-tagged entry in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Request is a provider-agnostic generation request. TaskType drives the
// routing policy; Temperature and MaxTokens are optional overrides, nil
// means "use the policy/provider default".
type Request struct {
	ID          string         `json:"id"`
	TaskType    model.TaskType `json:"task_type"`
	Messages    []Message      `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
}

// NewRequest allocates a request id and wraps the conversation.
func NewRequest(taskType model.TaskType, messages []Message) (*Request, error) {
	id, err := model.GenerateID(model.IDTypeRequest)
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}
	return &Request{
		ID:       id,
		TaskType: taskType,
		Messages: messages,
	}, nil
}

// WithTemperature sets an explicit sampling temperature.
func (r *Request) WithTemperature(temperature float64) *Request {
	r.Temperature = &temperature
	return r
}

// WithMaxTokens sets an explicit completion token limit.
func (r *Request) WithMaxTokens(maxTokens int) *Request {
	r.MaxTokens = &maxTokens
	return r
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider-agnostic result of one generation.
type Response struct {
	ID         string         `json:"id"`
	Provider   model.Provider `json:"provider"`
	Model      string         `json:"model"`
	Content    string         `json:"content"`
	Usage      Usage          `json:"usage"`
	DurationMS int64          `json:"duration_ms"`
	CostCents  *int           `json:"cost_cents,omitempty"`
}
