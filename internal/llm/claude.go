package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/msageha/conductor/internal/model"
)

const anthropicVersion = "2023-06-01"

// Claude 3.5 Sonnet pricing: $3/1M input tokens, $15/1M output tokens.
const (
	claudePromptCentsPerToken     = 0.0003
	claudeCompletionCentsPerToken = 0.0015
)

// ClaudeAdapter speaks the Anthropic Messages API.
type ClaudeAdapter struct {
	cfg        model.ProviderConfig
	httpClient *http.Client
}

func NewClaudeAdapter(cfg model.ProviderConfig) *ClaudeAdapter {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if cfg.TimeoutMS <= 0 {
		timeout = 30 * time.Second
	}
	return &ClaudeAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// claudeRequest is the Messages API request body.
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Usage   claudeUsage          `json:"usage"`
	Content []claudeContentBlock `json:"content"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeErrorResponse struct {
	Error claudeError `json:"error"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (a *ClaudeAdapter) buildRequest(req *Request) claudeRequest {
	messages := make([]claudeMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = claudeMessage{
			Role:    mapClaudeRole(msg.Role),
			Content: msg.Content,
		}
	}

	maxTokens := a.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature := 0.7
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	return claudeRequest{
		Model:       a.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    messages,
	}
}

// mapClaudeRole folds the system role into user. The Messages API has no
// system role inside the message list, so system turns are sent as user
// turns and the distinction is lost.
func mapClaudeRole(role Role) string {
	switch role {
	case RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

func (a *ClaudeAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", a.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestFailedError{Message: fmt.Sprintf("http request failed: %v", err)}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &RequestFailedError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.classifyError(httpResp.StatusCode, body)
	}

	var apiResp claudeResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &RequestFailedError{Message: fmt.Sprintf("parse claude response: %v", err)}
	}

	return a.parseResponse(req.ID, &apiResp, time.Since(start).Milliseconds()), nil
}

func (a *ClaudeAdapter) classifyError(status int, body []byte) error {
	var errResp claudeErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Type != "" {
		if errResp.Error.Type == "rate_limit_error" || status == http.StatusTooManyRequests {
			return &RateLimitedError{Provider: model.ProviderClaude}
		}
		return &RequestFailedError{Message: fmt.Sprintf("claude api error: %s", errResp.Error.Message)}
	}
	if status == http.StatusTooManyRequests {
		return &RateLimitedError{Provider: model.ProviderClaude}
	}
	return &RequestFailedError{Message: fmt.Sprintf("claude api status %d: %s", status, body)}
}

func (a *ClaudeAdapter) parseResponse(requestID string, apiResp *claudeResponse, durationMS int64) *Response {
	var parts []string
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}

	usage := Usage{
		PromptTokens:     apiResp.Usage.InputTokens,
		CompletionTokens: apiResp.Usage.OutputTokens,
		TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
	}
	costCents := int(float64(usage.PromptTokens)*claudePromptCentsPerToken +
		float64(usage.CompletionTokens)*claudeCompletionCentsPerToken)

	return &Response{
		ID:         requestID,
		Provider:   model.ProviderClaude,
		Model:      apiResp.Model,
		Content:    strings.Join(parts, "\n"),
		Usage:      usage,
		DurationMS: durationMS,
		CostCents:  &costCents,
	}
}

func (a *ClaudeAdapter) Name() model.Provider {
	return model.ProviderClaude
}

func (a *ClaudeAdapter) Available() bool {
	return credentialUsable(a.cfg.APIKey)
}
