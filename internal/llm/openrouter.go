package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/msageha/conductor/internal/model"
)

const (
	openRouterReferer = "https://github.com/msageha/conductor"
	openRouterTitle   = "conductor"
)

// Conservative blended estimate: $0.5/1M input tokens, $2/1M output tokens.
// Actual OpenRouter pricing varies per model.
const (
	openRouterPromptCentsPerToken     = 0.00005
	openRouterCompletionCentsPerToken = 0.0002
)

// OpenRouterAdapter speaks the OpenAI-compatible chat completions API.
type OpenRouterAdapter struct {
	cfg        model.ProviderConfig
	httpClient *http.Client
}

func NewOpenRouterAdapter(cfg model.ProviderConfig) *OpenRouterAdapter {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if cfg.TimeoutMS <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenRouterAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Usage   chatUsage    `json:"usage"`
	Choices []chatChoice `json:"choices"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatErrorResponse struct {
	Error chatError `json:"error"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func (a *OpenRouterAdapter) buildRequest(req *Request) chatRequest {
	messages := make([]chatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		// The chat API keeps all three roles, no folding needed.
		messages[i] = chatMessage{
			Role:    string(msg.Role),
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

	return chatRequest{
		Model:       a.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    messages,
	}
}

func (a *OpenRouterAdapter) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	payload, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", a.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	httpReq.Header.Set("HTTP-Referer", openRouterReferer)
	httpReq.Header.Set("X-Title", openRouterTitle)

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

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &RequestFailedError{Message: fmt.Sprintf("parse openrouter response: %v", err)}
	}

	return a.parseResponse(req.ID, &apiResp, time.Since(start).Milliseconds())
}

func (a *OpenRouterAdapter) classifyError(status int, body []byte) error {
	var errResp chatErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Code == "rate_limit_exceeded" || status == http.StatusTooManyRequests {
			return &RateLimitedError{Provider: model.ProviderOpenRouter}
		}
		return &RequestFailedError{Message: fmt.Sprintf("openrouter api error: %s", errResp.Error.Message)}
	}
	if status == http.StatusTooManyRequests {
		return &RateLimitedError{Provider: model.ProviderOpenRouter}
	}
	return &RequestFailedError{Message: fmt.Sprintf("openrouter api status %d: %s", status, body)}
}

func (a *OpenRouterAdapter) parseResponse(requestID string, apiResp *chatResponse, durationMS int64) (*Response, error) {
	if len(apiResp.Choices) == 0 {
		return nil, &RequestFailedError{Message: "openrouter response has no choices"}
	}
	choice := apiResp.Choices[0]

	usage := Usage{
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		TotalTokens:      apiResp.Usage.TotalTokens,
	}
	costCents := int(float64(usage.PromptTokens)*openRouterPromptCentsPerToken +
		float64(usage.CompletionTokens)*openRouterCompletionCentsPerToken)

	return &Response{
		ID:         requestID,
		Provider:   model.ProviderOpenRouter,
		Model:      apiResp.Model,
		Content:    choice.Message.Content,
		Usage:      usage,
		DurationMS: durationMS,
		CostCents:  &costCents,
	}, nil
}

func (a *OpenRouterAdapter) Name() model.Provider {
	return model.ProviderOpenRouter
}

func (a *OpenRouterAdapter) Available() bool {
	return credentialUsable(a.cfg.APIKey)
}
