package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/conductor/internal/model"
)

func claudeTestConfig(baseURL string) model.ProviderConfig {
	return model.ProviderConfig{
		APIKey:    "sk-test",
		BaseURL:   baseURL,
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 4096,
		TimeoutMS: 5000,
	}
}

func planRequest(t *testing.T, messages ...Message) *Request {
	t.Helper()
	req, err := NewRequest(model.TaskTypePlan, messages)
	require.NoError(t, err)
	return req
}

func TestClaudeAdapter_Generate(t *testing.T) {
	var gotBody claudeRequest
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg_01",
			"model": "claude-3-5-sonnet-20241022",
			"usage": map[string]int{"input_tokens": 10000, "output_tokens": 2000},
			"content": []map[string]string{
				{"type": "text", "text": "first block"},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "second block"},
			},
		})
	}))
	defer server.Close()

	adapter := NewClaudeAdapter(claudeTestConfig(server.URL))
	req := planRequest(t, UserMessage("hello")).WithTemperature(0.3).WithMaxTokens(2000)

	resp, err := adapter.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", gotHeaders.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", gotHeaders.Get("anthropic-version"))
	assert.Equal(t, "claude-3-5-sonnet-20241022", gotBody.Model)
	assert.Equal(t, 2000, gotBody.MaxTokens)
	assert.Equal(t, 0.3, gotBody.Temperature)

	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, model.ProviderClaude, resp.Provider)
	// Only text blocks survive, joined by newline.
	assert.Equal(t, "first block\nsecond block", resp.Content)
	assert.Equal(t, 12000, resp.Usage.TotalTokens)
	// 10000*0.0003 + 2000*0.0015 = 6 cents.
	require.NotNil(t, resp.CostCents)
	assert.Equal(t, 6, *resp.CostCents)
}

func TestClaudeAdapter_RoleFold(t *testing.T) {
	var gotBody claudeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_01", "model": "m",
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
			"content": []map[string]string{{"type": "text", "text": "ok"}},
		})
	}))
	defer server.Close()

	adapter := NewClaudeAdapter(claudeTestConfig(server.URL))
	req := planRequest(t,
		SystemMessage("you are terse"),
		UserMessage("hello"),
		AssistantMessage("hi"),
	)

	_, err := adapter.Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, gotBody.Messages, 3)
	// System folds into user; the other roles pass through.
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "user", gotBody.Messages[1].Role)
	assert.Equal(t, "assistant", gotBody.Messages[2].Role)
}

func TestClaudeAdapter_Defaults(t *testing.T) {
	var gotBody claudeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_01", "model": "m",
			"usage":   map[string]int{"input_tokens": 1, "output_tokens": 1},
			"content": []map[string]string{{"type": "text", "text": "ok"}},
		})
	}))
	defer server.Close()

	adapter := NewClaudeAdapter(claudeTestConfig(server.URL))
	_, err := adapter.Generate(context.Background(), planRequest(t, UserMessage("hello")))
	require.NoError(t, err)

	assert.Equal(t, 4096, gotBody.MaxTokens, "config max_tokens applies when request has none")
	assert.Equal(t, 0.7, gotBody.Temperature, "neutral temperature applies when request has none")
}

func TestClaudeAdapter_RateLimitClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"typed error", http.StatusTooManyRequests,
			`{"error":{"type":"rate_limit_error","message":"slow down"}}`},
		{"bare 429", http.StatusTooManyRequests, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewClaudeAdapter(claudeTestConfig(server.URL))
			_, err := adapter.Generate(context.Background(), planRequest(t, UserMessage("hello")))

			var rateErr *RateLimitedError
			require.ErrorAs(t, err, &rateErr)
			assert.Equal(t, model.ProviderClaude, rateErr.Provider)
		})
	}
}

func TestClaudeAdapter_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer server.Close()

	adapter := NewClaudeAdapter(claudeTestConfig(server.URL))
	_, err := adapter.Generate(context.Background(), planRequest(t, UserMessage("hello")))

	var reqErr *RequestFailedError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Message, "bad model")
}

func TestClaudeAdapter_Available(t *testing.T) {
	tests := []struct {
		apiKey string
		want   bool
	}{
		{"sk-real-key", true},
		{"", false},
		{"${ANTHROPIC_API_KEY}", false},
	}
	for _, tt := range tests {
		cfg := claudeTestConfig("https://api.anthropic.com/v1")
		cfg.APIKey = tt.apiKey
		adapter := NewClaudeAdapter(cfg)
		assert.Equal(t, tt.want, adapter.Available(), "api_key=%q", tt.apiKey)
	}
}

func TestClaudeAdapter_Name(t *testing.T) {
	adapter := NewClaudeAdapter(claudeTestConfig(""))
	assert.Equal(t, model.ProviderClaude, adapter.Name())
}
