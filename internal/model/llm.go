package model

// Provider identifies one text-generation backend. ProviderOffline is a
// sentinel used in audit records when no real provider served a request.
type Provider string

const (
	ProviderClaude     Provider = "claude"
	ProviderOpenRouter Provider = "openrouter"
	ProviderOffline    Provider = "offline"
)

var validProviders = map[Provider]bool{
	ProviderClaude:     true,
	ProviderOpenRouter: true,
}

// ProviderConfig holds one backend's credentials and limits. Read-only after
// construction; hot reload is out of scope.
type ProviderConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// RouteConfig is the per-task-type routing policy entry.
type RouteConfig struct {
	Provider    Provider `yaml:"provider"`
	Temperature float64  `yaml:"temperature"`
}

type LLMConfig struct {
	DefaultProvider Provider                    `yaml:"default_provider"`
	TimeoutMS       int                         `yaml:"timeout_ms"`
	MaxRetries      int                         `yaml:"max_retries"`
	OfflineMode     bool                        `yaml:"offline_mode"`
	Providers       map[Provider]ProviderConfig `yaml:"providers"`
	Routing         map[TaskType]RouteConfig    `yaml:"routing"`
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: ProviderClaude,
		TimeoutMS:       30000,
		MaxRetries:      3,
		OfflineMode:     false,
		Providers: map[Provider]ProviderConfig{
			ProviderClaude: {
				APIKey:    "${ANTHROPIC_API_KEY}",
				BaseURL:   "https://api.anthropic.com/v1",
				Model:     "claude-3-5-sonnet-20241022",
				MaxTokens: 4096,
				TimeoutMS: 30000,
			},
			ProviderOpenRouter: {
				APIKey:    "${OPENROUTER_API_KEY}",
				BaseURL:   "https://openrouter.ai/api/v1",
				Model:     "anthropic/claude-3.5-sonnet",
				MaxTokens: 4096,
				TimeoutMS: 30000,
			},
		},
		Routing: map[TaskType]RouteConfig{
			TaskTypePlan:     {Provider: ProviderClaude, Temperature: 0.3},
			TaskTypeReview:   {Provider: ProviderClaude, Temperature: 0.1},
			TaskTypeStatus:   {Provider: ProviderOpenRouter, Temperature: 0.0},
			TaskTypeFollowup: {Provider: ProviderClaude, Temperature: 0.2},
			TaskTypeApply:    {Provider: ProviderClaude, Temperature: 0.0},
		},
	}
}
