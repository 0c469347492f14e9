package llm

import (
	"context"
	"strings"

	"github.com/msageha/conductor/internal/model"
)

// Adapter is the uniform contract over one text-generation backend. Each
// implementation translates the generic request/response shape to and from
// its backend's wire format.
type Adapter interface {
	// Generate sends one request and returns the parsed response.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider tag this adapter serves.
	Name() model.Provider

	// Available reports whether the adapter holds a usable credential.
	// It is a cheap local check and never probes the network.
	Available() bool
}

// credentialUsable rejects empty keys and unexpanded "${...}" placeholders
// left behind when the referenced environment variable was unset.
func credentialUsable(apiKey string) bool {
	return apiKey != "" && !strings.HasPrefix(apiKey, "$")
}
