package llm

import (
	"errors"
	"fmt"

	"github.com/msageha/conductor/internal/model"
)

var (
	// ErrOfflineMode is returned when the router is disabled; the call
	// never reaches an adapter.
	ErrOfflineMode = errors.New("offline mode active")

	// ErrMaxRetriesExceeded is returned after every fallback round failed.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ProviderNotAvailableError means the provider has no configuration or an
// inactive credential.
type ProviderNotAvailableError struct {
	Provider model.Provider
}

func (e *ProviderNotAvailableError) Error() string {
	return fmt.Sprintf("provider not available: %s", e.Provider)
}

// RequestFailedError wraps a generic upstream failure.
type RequestFailedError struct {
	Message string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed: %s", e.Message)
}

// RateLimitedError marks an explicit rate-limit response from a backend.
type RateLimitedError struct {
	Provider model.Provider
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for provider: %s", e.Provider)
}

// InvalidConfigError reports a configuration problem detected at runtime.
type InvalidConfigError struct {
	Message string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}
