package llm

import (
	"context"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/msageha/conductor/internal/model"
)

// Router owns the configured adapters and the per-task-type routing policy.
// Stateless per call apart from the offline switch; safe for concurrent use.
type Router struct {
	defaultProvider model.Provider
	routing         map[model.TaskType]model.RouteConfig
	adapters        map[model.Provider]Adapter
	maxRetries      int
	offline         atomic.Bool
	logWriter       *RouteLogWriter
	backoff         BackoffPolicy
}

// NewRouter builds one adapter per configured provider and opens the route
// log under logDir.
func NewRouter(cfg model.LLMConfig, logDir string) (*Router, error) {
	logWriter, err := NewRouteLogWriter(logDir)
	if err != nil {
		return nil, err
	}

	adapters := make(map[model.Provider]Adapter)
	if pc, ok := cfg.Providers[model.ProviderClaude]; ok {
		adapters[model.ProviderClaude] = NewClaudeAdapter(pc)
	}
	if pc, ok := cfg.Providers[model.ProviderOpenRouter]; ok {
		adapters[model.ProviderOpenRouter] = NewOpenRouterAdapter(pc)
	}

	r := &Router{
		defaultProvider: cfg.DefaultProvider,
		routing:         cfg.Routing,
		adapters:        adapters,
		maxRetries:      cfg.MaxRetries,
		logWriter:       logWriter,
		backoff:         DefaultBackoff(),
	}
	r.offline.Store(cfg.OfflineMode)
	return r, nil
}

// Generate routes one request: primary provider first, then fallback
// rounds over the remaining adapters with exponential backoff. Exactly one
// RouteLog record is written per call, whatever the outcome.
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	route := r.routeConfig(req.TaskType)
	primary := route.Provider

	if r.offline.Load() {
		r.writeLog(&RouteLog{
			Timestamp:         time.Now().UTC(),
			RequestID:         req.ID,
			TaskType:          req.TaskType,
			AttemptedProvider: primary,
			FinalProvider:     model.ProviderOffline,
			Success:           false,
			DurationMS:        time.Since(start).Milliseconds(),
			ErrorMessage:      ErrOfflineMode.Error(),
		})
		return nil, ErrOfflineMode
	}

	// Policy temperature applies only when the request carries none. Work
	// on a shallow copy so the caller's request is never mutated.
	if req.Temperature == nil {
		cp := *req
		temp := route.Temperature
		cp.Temperature = &temp
		req = &cp
	}

	resp, err := r.tryProvider(ctx, primary, req)
	if err == nil {
		r.logSuccess(req, start, primary, primary, 0, resp)
		return resp, nil
	}
	log.Printf("warn: primary provider %s failed: %v", primary, err)
	lastErr := err

rounds:
	for round := 0; round < r.maxRetries; round++ {
		for _, provider := range r.fallbackOrder(primary) {
			resp, err := r.tryProvider(ctx, provider, req)
			if err == nil {
				r.logSuccess(req, start, primary, provider, round, resp)
				return resp, nil
			}
			log.Printf("warn: fallback provider %s failed (round %d): %v", provider, round, err)
			lastErr = err

			if werr := r.backoff.Wait(ctx, round); werr != nil {
				lastErr = werr
				break rounds
			}
		}
	}

	msg := "all providers failed"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	r.writeLog(&RouteLog{
		Timestamp:         time.Now().UTC(),
		RequestID:         req.ID,
		TaskType:          req.TaskType,
		AttemptedProvider: primary,
		FinalProvider:     model.ProviderOffline,
		Success:           false,
		DurationMS:        time.Since(start).Milliseconds(),
		ErrorMessage:      msg,
		RetryCount:        r.maxRetries,
	})
	return nil, ErrMaxRetriesExceeded
}

func (r *Router) logSuccess(req *Request, start time.Time, attempted, final model.Provider, retryCount int, resp *Response) {
	r.writeLog(&RouteLog{
		Timestamp:         time.Now().UTC(),
		RequestID:         req.ID,
		TaskType:          req.TaskType,
		AttemptedProvider: attempted,
		FinalProvider:     final,
		Success:           true,
		DurationMS:        time.Since(start).Milliseconds(),
		RetryCount:        retryCount,
		CostCents:         resp.CostCents,
		TokensUsed:        resp.Usage.TotalTokens,
	})
}

// tryProvider resolves and invokes one adapter. The availability check is
// local, so an unconfigured or credential-less provider fails without a
// network attempt.
func (r *Router) tryProvider(ctx context.Context, provider model.Provider, req *Request) (*Response, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, &ProviderNotAvailableError{Provider: provider}
	}
	if !adapter.Available() {
		return nil, &ProviderNotAvailableError{Provider: provider}
	}
	return adapter.Generate(ctx, req)
}

// fallbackOrder returns every available non-primary provider in a stable
// order so retry behavior is deterministic.
func (r *Router) fallbackOrder(primary model.Provider) []model.Provider {
	var providers []model.Provider
	for provider, adapter := range r.adapters {
		if provider == primary || !adapter.Available() {
			continue
		}
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

func (r *Router) routeConfig(taskType model.TaskType) model.RouteConfig {
	if rc, ok := r.routing[taskType]; ok {
		return rc
	}
	// Unknown task types fall back to the default provider at a neutral
	// temperature.
	return model.RouteConfig{Provider: r.defaultProvider, Temperature: 0.7}
}

// writeLog appends the audit record. Failures are reported, never
// propagated: the generation outcome takes precedence over its audit.
func (r *Router) writeLog(entry *RouteLog) {
	if err := r.logWriter.Write(entry); err != nil {
		log.Printf("error: failed to write route log: %v", err)
	}
}

// AvailableProviders lists providers whose adapters hold usable
// credentials, in stable order.
func (r *Router) AvailableProviders() []model.Provider {
	var providers []model.Provider
	for provider, adapter := range r.adapters {
		if adapter.Available() {
			providers = append(providers, provider)
		}
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// SetOfflineMode toggles the router-wide kill switch.
func (r *Router) SetOfflineMode(offline bool) {
	r.offline.Store(offline)
}

// OfflineMode reports whether the router is disabled.
func (r *Router) OfflineMode() bool {
	return r.offline.Load()
}

// Stats aggregates the route log written so far.
func (r *Router) Stats() (*RoutingStats, error) {
	return ComputeStats(r.logWriter.Path())
}

// Close releases the route log file.
func (r *Router) Close() error {
	return r.logWriter.Close()
}
