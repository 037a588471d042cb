package resilience

import (
	"context"
	"fmt"
	"sort"
)

// FallbackProvider is one entry in a priority-ordered fallback chain.
type FallbackProvider struct {
	Provider string
	Model    string
	Priority int // lower runs first
}

// FallbackChain tries each provider in priority order, skipping any
// whose circuit is open, until one call succeeds.
type FallbackChain struct {
	providers []FallbackProvider
	breaker   *CircuitBreaker
}

func NewFallbackChain(providers []FallbackProvider, breaker *CircuitBreaker) *FallbackChain {
	sorted := make([]FallbackProvider, len(providers))
	copy(sorted, providers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &FallbackChain{providers: sorted, breaker: breaker}
}

// Execute calls executeFn for each candidate in order until one returns
// without error, recording the outcome against the circuit breaker.
func (fc *FallbackChain) Execute(ctx context.Context, scopeKey string, executeFn func(ctx context.Context, provider, model string) (any, error)) (any, error) {
	var lastErr error
	tried := 0
	for _, fb := range fc.providers {
		if fc.breaker != nil {
			allowed, err := fc.breaker.AllowRequest(scopeKey, fb.Provider)
			if err != nil || !allowed {
				continue
			}
		}
		tried++
		result, err := executeFn(ctx, fb.Provider, fb.Model)
		if err == nil {
			if fc.breaker != nil {
				fc.breaker.RecordSuccess(scopeKey, fb.Provider)
			}
			return result, nil
		}
		if fc.breaker != nil {
			fc.breaker.RecordFailure(scopeKey, fb.Provider)
		}
		lastErr = err
	}
	if tried == 0 {
		return nil, fmt.Errorf("resilience: no fallback provider available (all circuits open)")
	}
	return nil, fmt.Errorf("resilience: all fallback providers failed: %w", lastErr)
}
