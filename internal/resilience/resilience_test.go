package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	cfg := DefaultRetryConfig(func(error) bool { return true })
	cfg.BackoffBase = time.Millisecond
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one call on immediate success, got %d", calls)
	}
}

func TestRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	wantErr := errors.New("not retryable")
	cfg := DefaultRetryConfig(func(error) bool { return false })
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Errorf("expected the original error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no retries for a non-retryable error, got %d calls", calls)
	}
}

func TestRetryExhaustsMaxRetries(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 2, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond, IsRetryable: func(error) bool { return true }}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != cfg.MaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", cfg.MaxRetries+1, calls)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond, IsRetryable: func(error) bool { return true }}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxRetries: 3, BackoffBase: 10 * time.Millisecond, BackoffMax: 50 * time.Millisecond, IsRetryable: func(error) bool { return true }}
	err := Retry(ctx, cfg, func() error { return errors.New("fail") })
	if err == nil {
		t.Fatal("expected an error when the context is already cancelled before the first backoff")
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)
	cb.RecordFailure("user-1", "openai")
	allowed, _ := cb.AllowRequest("user-1", "openai")
	if !allowed {
		t.Fatal("expected the breaker to remain closed before reaching the threshold")
	}
	cb.RecordFailure("user-1", "openai")
	allowed, err := cb.AllowRequest("user-1", "openai")
	if allowed || err == nil {
		t.Error("expected the breaker to open once the failure threshold is reached")
	}
	if cb.State("user-1", "openai") != StateOpen {
		t.Errorf("expected state open, got %v", cb.State("user-1", "openai"))
	}
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure("user-1", "openai")
	if cb.State("user-1", "openai") != StateOpen {
		t.Fatal("expected the breaker to open after one failure at threshold 1")
	}
	time.Sleep(20 * time.Millisecond)
	allowed, err := cb.AllowRequest("user-1", "openai")
	if !allowed || err != nil {
		t.Fatalf("expected a probe request to be allowed after the timeout, got allowed=%v err=%v", allowed, err)
	}
	if cb.State("user-1", "openai") != StateHalfOpen {
		t.Errorf("expected state half_open after the probe window opens, got %v", cb.State("user-1", "openai"))
	}
}

func TestCircuitBreakerClosesOnSuccessFromHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure("user-1", "openai")
	time.Sleep(20 * time.Millisecond)
	cb.AllowRequest("user-1", "openai") // transitions to half_open
	cb.RecordSuccess("user-1", "openai")
	if cb.State("user-1", "openai") != StateClosed {
		t.Errorf("expected the breaker to close after a successful probe, got %v", cb.State("user-1", "openai"))
	}
}

func TestCircuitBreakerIndependentPerScopeAndProvider(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure("user-1", "openai")
	allowed, _ := cb.AllowRequest("user-2", "openai")
	if !allowed {
		t.Error("expected a different scope key to be unaffected by another's failures")
	}
	allowed, _ = cb.AllowRequest("user-1", "anthropic")
	if !allowed {
		t.Error("expected a different provider to be unaffected by another's failures")
	}
}

func TestFallbackChainTriesInPriorityOrder(t *testing.T) {
	var tried []string
	chain := NewFallbackChain([]FallbackProvider{
		{Provider: "slow", Priority: 2},
		{Provider: "fast", Priority: 0},
		{Provider: "medium", Priority: 1},
	}, nil)

	_, err := chain.Execute(context.Background(), "user-1", func(ctx context.Context, provider, model string) (any, error) {
		tried = append(tried, provider)
		if provider == "medium" {
			return "result", nil
		}
		return nil, errors.New("fail")
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(tried) != 2 || tried[0] != "fast" || tried[1] != "medium" {
		t.Errorf("unexpected try order: %v", tried)
	}
}

func TestFallbackChainSkipsOpenCircuits(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure("user-1", "fast")

	chain := NewFallbackChain([]FallbackProvider{{Provider: "fast", Priority: 0}, {Provider: "backup", Priority: 1}}, cb)
	var tried []string
	result, err := chain.Execute(context.Background(), "user-1", func(ctx context.Context, provider, model string) (any, error) {
		tried = append(tried, provider)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "ok" {
		t.Errorf("unexpected result: %v", result)
	}
	if len(tried) != 1 || tried[0] != "backup" {
		t.Errorf("expected only the backup provider to be tried, got %v", tried)
	}
}

func TestFallbackChainFailsWhenAllCircuitsOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.RecordFailure("user-1", "only")

	chain := NewFallbackChain([]FallbackProvider{{Provider: "only", Priority: 0}}, cb)
	_, err := chain.Execute(context.Background(), "user-1", func(ctx context.Context, provider, model string) (any, error) {
		return "should not run", nil
	})
	if err == nil {
		t.Error("expected an error when every candidate's circuit is open")
	}
}

func TestFallbackChainReturnsLastErrorWhenAllFail(t *testing.T) {
	chain := NewFallbackChain([]FallbackProvider{{Provider: "a", Priority: 0}, {Provider: "b", Priority: 1}}, nil)
	_, err := chain.Execute(context.Background(), "user-1", func(ctx context.Context, provider, model string) (any, error) {
		return nil, errors.New("boom: " + provider)
	})
	if err == nil {
		t.Error("expected an error when every candidate fails")
	}
}
