package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds the exponential-backoff retry loop. IsRetryable
// decides per-error whether another attempt is worthwhile; the
// Executor supplies one keyed off the provider adapter's vendor-error
// taxonomy (spec §4.F: only transport/upstream are retry-eligible).
type RetryConfig struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      bool
	IsRetryable func(error) bool
}

func DefaultRetryConfig(isRetryable func(error) bool) RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		BackoffBase: 200 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		Jitter:      true,
		IsRetryable: isRetryable,
	}
}

// Retry runs fn, retrying on IsRetryable errors with exponential backoff
// up to MaxRetries, honoring ctx cancellation between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt, cfg.BackoffBase, cfg.BackoffMax, cfg.Jitter)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if cfg.IsRetryable == nil || !cfg.IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("resilience: max retries exceeded: %w", lastErr)
}

func calculateBackoff(attempt int, base, max time.Duration, jitter bool) time.Duration {
	backoff := base * time.Duration(math.Pow(2, float64(attempt)))
	if backoff > max {
		backoff = max
	}
	if jitter {
		jitterRange := float64(backoff) * 0.25
		backoff += time.Duration((rand.Float64() - 0.5) * 2 * jitterRange)
	}
	if backoff < 0 {
		backoff = base
	}
	return backoff
}
