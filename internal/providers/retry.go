package providers

import (
	"context"

	"github.com/dylanbstorey/arawn-sub003/internal/backoff"
)

// retryConfig is the small, explicit options struct every component in
// this tree carries in place of free-floating constants (SPEC_FULL §3).
type retryConfig struct {
	MaxAttempts int
	Policy      backoff.BackoffPolicy
}

func defaultRetryConfig() retryConfig {
	return retryConfig{MaxAttempts: 3, Policy: backoff.DefaultPolicy()}
}

// withRetry runs op, retrying with backoff.ComputeBackoff spacing only
// while the error classifies as transport-class (§4.D: "retries only
// transport-class errors ... provider errors propagate without
// retry"). A non-retryable error returns immediately on its first
// occurrence.
func withRetry(ctx context.Context, cfg retryConfig, op func(attempt int) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt >= maxAttempts {
			return err
		}
		if err := backoff.SleepWithBackoff(ctx, cfg.Policy, attempt); err != nil {
			return err
		}
	}
	return lastErr
}
