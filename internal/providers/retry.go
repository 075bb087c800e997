package providers

import (
	"context"
	"time"
)

// RetryConfig describes the backoff schedule applied to external
// collaborator calls (spec.md §7: "one retry with exponential
// backoff (200ms -> 1s -> 5s); then surface as task failure").
type RetryConfig struct {
	Delays []time.Duration
}

// DefaultRetryConfig is the spec-mandated backoff schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Delays: []time.Duration{200 * time.Millisecond, 1 * time.Second, 5 * time.Second}}
}

// withRetry runs fn, retrying per cfg.Delays on error. It stops early
// if ctx is cancelled between attempts.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	attempts := append([]time.Duration{0}, cfg.Delays...)
	for _, delay := range attempts {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
