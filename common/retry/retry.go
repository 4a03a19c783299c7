// Package retry runs an operation a bounded number of times.
//
// Two shapes are supported: exponential backoff for network reachability
// checks, and immediate re-attempts (InitialDelay of zero) for callers that
// only need a bounded count, such as re-sampling a completion.
//
//	reply, err := retry.Value(ctx, retry.Config{MaxAttempts: 7}, func(attempt int) (string, error) {
//	    return completer.Complete(ctx, prompt)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt. Zero means the next
	// attempt starts immediately and no backoff is applied.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait. Ignored when InitialDelay is zero.
	MaxDelay time.Duration
	// ShouldRetry classifies errors as retryable. When nil, all non-nil
	// errors are retried.
	ShouldRetry func(err error) bool
}

// DefaultConfig is suited to short-lived network calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

// Do calls fn until it succeeds, a non-retryable error is returned, ctx is
// cancelled or cfg.MaxAttempts is reached. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := Value(ctx, cfg, func(int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Value is Do for operations producing a result. fn receives the 1-based
// attempt number. On failure the zero value and the last error are returned.
func Value[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay > 0 && cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}

		v, err := fn(attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Debug("retry: attempt failed",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", err, "delay", delay)

		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return zero, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}
