package providers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// RetryConfig bounds the retry loop around provider calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// retryableError marks an error as worth retrying (rate limit, 5xx, timeout).
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so RetryDo will retry it.
func Retryable(err error) error {
	return &retryableError{err: err}
}

func isRetryable(err error) bool {
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryDo runs fn with bounded exponential backoff. Non-retryable errors
// abort immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay * (1 << (attempt - 1))
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			if cfg.BaseDelay > 0 {
				delay += time.Duration(rand.Int63n(int64(cfg.BaseDelay)))
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("retries exhausted after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
