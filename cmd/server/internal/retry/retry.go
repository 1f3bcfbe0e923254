// Package retry implements bounded retry with exponential backoff and jitter
// for calls to external media/ML engines.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffFactor is the exponential multiplier.
	BackoffFactor float64
	// Jitter adds randomness to each backoff (0.0 to 1.0).
	Jitter float64
	// RetryIf decides whether an error is worth retrying.
	RetryIf func(error) bool
	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultConfig returns the defaults used for engine calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// DefaultRetryIf retries everything except context cancellation.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do executes fn with retry, returning its result or the last error once
// attempts are exhausted.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 15 * time.Second
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = DefaultRetryIf
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := backoffFor(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// DoFunc is Do for functions that return only an error.
func DoFunc(ctx context.Context, cfg Config, fn func() error) error {
	_, err := Do(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func backoffFor(attempt int, cfg Config) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt-1))

	if cfg.Jitter > 0 {
		jitterRange := backoff * cfg.Jitter
		backoff += (rand.Float64()*2 - 1) * jitterRange
	}
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if backoff < 0 {
		backoff = float64(cfg.InitialBackoff)
	}
	return time.Duration(backoff)
}
