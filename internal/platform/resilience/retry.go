package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Kamalbura/air-quality-monitering-sub000/internal/platform/faults"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // backoff cap
	Jitter     float64       // 0.0 to 1.0; 0 keeps delays deterministic
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Retryable is the static retry-eligibility table. It is a pure function of
// (kind, httpStatus): identical inputs always yield the same decision.
// EXTERNAL_SERVICE failures are eligible only on 429 and 5xx; auth failures
// and missing resources never retry.
func Retryable(kind faults.Kind, httpStatus int) bool {
	switch kind {
	case faults.KindNetwork:
		return true
	case faults.KindExternalService:
		switch {
		case httpStatus == 0:
			// No status available, e.g. a rate-limit message without a
			// response. Treat as transient.
			return true
		case httpStatus == 429:
			return true
		case httpStatus >= 500:
			return true
		default:
			return false
		}
	case faults.KindStorage, faults.KindSystem:
		return true
	default:
		// DATA, VALIDATION, PERMISSION, UNKNOWN: retrying the same input
		// cannot change the outcome.
		return false
	}
}

// Backoff returns the delay before retry attempt n (1-based):
// BaseDelay * 2^(n-1), capped at MaxDelay, with optional jitter.
// With Jitter == 0 the sequence is non-decreasing and bounded.
func (cfg RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		amount := delay * cfg.Jitter
		delay = delay - amount + rand.Float64()*amount*2
	}
	return time.Duration(delay)
}

// RetryWithResult executes fn with classification-aware exponential backoff.
// shouldRetry is consulted after each failure; when it reports false the loop
// stops immediately and the last error is returned.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(cfg.Backoff(attempt + 1)):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("exhausted %d retries: %w", cfg.MaxRetries, lastErr)
}

// Retry is the result-less variant of RetryWithResult.
func Retry(ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func(context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, shouldRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryableError reports eligibility for an already classified error.
// Unclassified errors fall back to the message-level classifier.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *faults.Error
	if errors.As(err, &fe) {
		return Retryable(fe.Kind, fe.HTTPStatus)
	}
	return Retryable(faults.Classify(err, faults.ClassifyContext{}), 0)
}
