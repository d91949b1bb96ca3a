package infra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so WithRetry returns it immediately.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// WithRetry executes a function with exponential backoff retry logic
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		// Don't retry on context cancellation or permanent errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPermanent) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = nextDelay(delay, cfg.Multiplier, cfg.MaxDelay)
	}

	return lastErr
}

// PollConfig bounds a poll-until-done loop. Timeout caps the whole loop.
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Timeout     time.Duration
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    time.Second,
		MaxInterval: 5 * time.Second,
		Multiplier:  1.5,
		Timeout:     2 * time.Minute,
	}
}

// ErrPollTimeout is returned when Poll runs out of time before fn reports done.
var ErrPollTimeout = errors.New("poll timeout")

// Poll calls fn until it reports done or returns an error, waiting with
// exponential backoff between calls. Exceeding cfg.Timeout yields
// ErrPollTimeout; cancellation of the parent ctx yields ctx.Err().
func Poll(ctx context.Context, cfg PollConfig, fn func(ctx context.Context) (bool, error)) error {
	pollCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	delay := cfg.Interval
	if delay <= 0 {
		delay = time.Second
	}

	for {
		done, err := fn(pollCtx)
		if err != nil {
			if pollCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("%w after %s: %w", ErrPollTimeout, cfg.Timeout, err)
			}
			return err
		}
		if done {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w after %s", ErrPollTimeout, cfg.Timeout)
		case <-timer.C:
		}

		delay = nextDelay(delay, cfg.Multiplier, cfg.MaxInterval)
	}
}

func nextDelay(delay time.Duration, multiplier float64, max time.Duration) time.Duration {
	if multiplier > 1 {
		delay = time.Duration(float64(delay) * multiplier)
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// IsRetryableHTTPStatus returns true if the HTTP status code is retryable
func IsRetryableHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout ||
		statusCode >= 500
}
