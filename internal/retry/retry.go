package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Config holds the configuration for retry logic
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultConfig returns the backoff used by every outbound API client
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffMultiple: 2.0,
	}
}

// ErrorChecker reports whether an attempt's outcome should be retried
type ErrorChecker func(err error, statusCode int, responseBody []byte) bool

// Attempt is one try of a retryable call. It returns the decoded result plus
// the raw status and body so the ErrorChecker can inspect them.
type Attempt[T any] func(attempt int) (result T, statusCode int, responseBody []byte, err error)

// Options configures retry behavior
type Options struct {
	Config       Config
	ErrorChecker ErrorChecker
	Logger       *slog.Logger
	APIName      string
}

// calculateDelay computes the delay for the given attempt using exponential backoff
func (c Config) calculateDelay(attempt int) time.Duration {
	multiple := c.BackoffMultiple
	if multiple <= 0 {
		multiple = 1
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(multiple, float64(attempt)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Execute runs fn until it succeeds, returns a non-retryable error or the
// attempts run out. Context cancellation during a backoff wins immediately.
func Execute[T any](ctx context.Context, opts Options, fn Attempt[T]) (T, error) {
	var zero T
	var lastErr error
	var lastStatusCode int
	var lastResponseBody []byte

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := opts.Config.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := opts.Config.calculateDelay(attempt - 1)
			logger.Debug("retrying api call", "api", opts.APIName, "attempt", attempt+1, "max_attempts", maxAttempts, "delay", delay)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, statusCode, responseBody, err := fn(attempt)
		lastErr = err
		lastStatusCode = statusCode
		lastResponseBody = responseBody

		if opts.ErrorChecker != nil && opts.ErrorChecker(err, statusCode, responseBody) && attempt < opts.Config.MaxRetries {
			logger.Warn("retryable api failure", "api", opts.APIName, "attempt", attempt+1, "max_attempts", maxAttempts, "status", statusCode, "error", err)
			continue
		}

		if err == nil {
			if attempt > 0 {
				logger.Info("api call succeeded after retry", "api", opts.APIName, "attempt", attempt+1)
			}
			return result, nil
		}

		return zero, err
	}

	if lastErr != nil {
		return zero, lastErr
	}

	// Only reachable when the checker asked for a retry on a nil error every time
	return zero, &RetryExhaustedError{
		APIName:        opts.APIName,
		MaxAttempts:    maxAttempts,
		LastStatusCode: lastStatusCode,
		LastResponse:   lastResponseBody,
	}
}

// RetryExhaustedError represents an error when all retry attempts have been exhausted
type RetryExhaustedError struct {
	APIName        string
	MaxAttempts    int
	LastStatusCode int
	LastResponse   []byte
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts exhausted for %s API after %d attempts (last status %d)", e.APIName, e.MaxAttempts, e.LastStatusCode)
}
