package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/activity-scorer/internal/logging"
)

// Class tells the retry loop how to treat a failed attempt
type Class int

const (
	// ClassTransient errors are retried with uncapped exponential backoff
	ClassTransient Class = iota
	// ClassRateLimited errors are retried with exponential backoff capped at RateLimitMaxDelay
	ClassRateLimited
	// ClassPermanent errors stop the loop immediately
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Classifier maps an attempt error to its retry class
type Classifier func(err error) Class

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts, including the first
	InitialDelay      time.Duration // Delay before the second attempt
	MaxDelay          time.Duration // Cap for transient backoff; zero means uncapped
	RateLimitMaxDelay time.Duration // Cap for rate-limited backoff; zero means uncapped
	Multiplier        float64       // Multiplier for exponential backoff
	Classify          Classifier    // nil treats every error as transient

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns the page-fetch policy: 3 attempts, 1s base,
// 429 backoff capped at 10x base, transient backoff uncapped.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		RateLimitMaxDelay: 10 * time.Second,
		Multiplier:        2.0,
	}
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
	LastClass     Class         `json:"lastClass"`
}

// Err returns nil on success, otherwise the last error wrapped with the attempt count
func (r *RetryResult) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("operation failed after %d attempts: %w", r.Attempts, r.LastError)
}

// RetryFunc is a function that can be retried
type RetryFunc func(ctx context.Context, attempt int) error

// WithExponentialBackoff executes a function with exponential backoff retry logic
func WithExponentialBackoff(ctx context.Context, config *RetryConfig, fn RetryFunc) *RetryResult {
	logger := logging.FromContext(ctx)
	startTime := time.Now()
	sleep := config.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	result := &RetryResult{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Info("Operation succeeded after retry")
			}
			return result
		}

		class := ClassTransient
		if config.Classify != nil {
			class = config.Classify(err)
		}
		result.LastError = err
		result.LastClass = class

		if class == ClassPermanent {
			logger.WithError(err).Warn("Operation failed with permanent error, not retrying")
			break
		}

		if attempt >= config.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts":      attempt,
				"totalDuration": time.Since(startTime).String(),
				"class":         class.String(),
			}).WithError(err).Warn("Operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(config, attempt, class)

		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
			"class":       class.String(),
		}).WithError(err).Debug("Operation failed, retrying with exponential backoff")

		if err := sleep(ctx, delay); err != nil {
			logger.WithError(err).Warn("Retry cancelled during backoff")
			result.LastError = err
			break
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay returns InitialDelay * Multiplier^(attempt-1), capped per class
func calculateDelay(config *RetryConfig, attempt int, class Class) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt-1))

	limit := config.MaxDelay
	if class == ClassRateLimited {
		limit = config.RateLimitMaxDelay
	}
	if limit > 0 && delay > float64(limit) {
		delay = float64(limit)
	}
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}

	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
