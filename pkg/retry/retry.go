// Package retry retries transient failures with exponential backoff.
// Only errors classified retryable by pkg/errors are retried; ledger
// rejections fail on the first attempt.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/luckycoin-meme/luckycoin/pkg/errors"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// NetworkConfig is tuned for gateway to ledger round trips
func NetworkConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  1.5,
		Jitter:      true,
	}
}

// DatabaseConfig is tuned for account loads and commits
func DatabaseConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// KafkaConfig is tuned for event publishing, where a broker election can
// take several seconds
func KafkaConfig() *Config {
	return &Config{
		MaxAttempts: 6,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Do executes fn until it succeeds, fails permanently or runs out of attempts
func Do(ctx context.Context, config *Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult executes fn with retry logic and returns its result
func DoWithResult[T any](ctx context.Context, config *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if config == nil {
		config = DefaultConfig()
	}

	var lastErr error
	for attempt := range max(config.MaxAttempts, 1) {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}
		if attempt >= config.MaxAttempts-1 {
			break
		}

		delay := config.Delay(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, errors.Wrap(lastErr, errors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts)
}

// Delay returns the backoff before retry number attempt+1
func (c *Config) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	delay = min(delay, float64(c.MaxDelay))

	if c.Jitter {
		// up to 10% extra
		delay += delay * 0.1 * rand.Float64()
	}
	return time.Duration(delay)
}
