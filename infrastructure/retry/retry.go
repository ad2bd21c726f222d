// Package retry provides exponential backoff for calls to flaky collaborators.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when every attempt failed with a retryable error.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context ends while waiting between attempts.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the backoff multiplier (default 2.0).
	Multiplier float64
	// IsRetryable decides whether an error warrants another attempt. Nil retries nothing.
	IsRetryable func(error) bool
}

// DefaultConfig returns three attempts starting at 200ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.IsRetryable == nil {
		c.IsRetryable = func(error) bool { return false }
	}
}

// Delay returns the backoff before the given retry (1-based), capped at MaxDelay.
func (c Config) Delay(attempt int) time.Duration {
	c.applyDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if d > c.MaxDelay || d <= 0 {
		return c.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or runs out of attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg.applyDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
}
