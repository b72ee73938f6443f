// Package retry implements bounded exponential backoff for transient
// network calls. Only well-defined transient failures are retried; the
// caller supplies the classification.
package retry

import (
	"context"
	"time"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts     int           // Total attempts, including the first
	InitialInterval time.Duration // First backoff interval
	MaxInterval     time.Duration // Backoff cap
}

// Default returns sensible defaults for embedding and index calls.
func Default() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	return c
}

// Do runs fn with exponential backoff. A non-retryable error (per the
// retryable predicate) fails immediately; context cancellation stops
// the backoff wait.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	cfg = cfg.normalized()

	var lastErr error
	delay := cfg.InitialInterval

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxInterval {
			delay = cfg.MaxInterval
		}
	}
	return lastErr
}
