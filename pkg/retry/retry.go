// Package retry provides bounded exponential backoff for transient
// failures, used where an operation talks to an external system that
// may not be ready yet.
//
// Errors the taxonomy marks as non-retryable (configuration and
// dependency errors) abort immediately; everything else is retried
// until the attempt budget runs out or the context is cancelled.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/c360/servicekit/errors"
)

// Config controls the attempt budget and backoff curve.
type Config struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// Jitter adds up to 25% randomness to each wait so restarting
	// processes do not reconnect in lockstep.
	Jitter bool
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	return c
}

// Startup returns a config tuned for connecting to infrastructure
// during process startup: many quick attempts with jitter.
func Startup() Config {
	return Config{
		Attempts:     10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   1.5,
		Jitter:       true,
	}
}

// Do runs fn until it succeeds, the attempt budget is spent, the error
// is non-retryable, or ctx is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Retryable(err) {
			return err
		}
		if attempt == cfg.Attempts {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait += time.Duration(rand.Int63n(int64(delay/4 + 1)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("retry exhausted after %d attempts: %w", cfg.Attempts, lastErr)
}

// DoWithResult is Do for operations that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
