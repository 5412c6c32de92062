package recovery

import (
	"math"
	"time"
)

// Strategy selects how the delay between restart attempts grows.
type Strategy string

const (
	// StrategyFixed waits the base delay before every attempt.
	StrategyFixed Strategy = "fixed"

	// StrategyLinear grows the delay by the base amount per attempt.
	StrategyLinear Strategy = "linear"

	// StrategyExponential doubles (or multiplies) the delay per attempt.
	StrategyExponential Strategy = "exponential"
)

// Config controls the retry budget and backoff shape for recovery
// episodes.
type Config struct {
	// MaxRetries is the number of restart attempts per episode.
	MaxRetries int

	// BaseDelay is the wait before the first attempt.
	BaseDelay time.Duration

	// Multiplier scales the exponential strategy. Ignored by the fixed
	// and linear strategies.
	Multiplier float64

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration

	// AttemptTimeout bounds each stop-then-start attempt.
	AttemptTimeout time.Duration

	// Strategy picks the backoff curve.
	Strategy Strategy
}

// DefaultConfig returns exponential backoff with three attempts: waits
// of 1s, 2s and 4s, each attempt bounded to 30 seconds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		Multiplier:     2.0,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 30 * time.Second,
		Strategy:       StrategyExponential,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	return c
}

// Delay returns the wait before the given zero-based attempt.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	var d time.Duration
	switch c.Strategy {
	case StrategyFixed:
		d = c.BaseDelay
	case StrategyLinear:
		d = c.BaseDelay * time.Duration(attempt+1)
	default:
		d = time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt)))
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}
