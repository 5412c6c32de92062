package config

import (
	"sync"

	"github.com/c360/servicekit/errors"
)

// SafeConfig provides concurrent read access to a configuration with
// atomic, validated replacement.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps a configuration. A nil config starts from the
// defaults.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{cfg: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg.Clone()
}

// Update validates and installs a new configuration. The previous
// configuration stays in place on validation failure.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.NewConfiguration("config", errors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	sc.cfg = cfg.Clone()
	sc.mu.Unlock()
	return nil
}
