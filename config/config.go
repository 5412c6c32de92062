package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/servicekit/errors"
)

// Duration wraps time.Duration so YAML configs can use human-readable
// values like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a bare number of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case float64:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration type %T", raw)
	}
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete runtime configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Health   HealthConfig   `yaml:"health"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Registry RegistryConfig `yaml:"registry"`
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// HealthConfig controls the monitoring loops and classification
// thresholds.
type HealthConfig struct {
	CheckInterval       Duration `yaml:"check_interval"`
	CheckTimeout        Duration `yaml:"check_timeout"`
	MetricsInterval     Duration `yaml:"metrics_interval"`
	HistoryWindow       Duration `yaml:"history_window"`
	DegradedErrorRate   float64  `yaml:"degraded_error_rate"`
	UnhealthyErrorRate  float64  `yaml:"unhealthy_error_rate"`
	SystemDegradedRatio float64  `yaml:"system_degraded_ratio"`
	PerfLatencyP95      Duration `yaml:"perf_latency_p95"`
	PerfErrorRate       float64  `yaml:"perf_error_rate"`
}

// RecoveryConfig controls restart retries and backoff.
type RecoveryConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	BaseDelay      Duration `yaml:"base_delay"`
	Multiplier     float64  `yaml:"multiplier"`
	MaxDelay       Duration `yaml:"max_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	Strategy       string   `yaml:"strategy"`
}

// RegistryConfig controls batch startup behavior and the failure
// signals that trigger recovery.
type RegistryConfig struct {
	StartSettleDelay    Duration `yaml:"start_settle_delay"`
	MaxConcurrentStarts int      `yaml:"max_concurrent_starts"`
	UnhealthyAlertLimit int      `yaml:"unhealthy_alert_limit"`
}

// NATSConfig controls the event bridge.
type NATSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URLs          []string `yaml:"urls"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	MaxReconnects int      `yaml:"max_reconnects"`
	ReconnectWait Duration `yaml:"reconnect_wait"`
}

// HTTPConfig controls the metrics and health endpoint.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a fully populated configuration with the standard
// values. Loaded files override it field by field.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Health: HealthConfig{
			CheckInterval:       Duration(30 * time.Second),
			CheckTimeout:        Duration(5 * time.Second),
			MetricsInterval:     Duration(10 * time.Second),
			HistoryWindow:       Duration(24 * time.Hour),
			DegradedErrorRate:   0.05,
			UnhealthyErrorRate:  0.20,
			SystemDegradedRatio: 0.20,
		},
		Recovery: RecoveryConfig{
			MaxRetries:     3,
			BaseDelay:      Duration(time.Second),
			Multiplier:     2.0,
			MaxDelay:       Duration(30 * time.Second),
			AttemptTimeout: Duration(30 * time.Second),
			Strategy:       "exponential",
		},
		Registry: RegistryConfig{
			StartSettleDelay:    Duration(50 * time.Millisecond),
			MaxConcurrentStarts: 4,
			UnhealthyAlertLimit: 3,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			SubjectPrefix: "servicekit.events",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		HTTP: HTTPConfig{
			Addr: ":9090",
		},
	}
}

// Load reads a YAML config file over the defaults and validates the
// result. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("file", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfiguration("file", fmt.Errorf("parse %s: %w", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations. It reports the first problem
// found as a configuration error.
func (c *Config) Validate() error {
	if err := validateRate("health.degraded_error_rate", c.Health.DegradedErrorRate); err != nil {
		return err
	}
	if err := validateRate("health.unhealthy_error_rate", c.Health.UnhealthyErrorRate); err != nil {
		return err
	}
	if err := validateRate("health.system_degraded_ratio", c.Health.SystemDegradedRatio); err != nil {
		return err
	}
	if c.Health.DegradedErrorRate > c.Health.UnhealthyErrorRate {
		return errors.NewConfiguration("health",
			fmt.Errorf("degraded_error_rate %.2f exceeds unhealthy_error_rate %.2f",
				c.Health.DegradedErrorRate, c.Health.UnhealthyErrorRate))
	}
	if c.Recovery.MaxRetries < 0 {
		return errors.NewConfiguration("recovery.max_retries",
			fmt.Errorf("must not be negative, got %d", c.Recovery.MaxRetries))
	}
	switch c.Recovery.Strategy {
	case "", "fixed", "linear", "exponential":
	default:
		return errors.NewConfiguration("recovery.strategy",
			fmt.Errorf("unknown strategy %q", c.Recovery.Strategy))
	}
	if c.Registry.MaxConcurrentStarts < 1 {
		return errors.NewConfiguration("registry.max_concurrent_starts",
			fmt.Errorf("must be at least 1, got %d", c.Registry.MaxConcurrentStarts))
	}
	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.NewConfiguration("nats.urls",
			fmt.Errorf("at least one URL is required when the bridge is enabled"))
	}
	return nil
}

func validateRate(field string, v float64) error {
	if v < 0 || v > 1 {
		return errors.NewConfiguration(field,
			fmt.Errorf("must be between 0 and 1, got %g", v))
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	return &out
}
