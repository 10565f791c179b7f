package orchestrator

import (
	"fmt"
	"time"
)

// Backoff selects how the delay between attempts grows.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// DefaultBaseDelay is used when retries are enabled without a delay.
const DefaultBaseDelay = time.Second

// RetryConfig controls re-running test cases whose verdict is Fail.
type RetryConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	Backoff    Backoff       `yaml:"backoff" json:"backoff"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
}

// Delay returns the wait before retry number n (1-based): the base delay
// for fixed backoff, base·2^(n-1) for exponential.
func (r RetryConfig) Delay(n int) time.Duration {
	base := r.BaseDelay
	if n < 1 {
		return 0
	}
	if r.Backoff != BackoffExponential {
		return base
	}
	d := base
	for i := 1; i < n; i++ {
		if d > time.Hour {
			return d
		}
		d *= 2
	}
	return d
}

// ConfigError reports an invalid orchestrator configuration.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid orchestrator config: %s: %s", e.Field, e.Msg)
}

// Validate checks the configuration. Zero values that have a default are
// accepted.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return &ConfigError{Field: "workers", Msg: fmt.Sprintf("must be at least 1, got %d", c.Workers)}
	}
	if c.Retry.MaxRetries < 0 {
		return &ConfigError{Field: "retry.max_retries", Msg: fmt.Sprintf("must not be negative, got %d", c.Retry.MaxRetries)}
	}
	switch c.Retry.Backoff {
	case "", BackoffFixed, BackoffExponential:
	default:
		return &ConfigError{Field: "retry.backoff", Msg: fmt.Sprintf("unknown strategy %q: must be fixed or exponential", c.Retry.Backoff)}
	}
	if c.Retry.BaseDelay < 0 {
		return &ConfigError{Field: "retry.base_delay", Msg: "must not be negative"}
	}
	return nil
}
