package retry

import (
	"fmt"
	"time"
)

// Strategy names a backoff shape.
type Strategy string

// Supported strategies.
const (
	StrategyImmediate   Strategy = "immediate"
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyImmediate, StrategyFixed, StrategyLinear, StrategyExponential:
		return st, nil
	default:
		return "", fmt.Errorf("retry: unknown strategy %q", s)
	}
}

// Config is a retry policy, applied per job or as an engine default.
type Config struct {
	MaxAttempts  int           `json:"max_attempts"`
	BaseDelay    time.Duration `json:"base_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	Jitter       bool          `json:"jitter"`
	JitterFactor float64       `json:"jitter_factor"`
	Strategy     Strategy      `json:"strategy"`

	// IsRetryable overrides message and status classification when set.
	IsRetryable func(error) bool `json:"-" msgpack:"-"`
}

// DefaultConfig returns the default policy: three attempts, exponential
// backoff from one second doubling up to a minute, with 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		Jitter:       true,
		JitterFactor: 0.1,
		Strategy:     StrategyExponential,
	}
}

// Normalize fills zero numeric fields and an empty strategy from
// DefaultConfig. Jitter and IsRetryable are kept as given.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 && c.Strategy != StrategyImmediate {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = def.JitterFactor
	}
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	return c
}

// Backoff returns the un-jittered strategy described by c.
func (c Config) Backoff() Backoff {
	switch c.Strategy {
	case StrategyImmediate:
		return Immediate{}
	case StrategyFixed:
		return Constant{Interval: capAt(c.BaseDelay, c.MaxDelay)}
	case StrategyLinear:
		return Linear{Initial: c.BaseDelay, Max: c.MaxDelay}
	default:
		return Exponential{Initial: c.BaseDelay, Max: c.MaxDelay, Multiplier: c.Multiplier}
	}
}

// Delay returns the wait before attempt n under c, jittered when enabled.
func (c Config) Delay(attempt int) time.Duration {
	d := c.Backoff().Delay(attempt)
	if c.Jitter {
		return jitter(d, c.JitterFactor)
	}
	return d
}

// Delay is the package-level form of Config.Delay.
func Delay(attempt int, cfg Config) time.Duration {
	return cfg.Delay(attempt)
}
