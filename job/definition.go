package job

import (
	"time"

	"github.com/secondbrain/strata/retry"
)

// Definition is a job submission. Payload may be any JSON-encodable value,
// or pre-encoded json.RawMessage / []byte.
type Definition struct {
	Type    string
	Payload any

	// Priority overrides the default, PriorityNormal.
	Priority *Priority

	// Retry overrides the engine's default policy. Zero fields are filled
	// from retry.DefaultConfig.
	Retry *retry.Config

	// Timeout overrides the engine's default timeout. Negative disables it.
	Timeout time.Duration

	// Delay postpones the first claim.
	Delay time.Duration

	Metadata map[string]any
	TenantID string
}

// Option adjusts a Definition built with NewDefinition.
type Option func(*Definition)

// NewDefinition creates a Definition.
func NewDefinition(jobType string, payload any, opts ...Option) Definition {
	def := Definition{Type: jobType, Payload: payload}
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// EffectivePriority is Priority, or PriorityNormal when unset.
func (d Definition) EffectivePriority() Priority {
	if d.Priority == nil {
		return PriorityNormal
	}
	return *d.Priority
}

// WithPriority sets the dispatch priority.
func WithPriority(p Priority) Option {
	return func(d *Definition) { d.Priority = &p }
}

// WithRetry sets a per-job retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(d *Definition) { d.Retry = &cfg }
}

// WithMaxAttempts sets the attempt budget on top of the default policy.
func WithMaxAttempts(n int) Option {
	return func(d *Definition) {
		cfg := retry.DefaultConfig()
		if d.Retry != nil {
			cfg = *d.Retry
		}
		cfg.MaxAttempts = n
		d.Retry = &cfg
	}
}

// WithTimeout sets the maximum execution duration.
func WithTimeout(t time.Duration) Option {
	return func(d *Definition) { d.Timeout = t }
}

// WithDelay postpones the first claim by delay.
func WithDelay(delay time.Duration) Option {
	return func(d *Definition) { d.Delay = delay }
}

// WithTenant scopes the job to a tenant.
func WithTenant(tenantID string) Option {
	return func(d *Definition) { d.TenantID = tenantID }
}

// WithMetadata attaches metadata to the job record.
func WithMetadata(m map[string]any) Option {
	return func(d *Definition) { d.Metadata = m }
}
