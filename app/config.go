package app

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/scheduler"
)

// Config holds everything needed to assemble a running strata node.
type Config struct {
	strata.Config

	// Store is the job store DSN passed to store.Open.
	Store string `json:"store"`

	// Entities is the entity repository DSN. Empty means the job store
	// also serves entities.
	Entities string `json:"entities,omitempty"`

	// Audit records job failures, transitions and dissolutions to the log.
	Audit bool `json:"audit"`

	// DisableScheduler builds the node without the cron scheduler. Sweeps
	// then only run when submitted explicitly.
	DisableScheduler bool `json:"disable_scheduler"`
}

// DefaultConfig returns the default node configuration backed by an
// in-memory store.
func DefaultConfig() Config {
	return Config{
		Config: strata.DefaultConfig(),
		Store:  "memory://",
	}
}

// Environment variables read by [LoadEnv].
const (
	EnvStore               = "STRATA_STORE"
	EnvEntities            = "STRATA_ENTITIES"
	EnvAudit               = "STRATA_AUDIT"
	EnvConcurrency         = "STRATA_CONCURRENCY"
	EnvPollInterval        = "STRATA_POLL_INTERVAL"
	EnvDefaultTimeout      = "STRATA_DEFAULT_TIMEOUT"
	EnvShutdownTimeout     = "STRATA_SHUTDOWN_TIMEOUT"
	EnvSweepSchedule       = "STRATA_SWEEP_SCHEDULE"
	EnvDissolutionSchedule = "STRATA_DISSOLUTION_SCHEDULE"
	EnvSweepBatchSize      = "STRATA_SWEEP_BATCH_SIZE"
	EnvTransitionAge       = "STRATA_TRANSITION_AGE"
	EnvDissolutionAge      = "STRATA_DISSOLUTION_AGE"
	EnvSourceType          = "STRATA_SOURCE_TYPE"
)

// LoadEnv overlays STRATA_* variables onto cfg. lookup is usually
// os.LookupEnv. Unset variables leave the field untouched; malformed
// values are an error.
func LoadEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str(EnvStore, &cfg.Store)
	str(EnvEntities, &cfg.Entities)
	boolean(EnvAudit, &cfg.Audit)
	integer(EnvConcurrency, &cfg.Concurrency)
	duration(EnvPollInterval, &cfg.PollInterval)
	duration(EnvDefaultTimeout, &cfg.DefaultTimeout)
	duration(EnvShutdownTimeout, &cfg.ShutdownTimeout)
	str(EnvSweepSchedule, &cfg.SweepSchedule)
	str(EnvDissolutionSchedule, &cfg.DissolutionSchedule)
	integer(EnvSweepBatchSize, &cfg.SweepBatchSize)
	duration(EnvTransitionAge, &cfg.TransitionAge)
	duration(EnvDissolutionAge, &cfg.DissolutionAge)
	str(EnvSourceType, &cfg.DissolutionSourceType)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("strata: invalid environment: %w", errs[0])
	}
	return cfg, nil
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Store == "" {
		cfg.Store = def.Store
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = def.SweepSchedule
	}
	if cfg.DissolutionSchedule == "" {
		cfg.DissolutionSchedule = def.DissolutionSchedule
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = def.SweepBatchSize
	}
	if cfg.TransitionAge <= 0 {
		cfg.TransitionAge = def.TransitionAge
	}
	if cfg.DissolutionAge <= 0 {
		cfg.DissolutionAge = def.DissolutionAge
	}
	if cfg.DissolutionSourceType == "" {
		cfg.DissolutionSourceType = def.DissolutionSourceType
	}
	return cfg
}

// Validate checks the schedules parse.
func (c Config) Validate() error {
	if _, err := scheduler.ParseSchedule(c.SweepSchedule); err != nil {
		return fmt.Errorf("strata: sweep schedule %q: %w", c.SweepSchedule, err)
	}
	if _, err := scheduler.ParseSchedule(c.DissolutionSchedule); err != nil {
		return fmt.Errorf("strata: dissolution schedule %q: %w", c.DissolutionSchedule, err)
	}
	return nil
}

// redact hides the password of a URL-style DSN for logging.
func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
