package strata

import "time"

// Config holds the runtime knobs shared by the engine, the scheduler and
// the dissolution workflow.
type Config struct {
	// Concurrency is the maximum number of jobs executed at once.
	Concurrency int

	// PollInterval is how often the engine polls storage for work.
	PollInterval time.Duration

	// DefaultTimeout applies to jobs submitted without a timeout.
	// Zero disables the timeout.
	DefaultTimeout time.Duration

	// ShutdownTimeout bounds a graceful stop initiated by the host.
	ShutdownTimeout time.Duration

	// SweepSchedule is the cron expression for the lifecycle sweep.
	SweepSchedule string

	// DissolutionSchedule is the cron expression for the dissolution review.
	DissolutionSchedule string

	// SweepBatchSize caps the entities evaluated per sweep.
	SweepBatchSize int

	// TransitionAge is the age at which capture records become
	// transitional.
	TransitionAge time.Duration

	// DissolutionAge is the age at which capture records are dissolved.
	DissolutionAge time.Duration

	// DissolutionSourceType is the entity type eligible for dissolution.
	DissolutionSourceType string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:           10,
		PollInterval:          1 * time.Second,
		DefaultTimeout:        5 * time.Minute,
		ShutdownTimeout:       30 * time.Second,
		SweepSchedule:         "0 * * * *",
		DissolutionSchedule:   "@hourly",
		SweepBatchSize:        100,
		TransitionAge:         48 * time.Hour,
		DissolutionAge:        48 * time.Hour,
		DissolutionSourceType: "daily-note",
	}
}
