package strata

import "errors"

var (
	// Store errors.
	ErrNoStore            = errors.New("strata: no store configured")
	ErrStoreClosed        = errors.New("strata: store closed")
	ErrNoEntityRepository = errors.New("strata: no entity repository configured")

	// Not found errors.
	ErrJobNotFound    = errors.New("strata: job not found")
	ErrEntityNotFound = errors.New("strata: entity not found")
	ErrNoHandler      = errors.New("strata: no handler registered for job type")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("strata: job already exists")
	ErrEntityAlreadyExists = errors.New("strata: entity already exists")

	// Job outcome errors.
	ErrJobCancelled = errors.New("strata: job cancelled")
	ErrJobTimedOut  = errors.New("strata: job timed out")
	ErrJobFailed    = errors.New("strata: job failed")

	// Engine errors.
	ErrEngineStopped  = errors.New("strata: engine stopped")
	ErrEngineRunning  = errors.New("strata: engine already running")
	ErrInvalidJobType = errors.New("strata: job type is required")

	// Lifecycle errors.
	ErrInvalidState      = errors.New("strata: invalid lifecycle state")
	ErrInvalidTransition = errors.New("strata: invalid transition")
	ErrConditionNotMet   = errors.New("strata: transition condition not met")
	ErrActionFailed      = errors.New("strata: transition action failed")

	// Dissolution errors.
	ErrDissolutionPrevented = errors.New("strata: dissolution prevented")
	ErrAlreadyArchived      = errors.New("strata: entity already archived")
)
