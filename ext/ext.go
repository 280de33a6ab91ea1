package ext

import (
	"context"
	"time"

	"github.com/secondbrain/strata/dissolution"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/lifecycle"
	"github.com/secondbrain/strata/scheduler"
)

// Extension is the base interface all extensions implement.
type Extension interface {
	// Name returns a unique name, used by Unregister.
	Name() string
}

// ──────────────────────────────────────────────────
// Job hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is persisted as pending.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a claimed job begins an attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called for each progress report from a handler.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, p job.Progress) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a failed job is scheduled for another attempt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) error
}

// JobCancelled is called when a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobTimedOut is called when a job exceeds its timeout.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Engine hooks
// ──────────────────────────────────────────────────

// EngineStarted is called when the poll loop starts.
type EngineStarted interface {
	OnEngineStarted(ctx context.Context) error
}

// EngineStopped is called when the poll loop stops.
type EngineStopped interface {
	OnEngineStopped(ctx context.Context) error
}

// EngineError is called when a poll cycle fails.
type EngineError interface {
	OnEngineError(ctx context.Context, err error) error
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// TransitionCompleted is called after an entity changes state.
type TransitionCompleted interface {
	OnTransitionCompleted(ctx context.Context, r lifecycle.Result) error
}

// TransitionFailed is called when a transition attempt fails.
type TransitionFailed interface {
	OnTransitionFailed(ctx context.Context, r lifecycle.Result) error
}

// ──────────────────────────────────────────────────
// Dissolution hooks
// ──────────────────────────────────────────────────

// DissolutionStarted is called when a dissolution run begins.
type DissolutionStarted interface {
	OnDissolutionStarted(ctx context.Context, entityID string) error
}

// DissolutionCompleted is called after a source record is dissolved.
type DissolutionCompleted interface {
	OnDissolutionCompleted(ctx context.Context, r *dissolution.Result) error
}

// DissolutionFailed is called when a dissolution run fails.
type DissolutionFailed interface {
	OnDissolutionFailed(ctx context.Context, entityID string, err error) error
}

// DissolutionPrevented is called when a record's prevent flag stops a run.
type DissolutionPrevented interface {
	OnDissolutionPrevented(ctx context.Context, entityID, reason string) error
}

// ──────────────────────────────────────────────────
// Scheduler hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called when a schedule entry submits a job.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// SweepCompleted is called after a lifecycle sweep.
type SweepCompleted interface {
	OnSweepCompleted(ctx context.Context, r *scheduler.BatchResult) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
