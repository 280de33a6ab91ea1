package job

import (
	"context"
	"time"

	"github.com/secondbrain/strata/id"
)

// DefaultListLimit applies when ListJobsByStatus is called with limit <= 0.
const DefaultListLimit = 100

// Stats summarizes a store's contents.
type Stats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Retrying  int64 `json:"retrying"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	TimedOut  int64 `json:"timed_out"`

	// TotalProcessed counts jobs that reached a terminal status.
	TotalProcessed int64 `json:"total_processed"`

	// AverageExecution is the mean ExecutionTime of completed and failed
	// jobs.
	AverageExecution time.Duration `json:"average_execution"`
}

// Add counts one job with the given status.
func (s *Stats) Add(status Status) {
	switch status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusRetrying:
		s.Retrying++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	case StatusTimedOut:
		s.TimedOut++
	}
	if status.IsTerminal() {
		s.TotalProcessed++
	}
}

// Store defines the persistence contract for jobs.
type Store interface {
	// SaveJob persists a new job. It fails with strata.ErrJobAlreadyExists
	// when the ID is taken.
	SaveJob(ctx context.Context, j *Job) error

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID, or strata.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// NextPendingJobs returns up to limit pending jobs ordered by priority
	// (descending) then creation time (ascending). Jobs whose NextRetryAt
	// is in the future are excluded. It does not claim them.
	NextPendingJobs(ctx context.Context, limit int) ([]*Job, error)

	// ListJobsByStatus returns jobs with the given status, oldest first.
	ListJobsByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)

	// MarkJobRunning atomically moves a job from pending to running and
	// stamps StartedAt. It returns false when the job was not pending.
	MarkJobRunning(ctx context.Context, jobID id.JobID) (bool, error)

	// DeleteJob removes a job.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// JobStats summarizes the store.
	JobStats(ctx context.Context) (*Stats, error)
}
