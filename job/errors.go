package job

import (
	"fmt"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
)

// FailedError is returned from waits on a job that ended failed.
type FailedError struct {
	JobID    id.JobID
	Type     string
	Attempts int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("strata: job %s (%s) failed after %d attempt(s): %v", e.JobID, e.Type, e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Is matches strata.ErrJobFailed.
func (e *FailedError) Is(target error) bool { return target == strata.ErrJobFailed }
