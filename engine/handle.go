package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

// Handle tracks one submitted job.
type Handle struct {
	id   id.JobID
	eng  *Engine
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	final    *job.Job
	progress *job.Progress
}

func newHandle(eng *Engine, jobID id.JobID) *Handle {
	return &Handle{id: jobID, eng: eng, done: make(chan struct{})}
}

// ID returns the job ID.
func (h *Handle) ID() id.JobID { return h.id }

// Done is closed once the job reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Status reads the job's current status from storage.
func (h *Handle) Status(ctx context.Context) (job.Status, error) {
	j, err := h.eng.GetJob(ctx, h.id)
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

// Progress returns the latest progress report, if any.
func (h *Handle) Progress() (job.Progress, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.progress == nil {
		return job.Progress{}, false
	}
	return *h.progress, true
}

// Cancel cancels the job. See Engine.CancelJob.
func (h *Handle) Cancel(ctx context.Context) (bool, error) {
	return h.eng.CancelJob(ctx, h.id)
}

// Job returns the settled job record, or nil while the job is not
// terminal.
func (h *Handle) Job() *job.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.final.Clone()
}

// Wait blocks until the job settles or ctx ends. A completed job yields
// its JSON result. Cancelled and timed-out jobs yield strata.ErrJobCancelled
// and strata.ErrJobTimedOut; failed jobs yield a *job.FailedError.
func (h *Handle) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	j := h.final
	h.mu.Unlock()
	return outcome(j)
}

// Await waits for h and decodes the result into R.
func Await[R any](ctx context.Context, h *Handle) (R, error) {
	var out R
	raw, err := h.Wait(ctx)
	if err != nil {
		return out, err
	}
	if err := job.Decode(raw, &out); err != nil {
		return out, fmt.Errorf("decode result of job %s: %w", h.id, err)
	}
	return out, nil
}

func (h *Handle) resolve(j *job.Job) {
	h.once.Do(func() {
		h.mu.Lock()
		h.final = j.Clone()
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *Handle) setProgress(p job.Progress) {
	h.mu.Lock()
	h.progress = &p
	h.mu.Unlock()
}

func outcome(j *job.Job) (json.RawMessage, error) {
	switch j.Status {
	case job.StatusCompleted:
		return j.Result, nil
	case job.StatusCancelled:
		return nil, strata.ErrJobCancelled
	case job.StatusTimedOut:
		return nil, strata.ErrJobTimedOut
	default:
		cause := strata.ErrJobFailed
		if j.LastError != nil {
			cause = errors.New(j.LastError.Message)
		}
		return nil, &job.FailedError{JobID: j.ID, Type: j.Type, Attempts: j.Attempts, Err: cause}
	}
}
