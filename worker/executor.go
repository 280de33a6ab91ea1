// Package worker runs jobs. An Executor performs one attempt of a claimed
// job through middleware and records its outcome; a Pool polls storage,
// claims eligible jobs and dispatches them to the Executor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/middleware"
	"github.com/secondbrain/strata/retry"
)

// Emitter receives job lifecycle notifications. *ext.Registry satisfies it.
type Emitter interface {
	EmitJobStarted(ctx context.Context, j *job.Job)
	EmitJobProgress(ctx context.Context, j *job.Job, p job.Progress)
	EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration)
	EmitJobFailed(ctx context.Context, j *job.Job, err error)
	EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time)
	EmitJobCancelled(ctx context.Context, j *job.Job)
	EmitJobTimedOut(ctx context.Context, j *job.Job)
	EmitEngineError(ctx context.Context, err error)
}

// timeoutMessage is the LastError message of a timed-out job.
const timeoutMessage = "Job timed out"

// Outcome describes how an attempt ended.
type Outcome struct {
	// Job is the record as persisted after the attempt. Nil when the job
	// had already settled before the attempt began.
	Job *job.Job

	// Retry is true when the job waits for another attempt after
	// RetryDelay.
	Retry      bool
	RetryDelay time.Duration

	// HandlerDone is closed when the handler goroutine returns. It is set
	// only when the attempt was settled as timed out or cancelled while the
	// handler was still running; the caller keeps its slot until then.
	HandlerDone <-chan struct{}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithSettleFunc registers a callback invoked once a job reaches a
// terminal status.
func WithSettleFunc(fn func(*job.Job)) ExecutorOption {
	return func(e *Executor) { e.onSettle = fn }
}

// WithProgressFunc registers a callback invoked for each progress report.
func WithProgressFunc(fn func(id.JobID, job.Progress)) ExecutorOption {
	return func(e *Executor) { e.onProgress = fn }
}

// WithMiddleware sets the middleware wrapping every attempt.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// Executor runs a single attempt of a job and records the outcome.
// All read-modify-write cycles on job records go through one mutex, so an
// outcome never overwrites a record that settled in the meantime.
type Executor struct {
	registry   *job.Registry
	store      job.Store
	emitter    Emitter
	mw         middleware.Middleware
	logger     *slog.Logger
	onSettle   func(*job.Job)
	onProgress func(id.JobID, job.Progress)

	recordMu sync.Mutex
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(registry *job.Registry, store job.Store, emitter Emitter, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		registry: registry,
		store:    store,
		emitter:  emitter,
		mw:       middleware.Chain(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mutate applies fn to the stored job under the record lock and persists
// the result. It reports false without calling fn when the job is already
// terminal.
func (e *Executor) Mutate(ctx context.Context, jobID id.JobID, fn func(j *job.Job)) (*job.Job, bool, error) {
	e.recordMu.Lock()
	defer e.recordMu.Unlock()

	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if j.Status.IsTerminal() {
		return j, false, nil
	}
	fn(j)
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return nil, false, err
	}
	return j, true, nil
}

// Settled notifies the settle callback that j reached a terminal status.
func (e *Executor) Settled(j *job.Job) {
	if e.onSettle != nil && j != nil {
		e.onSettle(j)
	}
}

// Requeue moves a retrying job back to pending. NextRetryAt is kept, so
// the job stays ineligible until its delay has passed.
func (e *Executor) Requeue(ctx context.Context, jobID id.JobID) (bool, error) {
	applied := false
	_, _, err := e.Mutate(ctx, jobID, func(j *job.Job) {
		if j.Status == job.StatusRetrying {
			j.Status = job.StatusPending
			applied = true
		}
	})
	return applied, err
}

type attemptResult struct {
	out any
	err error
}

// Execute runs one attempt of a claimed job. ctx is cancelled with a cause
// of strata.ErrJobCancelled or strata.ErrEngineStopped when the attempt is
// interrupted; the job's own timeout is layered on top of it.
func (e *Executor) Execute(ctx context.Context, claimed *job.Job) Outcome {
	bg := context.WithoutCancel(ctx)

	cur, began, err := e.Mutate(bg, claimed.ID, func(j *job.Job) {
		now := time.Now().UTC()
		j.Status = job.StatusRunning
		j.Attempts++
		j.NextRetryAt = nil
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	})
	if err != nil {
		e.logger.Error("failed to start job attempt",
			slog.String("job_id", claimed.ID.String()),
			slog.String("error", err.Error()),
		)
		return Outcome{}
	}
	if !began {
		return Outcome{}
	}

	e.emitter.EmitJobStarted(ctx, cur)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if cur.Timeout > 0 {
		timer := time.AfterFunc(cur.Timeout, func() { cancel(strata.ErrJobTimedOut) })
		defer timer.Stop()
	}

	handler, ok := e.registry.Get(cur.Type)
	if !ok {
		return e.fail(bg, cur, fmt.Errorf("%w: %s", strata.ErrNoHandler, cur.Type), 0, false)
	}

	var (
		metaMu  sync.Mutex
		pending map[string]any
	)
	onMetadata := func(m map[string]any) {
		metaMu.Lock()
		defer metaMu.Unlock()
		if pending == nil {
			pending = make(map[string]any, len(m))
		}
		for k, v := range m {
			pending[k] = v
		}
	}
	snapshot := cur.Clone()
	onProgress := func(p job.Progress) {
		if e.onProgress != nil {
			e.onProgress(snapshot.ID, p)
		}
		e.emitter.EmitJobProgress(runCtx, snapshot, p)
	}
	jobLogger := e.logger.With(
		slog.String("job_id", snapshot.ID.String()),
		slog.String("job_type", snapshot.Type),
	)

	terminal := func(ctx context.Context) (any, error) {
		jc := job.NewContext(ctx, jobLogger, onProgress, onMetadata)
		return handler(jc, snapshot.Clone())
	}

	start := time.Now()
	resCh := make(chan attemptResult, 1)
	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		out, err := e.mw(runCtx, snapshot, terminal)
		resCh <- attemptResult{out: out, err: err}
	}()

	var (
		res         attemptResult
		interrupted bool
	)
	select {
	case res = <-resCh:
	case <-runCtx.Done():
		interrupted = true
	}
	elapsed := time.Since(start)

	metaMu.Lock()
	meta := pending
	metaMu.Unlock()

	if !interrupted && res.err == nil {
		return e.succeed(bg, cur.ID, res.out, meta, elapsed)
	}
	if interrupted || runCtx.Err() != nil {
		var out Outcome
		if cause := context.Cause(runCtx); errors.Is(cause, strata.ErrJobTimedOut) {
			out = e.timeOut(bg, cur.ID, meta, elapsed)
		} else {
			out = e.cancelled(bg, cur.ID, cause, meta, elapsed)
		}
		if interrupted {
			out.HandlerDone = handlerDone
		}
		return out
	}

	cur.MergeMetadata(meta)
	return e.fail(bg, cur, res.err, elapsed, true)
}

func (e *Executor) succeed(ctx context.Context, jobID id.JobID, out any, meta map[string]any, elapsed time.Duration) Outcome {
	result, encErr := job.Encode(out)

	var failure error
	j, applied, err := e.Mutate(ctx, jobID, func(j *job.Job) {
		now := time.Now().UTC()
		j.MergeMetadata(meta)
		j.ExecutionTime = elapsed
		j.CompletedAt = &now
		if encErr != nil {
			failure = fmt.Errorf("encode result: %w", encErr)
			j.RecordError(newError(failure, j.Attempts, false, "permanent"))
			j.Status = job.StatusFailed
			return
		}
		j.Result = result
		j.Status = job.StatusCompleted
	})
	if err != nil {
		e.logUpdateError(jobID, err)
		return Outcome{}
	}
	if !applied {
		return Outcome{Job: j}
	}

	if failure != nil {
		e.emitter.EmitJobFailed(ctx, j, failedError(j, failure))
	} else {
		e.emitter.EmitJobCompleted(ctx, j, elapsed)
	}
	e.Settled(j)
	return Outcome{Job: j}
}

func (e *Executor) timeOut(ctx context.Context, jobID id.JobID, meta map[string]any, elapsed time.Duration) Outcome {
	j, applied, err := e.Mutate(ctx, jobID, func(j *job.Job) {
		now := time.Now().UTC()
		j.MergeMetadata(meta)
		j.RecordError(job.Error{
			Message:   timeoutMessage,
			Kind:      "timeout",
			Attempt:   j.Attempts,
			Retryable: false,
			Timestamp: now,
		})
		j.Status = job.StatusTimedOut
		j.ExecutionTime = elapsed
		j.CompletedAt = &now
	})
	if err != nil {
		e.logUpdateError(jobID, err)
		return Outcome{}
	}
	if !applied {
		return Outcome{Job: j}
	}

	e.logger.Warn("job timed out",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Duration("timeout", j.Timeout),
	)
	e.emitter.EmitJobTimedOut(ctx, j)
	e.Settled(j)
	return Outcome{Job: j}
}

func (e *Executor) cancelled(ctx context.Context, jobID id.JobID, cause error, meta map[string]any, elapsed time.Duration) Outcome {
	if cause == nil {
		cause = strata.ErrJobCancelled
	}
	j, applied, err := e.Mutate(ctx, jobID, func(j *job.Job) {
		now := time.Now().UTC()
		j.MergeMetadata(meta)
		j.RecordError(newError(cause, j.Attempts, false, "cancelled"))
		j.Status = job.StatusCancelled
		j.ExecutionTime = elapsed
		j.CompletedAt = &now
	})
	if err != nil {
		e.logUpdateError(jobID, err)
		return Outcome{}
	}
	if !applied {
		return Outcome{Job: j}
	}

	e.emitter.EmitJobCancelled(ctx, j)
	e.Settled(j)
	return Outcome{Job: j}
}

// fail records a failed attempt. When retryable is set the error is
// classified by the job's retry policy; otherwise the job fails outright.
func (e *Executor) fail(ctx context.Context, cur *job.Job, cause error, elapsed time.Duration, retryable bool) Outcome {
	policy := cur.Retry.Normalize()
	if retryable {
		retryable = retry.IsRetryable(cause, policy)
	}
	kind := retry.Kind(cause, policy)

	var (
		retrying bool
		delay    time.Duration
	)
	j, applied, err := e.Mutate(ctx, cur.ID, func(j *job.Job) {
		now := time.Now().UTC()
		j.Metadata = cur.Metadata
		j.RecordError(newError(cause, j.Attempts, retryable, kind))
		j.ExecutionTime = elapsed

		if retryable && j.CanRetry() {
			retrying = true
			delay = policy.Delay(j.Attempts)
			next := now.Add(delay)
			j.Status = job.StatusRetrying
			j.NextRetryAt = &next
			return
		}
		j.Status = job.StatusFailed
		j.CompletedAt = &now
	})
	if err != nil {
		e.logUpdateError(cur.ID, err)
		return Outcome{}
	}
	if !applied {
		return Outcome{Job: j}
	}

	if retrying {
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.Attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Duration("delay", delay),
		)
		e.emitter.EmitJobRetrying(ctx, j, j.Attempts, *j.NextRetryAt)
		return Outcome{Job: j, Retry: true, RetryDelay: delay}
	}

	e.logger.Error("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempts", j.Attempts),
		slog.String("error", cause.Error()),
	)
	e.emitter.EmitJobFailed(ctx, j, failedError(j, cause))
	e.Settled(j)
	return Outcome{Job: j}
}

func (e *Executor) logUpdateError(jobID id.JobID, err error) {
	e.logger.Error("failed to record job outcome",
		slog.String("job_id", jobID.String()),
		slog.String("error", err.Error()),
	)
}

func newError(err error, attempt int, retryable bool, kind string) job.Error {
	je := job.Error{
		Message:   err.Error(),
		Kind:      kind,
		Attempt:   attempt,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
	var sc retry.StatusCoder
	if errors.As(err, &sc) {
		je.Code = strconv.Itoa(sc.StatusCode())
	}
	return je
}

func failedError(j *job.Job, err error) error {
	return &job.FailedError{JobID: j.ID, Type: j.Type, Attempts: j.Attempts, Err: err}
}
