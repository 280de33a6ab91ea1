package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

// Throttle controls per-type and per-tenant concurrency and rate limits.
// The pool calls Acquire before claiming a job and Release after the
// attempt ends.
type Throttle interface {
	// Acquire reports whether a job of jobType for tenantID may start now.
	Acquire(jobType, tenantID string) bool
	// Release returns the slot taken by Acquire.
	Release(jobType, tenantID string)
}

// Pool polls storage for eligible jobs and runs each claimed job on its
// own goroutine, up to the configured concurrency.
type Pool struct {
	store        job.Store
	executor     *Executor
	emitter      Emitter
	throttle     Throttle
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger

	wakeCh chan struct{}

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]context.CancelCauseFunc
	waiting  map[string]context.CancelCauseFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the maximum number of jobs executed at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often the pool polls for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithThrottle sets the throttle consulted before each claim.
func WithThrottle(t Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, emitter Emitter, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		emitter:      emitter,
		concurrency:  10,
		pollInterval: time.Second,
		logger:       logger,
		wakeCh:       make(chan struct{}, 1),
		active:       make(map[string]context.CancelCauseFunc),
		waiting:      make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the poll loop. It returns immediately. A stopped pool
// may be started again.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return strata.ErrEngineRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.loopDone = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	go p.pollLoop(p.stopCh, p.loopDone)
	return nil
}

// Running reports whether the poll loop is active.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop stops claiming new jobs and waits for in-flight handlers to return.
// Jobs waiting out a retry delay are returned to pending at once. If ctx
// ends first, the remaining jobs are cancelled and Stop still waits for
// their handlers before returning ctx.Err().
func (p *Pool) Stop(ctx context.Context) error {
	loopDone, ok := p.halt()
	if !ok {
		return nil
	}
	<-loopDone

	p.logger.Info("worker pool stopping", slog.Int("active", p.ActiveCount()))
	p.cancelWaiting(strata.ErrEngineStopped)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActive(strata.ErrEngineStopped)
		<-done
		return ctx.Err()
	}
}

// Halt stops the poll loop and cancels every in-flight job without
// waiting for them.
func (p *Pool) Halt() {
	if _, ok := p.halt(); !ok {
		return
	}
	p.logger.Warn("worker pool halted", slog.Int("active", p.ActiveCount()))
	p.cancelWaiting(strata.ErrEngineStopped)
	p.cancelActive(strata.ErrEngineStopped)
}

func (p *Pool) halt() (chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil, false
	}
	p.running = false
	close(p.stopCh)
	return p.loopDone, true
}

// Wake triggers an immediate poll. It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Cancel marks a non-terminal job cancelled and interrupts it if it is
// executing or waiting to retry. It reports false for terminal jobs.
func (p *Pool) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	j, applied, err := p.executor.Mutate(ctx, jobID, func(j *job.Job) {
		now := time.Now().UTC()
		j.Status = job.StatusCancelled
		j.CompletedAt = &now
		j.NextRetryAt = nil
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	p.activeMu.Lock()
	if cancel, ok := p.active[jobID.String()]; ok {
		cancel(strata.ErrJobCancelled)
	}
	if cancel, ok := p.waiting[jobID.String()]; ok {
		cancel(strata.ErrJobCancelled)
	}
	p.activeMu.Unlock()

	p.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	p.emitter.EmitJobCancelled(ctx, j)
	p.executor.Settled(j)
	return true, nil
}

func (p *Pool) pollLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll(stopCh)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.poll(stopCh)
		case <-p.wakeCh:
			p.poll(stopCh)
		}
	}
}

// poll claims up to the free capacity and dispatches the winners.
func (p *Pool) poll(stopCh <-chan struct{}) {
	capacity := p.concurrency - p.ActiveCount()
	if capacity <= 0 {
		return
	}

	ctx := context.Background()
	jobs, err := p.store.NextPendingJobs(ctx, capacity)
	if err != nil {
		p.logger.Error("poll error", slog.String("error", err.Error()))
		p.emitter.EmitEngineError(ctx, err)
		return
	}

	for _, j := range jobs {
		select {
		case <-stopCh:
			return
		default:
		}

		if p.throttle != nil && !p.throttle.Acquire(j.Type, j.TenantID) {
			continue
		}

		claimed, claimErr := p.store.MarkJobRunning(ctx, j.ID)
		if claimErr != nil || !claimed {
			if claimErr != nil {
				p.logger.Error("claim error",
					slog.String("job_id", j.ID.String()),
					slog.String("error", claimErr.Error()),
				)
			}
			p.release(j)
			continue
		}

		p.dispatch(j)
	}
}

func (p *Pool) dispatch(j *job.Job) {
	ctx, cancel := context.WithCancelCause(context.Background())
	p.track(p.active, j.ID, cancel)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel(nil)

		out := p.executor.Execute(ctx, j)
		if out.HandlerDone != nil {
			// The record is already settled; the slot stays taken until
			// the handler gives up.
			<-out.HandlerDone
		}

		p.untrack(p.active, j.ID)
		p.release(j)

		if out.Retry {
			p.scheduleRetry(j.ID, out.RetryDelay)
		}
		// A slot opened up.
		p.Wake()
	}()
}

// scheduleRetry waits out delay and then returns the job to pending. A
// stopping pool returns it at once; NextRetryAt keeps it ineligible until
// the delay has passed.
func (p *Pool) scheduleRetry(jobID id.JobID, delay time.Duration) {
	ctx, cancel := context.WithCancelCause(context.Background())

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		cancel(nil)
		p.requeue(jobID)
		return
	}
	p.track(p.waiting, jobID, cancel)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer cancel(nil)
		defer p.untrack(p.waiting, jobID)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		p.requeue(jobID)
		p.Wake()
	}()
}

func (p *Pool) requeue(jobID id.JobID) {
	if _, err := p.executor.Requeue(context.Background(), jobID); err != nil {
		p.logger.Error("failed to requeue job",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) release(j *job.Job) {
	if p.throttle != nil {
		p.throttle.Release(j.Type, j.TenantID)
	}
}

func (p *Pool) track(m map[string]context.CancelCauseFunc, jobID id.JobID, cancel context.CancelCauseFunc) {
	p.activeMu.Lock()
	m[jobID.String()] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(m map[string]context.CancelCauseFunc, jobID id.JobID) {
	p.activeMu.Lock()
	delete(m, jobID.String())
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive(cause error) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel(cause)
	}
}

func (p *Pool) cancelWaiting(cause error) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.waiting {
		cancel(cause)
	}
}
