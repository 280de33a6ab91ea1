package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/secondbrain/strata/dissolution"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/lifecycle"
	"github.com/secondbrain/strata/scheduler"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// hookList is the type-cached subscriber list for one event.
type hookList[H any] []entry[H]

func (l *hookList[H]) add(e Extension) {
	if h, ok := e.(H); ok {
		*l = append(*l, entry[H]{name: e.Name(), hook: h})
	}
}

func (l *hookList[H]) remove(name string) {
	kept := (*l)[:0]
	for _, e := range *l {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	clear((*l)[len(kept):])
	*l = kept
}

// Registry holds registered extensions and dispatches events to them. It
// type-caches extensions at registration so emit calls iterate only over
// extensions implementing the relevant hook. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extensions []Extension
	logger     *slog.Logger

	jobSubmitted         hookList[JobSubmitted]
	jobStarted           hookList[JobStarted]
	jobProgress          hookList[JobProgress]
	jobCompleted         hookList[JobCompleted]
	jobFailed            hookList[JobFailed]
	jobRetrying          hookList[JobRetrying]
	jobCancelled         hookList[JobCancelled]
	jobTimedOut          hookList[JobTimedOut]
	engineStarted        hookList[EngineStarted]
	engineStopped        hookList[EngineStopped]
	engineError          hookList[EngineError]
	transitionCompleted  hookList[TransitionCompleted]
	transitionFailed     hookList[TransitionFailed]
	dissolutionStarted   hookList[DissolutionStarted]
	dissolutionCompleted hookList[DissolutionCompleted]
	dissolutionFailed    hookList[DissolutionFailed]
	dissolutionPrevented hookList[DissolutionPrevented]
	scheduleFired        hookList[ScheduleFired]
	sweepCompleted       hookList[SweepCompleted]
	shutdown             hookList[Shutdown]
}

// NewRegistry creates a registry. A nil logger means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register subscribes e to every hook it implements. Extensions are
// notified in registration order.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extensions = append(r.extensions, e)
	r.jobSubmitted.add(e)
	r.jobStarted.add(e)
	r.jobProgress.add(e)
	r.jobCompleted.add(e)
	r.jobFailed.add(e)
	r.jobRetrying.add(e)
	r.jobCancelled.add(e)
	r.jobTimedOut.add(e)
	r.engineStarted.add(e)
	r.engineStopped.add(e)
	r.engineError.add(e)
	r.transitionCompleted.add(e)
	r.transitionFailed.add(e)
	r.dissolutionStarted.add(e)
	r.dissolutionCompleted.add(e)
	r.dissolutionFailed.add(e)
	r.dissolutionPrevented.add(e)
	r.scheduleFired.add(e)
	r.sweepCompleted.add(e)
	r.shutdown.add(e)
}

// Unregister removes every extension registered under name. It reports
// whether any was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.extensions[:0]
	for _, e := range r.extensions {
		if e.Name() != name {
			kept = append(kept, e)
		}
	}
	removed := len(kept) != len(r.extensions)
	clear(r.extensions[len(kept):])
	r.extensions = kept

	r.jobSubmitted.remove(name)
	r.jobStarted.remove(name)
	r.jobProgress.remove(name)
	r.jobCompleted.remove(name)
	r.jobFailed.remove(name)
	r.jobRetrying.remove(name)
	r.jobCancelled.remove(name)
	r.jobTimedOut.remove(name)
	r.engineStarted.remove(name)
	r.engineStopped.remove(name)
	r.engineError.remove(name)
	r.transitionCompleted.remove(name)
	r.transitionFailed.remove(name)
	r.dissolutionStarted.remove(name)
	r.dissolutionCompleted.remove(name)
	r.dissolutionFailed.remove(name)
	r.dissolutionPrevented.remove(name)
	r.scheduleFired.remove(name)
	r.sweepCompleted.remove(name)
	r.shutdown.remove(name)
	return removed
}

// Extensions returns the registered extensions.
func (r *Registry) Extensions() []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Extension(nil), r.extensions...)
}

// emit snapshots a hook list under the read lock and calls each hook
// outside it, so hooks may register or unregister extensions.
func emit[H any](r *Registry, list *hookList[H], hook string, call func(H) error) {
	r.mu.RLock()
	entries := append([]entry[H](nil), (*list)...)
	r.mu.RUnlock()

	for _, e := range entries {
		if err := call(e.hook); err != nil {
			r.logHookError(hook, e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies JobSubmitted hooks.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	emit(r, &r.jobSubmitted, "OnJobSubmitted", func(h JobSubmitted) error { return h.OnJobSubmitted(ctx, j) })
}

// EmitJobStarted notifies JobStarted hooks.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	emit(r, &r.jobStarted, "OnJobStarted", func(h JobStarted) error { return h.OnJobStarted(ctx, j) })
}

// EmitJobProgress notifies JobProgress hooks.
func (r *Registry) EmitJobProgress(ctx context.Context, j *job.Job, p job.Progress) {
	emit(r, &r.jobProgress, "OnJobProgress", func(h JobProgress) error { return h.OnJobProgress(ctx, j, p) })
}

// EmitJobCompleted notifies JobCompleted hooks.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	emit(r, &r.jobCompleted, "OnJobCompleted", func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

// EmitJobFailed notifies JobFailed hooks.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	emit(r, &r.jobFailed, "OnJobFailed", func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

// EmitJobRetrying notifies JobRetrying hooks.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) {
	emit(r, &r.jobRetrying, "OnJobRetrying", func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, attempt, nextRetryAt)
	})
}

// EmitJobCancelled notifies JobCancelled hooks.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	emit(r, &r.jobCancelled, "OnJobCancelled", func(h JobCancelled) error { return h.OnJobCancelled(ctx, j) })
}

// EmitJobTimedOut notifies JobTimedOut hooks.
func (r *Registry) EmitJobTimedOut(ctx context.Context, j *job.Job) {
	emit(r, &r.jobTimedOut, "OnJobTimedOut", func(h JobTimedOut) error { return h.OnJobTimedOut(ctx, j) })
}

// ──────────────────────────────────────────────────
// Engine event emitters
// ──────────────────────────────────────────────────

// EmitEngineStarted notifies EngineStarted hooks.
func (r *Registry) EmitEngineStarted(ctx context.Context) {
	emit(r, &r.engineStarted, "OnEngineStarted", func(h EngineStarted) error { return h.OnEngineStarted(ctx) })
}

// EmitEngineStopped notifies EngineStopped hooks.
func (r *Registry) EmitEngineStopped(ctx context.Context) {
	emit(r, &r.engineStopped, "OnEngineStopped", func(h EngineStopped) error { return h.OnEngineStopped(ctx) })
}

// EmitEngineError notifies EngineError hooks.
func (r *Registry) EmitEngineError(ctx context.Context, engErr error) {
	emit(r, &r.engineError, "OnEngineError", func(h EngineError) error { return h.OnEngineError(ctx, engErr) })
}

// ──────────────────────────────────────────────────
// Lifecycle event emitters (satisfy lifecycle.Emitter)
// ──────────────────────────────────────────────────

// EmitTransitionCompleted notifies TransitionCompleted hooks.
func (r *Registry) EmitTransitionCompleted(ctx context.Context, res lifecycle.Result) {
	emit(r, &r.transitionCompleted, "OnTransitionCompleted", func(h TransitionCompleted) error {
		return h.OnTransitionCompleted(ctx, res)
	})
}

// EmitTransitionFailed notifies TransitionFailed hooks.
func (r *Registry) EmitTransitionFailed(ctx context.Context, res lifecycle.Result) {
	emit(r, &r.transitionFailed, "OnTransitionFailed", func(h TransitionFailed) error {
		return h.OnTransitionFailed(ctx, res)
	})
}

// ──────────────────────────────────────────────────
// Dissolution event emitters (satisfy dissolution.Emitter)
// ──────────────────────────────────────────────────

// EmitDissolutionStarted notifies DissolutionStarted hooks.
func (r *Registry) EmitDissolutionStarted(ctx context.Context, entityID string) {
	emit(r, &r.dissolutionStarted, "OnDissolutionStarted", func(h DissolutionStarted) error {
		return h.OnDissolutionStarted(ctx, entityID)
	})
}

// EmitDissolutionCompleted notifies DissolutionCompleted hooks.
func (r *Registry) EmitDissolutionCompleted(ctx context.Context, res *dissolution.Result) {
	emit(r, &r.dissolutionCompleted, "OnDissolutionCompleted", func(h DissolutionCompleted) error {
		return h.OnDissolutionCompleted(ctx, res)
	})
}

// EmitDissolutionFailed notifies DissolutionFailed hooks.
func (r *Registry) EmitDissolutionFailed(ctx context.Context, entityID string, runErr error) {
	emit(r, &r.dissolutionFailed, "OnDissolutionFailed", func(h DissolutionFailed) error {
		return h.OnDissolutionFailed(ctx, entityID, runErr)
	})
}

// EmitDissolutionPrevented notifies DissolutionPrevented hooks.
func (r *Registry) EmitDissolutionPrevented(ctx context.Context, entityID, reason string) {
	emit(r, &r.dissolutionPrevented, "OnDissolutionPrevented", func(h DissolutionPrevented) error {
		return h.OnDissolutionPrevented(ctx, entityID, reason)
	})
}

// ──────────────────────────────────────────────────
// Scheduler event emitters (satisfy scheduler.Emitter)
// ──────────────────────────────────────────────────

// EmitScheduleFired notifies ScheduleFired hooks.
func (r *Registry) EmitScheduleFired(ctx context.Context, entryName string, jobID id.JobID) {
	emit(r, &r.scheduleFired, "OnScheduleFired", func(h ScheduleFired) error {
		return h.OnScheduleFired(ctx, entryName, jobID)
	})
}

// EmitSweepCompleted notifies SweepCompleted hooks.
func (r *Registry) EmitSweepCompleted(ctx context.Context, res *scheduler.BatchResult) {
	emit(r, &r.sweepCompleted, "OnSweepCompleted", func(h SweepCompleted) error {
		return h.OnSweepCompleted(ctx, res)
	})
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, &r.shutdown, "OnShutdown", func(h Shutdown) error { return h.OnShutdown(ctx) })
}

// logHookError logs a hook failure. Hook errors never block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
