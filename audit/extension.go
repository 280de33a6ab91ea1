package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/secondbrain/strata/dissolution"
	"github.com/secondbrain/strata/ext"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/lifecycle"
	"github.com/secondbrain/strata/scheduler"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.JobFailed            = (*Extension)(nil)
	_ ext.JobRetrying          = (*Extension)(nil)
	_ ext.JobCancelled         = (*Extension)(nil)
	_ ext.JobTimedOut          = (*Extension)(nil)
	_ ext.TransitionCompleted  = (*Extension)(nil)
	_ ext.TransitionFailed     = (*Extension)(nil)
	_ ext.DissolutionStarted   = (*Extension)(nil)
	_ ext.DissolutionCompleted = (*Extension)(nil)
	_ ext.DissolutionFailed    = (*Extension)(nil)
	_ ext.DissolutionPrevented = (*Extension)(nil)
	_ ext.ScheduleFired        = (*Extension)(nil)
	_ ext.SweepCompleted       = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Event is one audit trail entry.
type Event struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a plain function to a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// LogRecorder writes each event as one structured log line at a level
// derived from its severity.
func LogRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return RecorderFunc(func(ctx context.Context, evt *Event) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.TenantID != "" {
			attrs = append(attrs, slog.String("tenant_id", evt.TenantID))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", evt.Metadata))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity values.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges strata hooks to a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Job hooks ───────────────────────────────────────

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, event{
		action: ActionJobFailed, severity: SeverityCritical, outcome: OutcomeFailure,
		resource: ResourceJob, resourceID: j.ID.String(), category: CategoryJob,
		tenantID: j.TenantID, err: jobErr,
	},
		"job_type", j.Type,
		"attempts", j.Attempts,
		"max_attempts", j.MaxAttempts,
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) error {
	return e.record(ctx, event{
		action: ActionJobRetrying, severity: SeverityWarning, outcome: OutcomeFailure,
		resource: ResourceJob, resourceID: j.ID.String(), category: CategoryJob,
		tenantID: j.TenantID,
	},
		"job_type", j.Type,
		"attempt", attempt,
		"next_retry_at", nextRetryAt.Format(time.RFC3339),
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, event{
		action: ActionJobCancelled, severity: SeverityInfo, outcome: OutcomeFailure,
		resource: ResourceJob, resourceID: j.ID.String(), category: CategoryJob,
		tenantID: j.TenantID,
	},
		"job_type", j.Type,
	)
}

// OnJobTimedOut implements ext.JobTimedOut.
func (e *Extension) OnJobTimedOut(ctx context.Context, j *job.Job) error {
	return e.record(ctx, event{
		action: ActionJobTimedOut, severity: SeverityCritical, outcome: OutcomeFailure,
		resource: ResourceJob, resourceID: j.ID.String(), category: CategoryJob,
		tenantID: j.TenantID,
	},
		"job_type", j.Type,
		"timeout", j.Timeout.String(),
	)
}

// ── Lifecycle hooks ─────────────────────────────────

// OnTransitionCompleted implements ext.TransitionCompleted.
func (e *Extension) OnTransitionCompleted(ctx context.Context, r lifecycle.Result) error {
	return e.record(ctx, event{
		action: ActionTransitionCompleted, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceEntity, resourceID: r.EntityID, category: CategoryLifecycle,
	},
		"from", string(r.From),
		"to", string(r.To),
		"forced", r.Forced,
	)
}

// OnTransitionFailed implements ext.TransitionFailed.
func (e *Extension) OnTransitionFailed(ctx context.Context, r lifecycle.Result) error {
	return e.record(ctx, event{
		action: ActionTransitionFailed, severity: SeverityWarning, outcome: OutcomeFailure,
		resource: ResourceEntity, resourceID: r.EntityID, category: CategoryLifecycle,
		err: r.Err, reason: r.Reason,
	},
		"from", string(r.From),
		"to", string(r.To),
	)
}

// ── Dissolution hooks ───────────────────────────────

// OnDissolutionStarted implements ext.DissolutionStarted.
func (e *Extension) OnDissolutionStarted(ctx context.Context, entityID string) error {
	return e.record(ctx, event{
		action: ActionDissolutionStarted, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceEntity, resourceID: entityID, category: CategoryDissolution,
	})
}

// OnDissolutionCompleted implements ext.DissolutionCompleted.
func (e *Extension) OnDissolutionCompleted(ctx context.Context, r *dissolution.Result) error {
	return e.record(ctx, event{
		action: ActionDissolutionCompleted, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceEntity, resourceID: r.SourceID, category: CategoryDissolution,
	},
		"extracted", r.ExtractedCount,
		"entities", r.Entities,
		"archived", r.Archived,
		"elapsed_ms", r.Elapsed.Milliseconds(),
	)
}

// OnDissolutionFailed implements ext.DissolutionFailed.
func (e *Extension) OnDissolutionFailed(ctx context.Context, entityID string, runErr error) error {
	return e.record(ctx, event{
		action: ActionDissolutionFailed, severity: SeverityCritical, outcome: OutcomeFailure,
		resource: ResourceEntity, resourceID: entityID, category: CategoryDissolution,
		err: runErr,
	})
}

// OnDissolutionPrevented implements ext.DissolutionPrevented.
func (e *Extension) OnDissolutionPrevented(ctx context.Context, entityID, reason string) error {
	return e.record(ctx, event{
		action: ActionDissolutionPrevented, severity: SeverityWarning, outcome: OutcomeFailure,
		resource: ResourceEntity, resourceID: entityID, category: CategoryDissolution,
		reason: reason,
	})
}

// ── Scheduler hooks ─────────────────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (e *Extension) OnScheduleFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return e.record(ctx, event{
		action: ActionScheduleFired, severity: SeverityInfo, outcome: OutcomeSuccess,
		resource: ResourceScheduleEntry, resourceID: entryName, category: CategorySchedule,
	},
		"job_id", jobID.String(),
	)
}

// OnSweepCompleted implements ext.SweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, r *scheduler.BatchResult) error {
	outcome, severity := OutcomeSuccess, SeverityInfo
	if len(r.Errors) > 0 {
		outcome, severity = OutcomeFailure, SeverityWarning
	}
	return e.record(ctx, event{
		action: ActionSweepCompleted, severity: severity, outcome: outcome,
		resource: ResourceSweep, resourceID: r.ID.String(), category: CategorySchedule,
		tenantID: r.TenantID,
	},
		"processed", r.Processed,
		"transitioned", r.Transitioned,
		"errors", len(r.Errors),
	)
}

// ── Internal helpers ────────────────────────────────

type event struct {
	action, severity, outcome      string
	resource, resourceID, category string
	tenantID, reason               string
	err                            error
}

// record builds and sends an audit event if the action is enabled.
// kvPairs become Metadata. Recorder failures are logged, never returned.
func (e *Extension) record(ctx context.Context, ev event, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[ev.action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	reason := ev.reason
	if ev.err != nil {
		meta["error"] = ev.err.Error()
		if reason == "" {
			reason = ev.err.Error()
		}
	}

	evt := &Event{
		Action:     ev.action,
		Resource:   ev.resource,
		Category:   ev.category,
		ResourceID: ev.resourceID,
		TenantID:   ev.tenantID,
		Metadata:   meta,
		Outcome:    ev.outcome,
		Severity:   ev.severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record event",
			slog.String("action", ev.action),
			slog.String("resource_id", ev.resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
