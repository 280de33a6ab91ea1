package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/secondbrain/strata/dissolution"
	"github.com/secondbrain/strata/ext"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/lifecycle"
	"github.com/secondbrain/strata/scheduler"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.JobSubmitted         = (*MetricsExtension)(nil)
	_ ext.JobCompleted         = (*MetricsExtension)(nil)
	_ ext.JobFailed            = (*MetricsExtension)(nil)
	_ ext.JobRetrying          = (*MetricsExtension)(nil)
	_ ext.JobCancelled         = (*MetricsExtension)(nil)
	_ ext.JobTimedOut          = (*MetricsExtension)(nil)
	_ ext.TransitionCompleted  = (*MetricsExtension)(nil)
	_ ext.TransitionFailed     = (*MetricsExtension)(nil)
	_ ext.DissolutionCompleted = (*MetricsExtension)(nil)
	_ ext.DissolutionFailed    = (*MetricsExtension)(nil)
	_ ext.DissolutionPrevented = (*MetricsExtension)(nil)
	_ ext.ScheduleFired        = (*MetricsExtension)(nil)
	_ ext.SweepCompleted       = (*MetricsExtension)(nil)
)

const meterName = "github.com/secondbrain/strata/observability"

// MetricsExtension counts system events with OTel instruments. Job
// counters carry a job_type attribute; transition counters carry from
// and to.
type MetricsExtension struct {
	JobSubmitted         metric.Int64Counter
	JobCompleted         metric.Int64Counter
	JobFailed            metric.Int64Counter
	JobRetried           metric.Int64Counter
	JobCancelled         metric.Int64Counter
	JobTimedOut          metric.Int64Counter
	JobDuration          metric.Float64Histogram
	TransitionCompleted  metric.Int64Counter
	TransitionFailed     metric.Int64Counter
	DissolutionCompleted metric.Int64Counter
	DissolutionFailed    metric.Int64Counter
	DissolutionPrevented metric.Int64Counter
	EntitiesExtracted    metric.Int64Counter
	ScheduleFired        metric.Int64Counter
	SweepTransitioned    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// Instrument errors still return a usable noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("strata.job.completed.duration",
		metric.WithDescription("Execution time of completed jobs in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobSubmitted:         counter("strata.job.submitted", "Jobs submitted"),
		JobCompleted:         counter("strata.job.completed", "Jobs completed"),
		JobFailed:            counter("strata.job.failed", "Jobs failed terminally"),
		JobRetried:           counter("strata.job.retried", "Job retries scheduled"),
		JobCancelled:         counter("strata.job.cancelled", "Jobs cancelled"),
		JobTimedOut:          counter("strata.job.timed_out", "Jobs timed out"),
		JobDuration:          duration,
		TransitionCompleted:  counter("strata.transition.completed", "Lifecycle transitions applied"),
		TransitionFailed:     counter("strata.transition.failed", "Lifecycle transitions rejected or failed"),
		DissolutionCompleted: counter("strata.dissolution.completed", "Notes dissolved"),
		DissolutionFailed:    counter("strata.dissolution.failed", "Dissolutions failed"),
		DissolutionPrevented: counter("strata.dissolution.prevented", "Dissolutions refused by prevention"),
		EntitiesExtracted:    counter("strata.dissolution.entities", "Records created or merged by dissolution"),
		ScheduleFired:        counter("strata.schedule.fired", "Scheduled entries fired"),
		SweepTransitioned:    counter("strata.sweep.transitioned", "Entities transitioned by sweeps"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", j.Type))
}

// ── Job hooks ───────────────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.JobSubmitted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	m.JobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("job_type", j.Type)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobTimedOut implements ext.JobTimedOut.
func (m *MetricsExtension) OnJobTimedOut(ctx context.Context, j *job.Job) error {
	m.JobTimedOut.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Lifecycle hooks ─────────────────────────────────

func transitionAttrs(r lifecycle.Result) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("from", string(r.From)),
		attribute.String("to", string(r.To)),
	)
}

// OnTransitionCompleted implements ext.TransitionCompleted.
func (m *MetricsExtension) OnTransitionCompleted(ctx context.Context, r lifecycle.Result) error {
	m.TransitionCompleted.Add(ctx, 1, transitionAttrs(r))
	return nil
}

// OnTransitionFailed implements ext.TransitionFailed.
func (m *MetricsExtension) OnTransitionFailed(ctx context.Context, r lifecycle.Result) error {
	m.TransitionFailed.Add(ctx, 1, transitionAttrs(r))
	return nil
}

// ── Dissolution hooks ───────────────────────────────

// OnDissolutionCompleted implements ext.DissolutionCompleted.
func (m *MetricsExtension) OnDissolutionCompleted(ctx context.Context, r *dissolution.Result) error {
	m.DissolutionCompleted.Add(ctx, 1)
	m.EntitiesExtracted.Add(ctx, int64(len(r.Entities)))
	return nil
}

// OnDissolutionFailed implements ext.DissolutionFailed.
func (m *MetricsExtension) OnDissolutionFailed(ctx context.Context, _ string, _ error) error {
	m.DissolutionFailed.Add(ctx, 1)
	return nil
}

// OnDissolutionPrevented implements ext.DissolutionPrevented.
func (m *MetricsExtension) OnDissolutionPrevented(ctx context.Context, _, _ string) error {
	m.DissolutionPrevented.Add(ctx, 1)
	return nil
}

// ── Scheduler hooks ─────────────────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.ScheduleFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}

// OnSweepCompleted implements ext.SweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(ctx context.Context, r *scheduler.BatchResult) error {
	m.SweepTransitioned.Add(ctx, int64(r.Transitioned))
	return nil
}
