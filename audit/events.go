package audit

// Audit event actions. Each constant corresponds to one ext hook and
// becomes the Action field of the audit event.
const (
	ActionJobFailed            = "job.failed"
	ActionJobRetrying          = "job.retrying"
	ActionJobCancelled         = "job.cancelled"
	ActionJobTimedOut          = "job.timed_out"
	ActionTransitionCompleted  = "entity.transitioned"
	ActionTransitionFailed     = "entity.transition_failed"
	ActionDissolutionStarted   = "dissolution.started"
	ActionDissolutionCompleted = "dissolution.completed"
	ActionDissolutionFailed    = "dissolution.failed"
	ActionDissolutionPrevented = "dissolution.prevented"
	ActionScheduleFired        = "schedule.fired"
	ActionSweepCompleted       = "sweep.completed"
)

// Audit event categories group related actions.
const (
	CategoryJob         = "strata.job"
	CategoryLifecycle   = "strata.lifecycle"
	CategoryDissolution = "strata.dissolution"
	CategorySchedule    = "strata.schedule"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob           = "job"
	ResourceEntity        = "entity"
	ResourceScheduleEntry = "schedule_entry"
	ResourceSweep         = "sweep"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionJobTimedOut,
		ActionTransitionCompleted,
		ActionTransitionFailed,
		ActionDissolutionStarted,
		ActionDissolutionCompleted,
		ActionDissolutionFailed,
		ActionDissolutionPrevented,
		ActionScheduleFired,
		ActionSweepCompleted,
	}
}
