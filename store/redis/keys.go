package redis

import "github.com/secondbrain/strata/job"

// Redis key naming conventions for strata data.
// All keys are prefixed with "strata:" to avoid collisions.

const keyPrefix = "strata:"

// jobKey returns the Hash key for a job: strata:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// pendingKey is the Sorted Set ordering pending jobs for dispatch.
const pendingKey = keyPrefix + "pending"

// statusKey returns the Sorted Set indexing jobs by status, scored by
// creation time: strata:status:{status}
func statusKey(s job.Status) string { return keyPrefix + "status:" + string(s) }

// Hash fields of a job key.
const (
	fieldData      = "data"
	fieldStatus    = "status"
	fieldCreated   = "created"
	fieldPriority  = "priority"
	fieldStartedAt = "started_at"
)
