// Package lifecycle implements the entity lifecycle state machine.
//
// Entities mature through four states:
//
//	capture → transitional → permanent
//	capture|transitional|permanent → archived (manual)
//
// Each declared [Transition] carries a trigger, conditions evaluated
// against the entity, and actions run in order before the new state is
// persisted. A failing action aborts the transition with the state left
// untouched.
//
// Transition failures are reported as a [Result] with Success false and a
// matching sentinel in Result.Err. They are not returned as Go errors,
// because lifecycle evaluation runs in batches and one bad record must not
// abort the batch.
package lifecycle
