// Package job defines the job record, submissions, the handler context
// bundle and the storage contract.
//
// # Job Record
//
// A [Job] is a unit of asynchronous work. It embeds [strata.Timestamps],
// carries an opaque JSON payload, and moves through these statuses:
//
//	pending → running → completed
//	pending → running → retrying → pending → running → ...
//	pending → running → failed
//	pending → running → timed_out
//	pending|running|retrying → cancelled
//
// Only the engine writes status fields. Handlers attach data through
// [Context.UpdateMetadata].
//
// # Handlers
//
// A [HandlerFunc] receives a [Context] and a copy of the job. [Typed]
// adapts a strongly-typed function by decoding the payload first:
//
//	reg.Register("email.send", job.Typed(func(jc *job.Context, p Email) (Receipt, error) {
//	    return mailer.Send(jc.Context(), p)
//	}))
//
// # Storage
//
// [Store] is implemented by store/memory, store/redis, store/sqlite and
// store/postgres. MarkJobRunning is the only mutual-exclusion primitive the
// engine relies on.
package job
