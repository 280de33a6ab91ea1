// Package strata is the background execution substrate of a personal
// knowledge base: a retrying job engine and the time-driven lifecycle
// automation built on top of it.
//
// strata is a library, not a service. Import it, pick a job store, and
// register handlers as ordinary Go functions.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New(),
//	    engine.WithConfig(strata.DefaultConfig()),
//	)
//	engine.Register(eng, "email.send", func(jc *job.Context, p EmailPayload) (Receipt, error) {
//	    return send(jc.Context(), p)
//	})
//	h, _ := eng.Submit(ctx, job.Definition{Type: "email.send", Payload: p})
//	out, err := engine.Await[Receipt](ctx, h)
//
// # Architecture
//
// Each subsystem defines the contract it consumes: job.Store for job
// records, entity.Repository for lifecycle-bearing records, and
// extract.Extractor for turning free text into candidates. The memory,
// sqlite, redis and postgres packages under store/ implement them.
//
// The lifecycle package owns the state machine. The scheduler package
// drives periodic sweeps by submitting jobs to the engine, and the
// dissolution package archives stale capture records after extracting
// permanent entities from them.
//
// All generated IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package strata
