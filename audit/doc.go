// Package audit is a strata extension that turns job failures, lifecycle
// transitions and dissolution runs into structured audit events.
//
// Events go through the [Recorder] interface. Severity is info for normal
// operations, warning for retries and refused dissolutions, and critical
// for terminal failures.
//
// # Logging recorder
//
//	eng, _ := engine.New(store,
//	    engine.WithExtension(audit.New(audit.LogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionJobFailed,
//	        audit.ActionDissolutionCompleted,
//	    ),
//	)
package audit
