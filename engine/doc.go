// Package engine is the job engine: it accepts submissions, persists them
// through a job.Store, and executes them on a bounded worker pool with
// retries, timeouts and cancellation.
//
// The engine sits above the subsystem packages (job, worker, middleware,
// ext, throttle) and below the application layer. The lifecycle sweep and
// dissolution workflows run on it as ordinary job handlers.
//
// # Building an Engine
//
//	eng, err := engine.New(sqliteStore,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(audit),
//	    engine.WithThrottle(throttle.New(throttle.Limit{
//	        Type:           dissolution.JobTypeDissolve,
//	        MaxConcurrency: 2,
//	    })),
//	)
//
// # Registering Handlers
//
//	engine.Register(eng, "email.send", func(jc *job.Context, in EmailInput) (Receipt, error) {
//	    jc.ReportProgress(50, "rendering")
//	    return send(jc.Context(), in)
//	})
//
// # Submitting Jobs
//
//	h, err := eng.Submit(ctx, job.NewDefinition("email.send", input,
//	    job.WithPriority(job.PriorityHigh),
//	    job.WithTimeout(30*time.Second),
//	))
//	receipt, err := engine.Await[Receipt](ctx, h)
//
// A Handle can be recovered later from the job ID with [Engine.Handle].
//
// # Options
//
//   - [WithConfig]: concurrency, poll interval and default timeout
//   - [WithLogger]: the slog logger for the engine and handlers
//   - [WithRetry]: the default retry policy
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithThrottle]: per-type and per-tenant limits
//   - [WithTracerProvider] and [WithMeterProvider]: OpenTelemetry providers
package engine
