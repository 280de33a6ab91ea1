// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps one handler attempt. Middleware are composed with
// [Chain] and applied right-to-left: the first middleware in the slice is
// the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs job type, attempt, duration and outcome
//   - [Recover] converts handler panics into errors
//   - [Tracing] wraps each attempt in an OpenTelemetry span
//   - [Metrics] records per-attempt duration and outcome counters
//
// Timeouts are not middleware: the engine arms a per-job timer and
// cancels the attempt's context with strata.ErrJobTimedOut.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) (any, error) {
//	        // pre-processing
//	        out, err := next(ctx)
//	        // post-processing
//	        return out, err
//	    }
//	}
package middleware
