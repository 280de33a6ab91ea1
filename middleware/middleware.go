package middleware

import (
	"context"

	"github.com/secondbrain/strata/job"
)

// Handler is the terminal function that runs one attempt of a job.
type Handler func(ctx context.Context) (any, error)

// Middleware wraps a Handler with cross-cutting logic. It receives the
// attempt's context, the job being executed and the next handler.
// Middleware must call next unless it short-circuits with an error.
type Middleware func(ctx context.Context, j *job.Job, next Handler) (any, error)

// Chain composes middleware into one. The first middleware in the list is
// the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (any, error) {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}
