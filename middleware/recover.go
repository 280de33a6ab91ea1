package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/secondbrain/strata/job"
)

// PanicError is returned by Recover in place of a handler panic. The retry
// policy classifies it like any other error.
type PanicError struct {
	JobType string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobType, e.Value)
}

// Recover turns handler panics into *PanicError and logs the stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (out any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			pe := &PanicError{JobType: j.Type, Value: r, Stack: debug.Stack()}
			attemptLogger(logger, j).Error("job handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(pe.Stack)),
			)
			out, err = nil, pe
		}()
		return next(ctx)
	}
}
