package job

import (
	"context"
	"log/slog"
	"time"
)

// Context is the bundle handed to every handler invocation: the
// cancellation signal, a job-scoped logger, and the progress and metadata
// side channels.
type Context struct {
	ctx        context.Context
	logger     *slog.Logger
	onProgress func(Progress)
	onMetadata func(map[string]any)
}

// NewContext builds a handler context. Nil callbacks are ignored.
func NewContext(ctx context.Context, logger *slog.Logger, onProgress func(Progress), onMetadata func(map[string]any)) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{ctx: ctx, logger: logger, onProgress: onProgress, onMetadata: onMetadata}
}

// Context returns the execution context. It is cancelled on timeout,
// explicit cancellation and non-graceful engine shutdown.
func (c *Context) Context() context.Context { return c.ctx }

// Done is shorthand for Context().Done().
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Err is shorthand for Context().Err().
func (c *Context) Err() error { return c.ctx.Err() }

// Logger returns a logger scoped to the job.
func (c *Context) Logger() *slog.Logger { return c.logger }

// ReportProgress publishes a best-effort progress report. Reports are not
// persisted.
func (c *Context) ReportProgress(percent float64, message string) {
	if c.onProgress == nil {
		return
	}
	c.onProgress(Progress{Percent: percent, Message: message, ReportedAt: time.Now().UTC()})
}

// UpdateMetadata merges m into the job record's metadata. Nil values
// delete keys.
func (c *Context) UpdateMetadata(m map[string]any) {
	if c.onMetadata == nil || len(m) == 0 {
		return
	}
	c.onMetadata(m)
}
