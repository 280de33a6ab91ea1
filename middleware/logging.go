package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/secondbrain/strata/job"
)

// Logging logs the start and outcome of each attempt. Successful attempts
// log at Info, failures at Warn.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		l := attemptLogger(logger, j)
		l.Debug("job attempt started")

		start := time.Now()
		out, err := next(ctx)
		elapsed := slog.Duration("elapsed", time.Since(start))

		if err != nil {
			l.Warn("job attempt failed", elapsed, slog.String("error", err.Error()))
			return out, err
		}
		l.Info("job attempt succeeded", elapsed)
		return out, nil
	}
}

func attemptLogger(logger *slog.Logger, j *job.Job) *slog.Logger {
	l := logger.With(
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempts),
	)
	if j.TenantID != "" {
		l = l.With(slog.String("tenant_id", j.TenantID))
	}
	return l
}
