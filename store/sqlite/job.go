package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*job.Job, error) {
	var r jobRow
	if err := sc.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return fromJobRow(&r)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SaveJob persists a new job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	r, err := toJobRow(j)
	if err != nil {
		return fmt.Errorf("strata/sqlite: save job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strata_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.args()...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return strata.ErrJobAlreadyExists
		}
		return fmt.Errorf("strata/sqlite: save job: %w", err)
	}
	return nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	r, err := toJobRow(&cp)
	if err != nil {
		return fmt.Errorf("strata/sqlite: update job: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE strata_jobs SET
			type = ?, payload = ?, priority = ?, status = ?, attempts = ?, max_attempts = ?,
			retry = ?, timeout_ns = ?, tenant_id = ?, metadata = ?, started_at = ?,
			completed_at = ?, next_retry_at = ?, last_error = ?, errors = ?, result = ?,
			execution_ns = ?, updated_at = ?
		WHERE id = ?`,
		r.Type, r.Payload, r.Priority, r.Status, r.Attempts, r.MaxAttempts,
		r.Retry, r.TimeoutNs, r.TenantID, r.Metadata, r.StartedAt,
		r.CompletedAt, r.NextRetryAt, r.LastError, r.Errors, r.Result,
		r.ExecutionNs, r.UpdatedAt,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("strata/sqlite: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return strata.ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM strata_jobs WHERE id = ?`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, strata.ErrJobNotFound
		}
		return nil, fmt.Errorf("strata/sqlite: get job: %w", err)
	}
	return j, nil
}

// NextPendingJobs returns eligible pending jobs, priority DESC then
// created_at ASC.
func (s *Store) NextPendingJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = job.DefaultListLimit
	}
	jobs, err := s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM strata_jobs
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT ?`,
		toNanos(time.Now()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: next pending jobs: %w", err)
	}
	return jobs, nil
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = job.DefaultListLimit
	}
	jobs, err := s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM strata_jobs
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: list jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobRunning claims a pending job with a conditional UPDATE. Only the
// caller whose statement changes the row wins.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID) (bool, error) {
	now := toNanos(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE strata_jobs
		SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		now, now, jobID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("strata/sqlite: mark running: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 1 {
		return true, nil
	}

	// Distinguish a lost race from an unknown job.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM strata_jobs WHERE id = ?`, jobID.String()).Scan(&exists)
	if isNoRows(err) {
		return false, strata.ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("strata/sqlite: mark running: %w", err)
	}
	return false, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strata_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("strata/sqlite: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return strata.ErrJobNotFound
	}
	return nil
}

// JobStats counts jobs per status and averages execution time over
// completed and failed jobs.
func (s *Store) JobStats(ctx context.Context) (*job.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM strata_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: job stats: %w", err)
	}
	defer rows.Close()

	stats := &job.Stats{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("strata/sqlite: job stats: %w", err)
		}
		for range count {
			stats.Add(job.Status(status))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("strata/sqlite: job stats: %w", err)
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG(execution_ns) FROM strata_jobs
		WHERE status IN ('completed', 'failed')`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: job stats: %w", err)
	}
	if avg.Valid {
		stats.AverageExecution = time.Duration(avg.Float64)
	}
	return stats, nil
}
