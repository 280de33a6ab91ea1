package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

const jobColumns = `
	id, type, payload, priority, status, attempts, max_attempts, retry,
	timeout_ns, tenant_id, metadata, started_at, completed_at, next_retry_at,
	last_error, errors, result, execution_ns, created_at, updated_at`

// SaveJob persists a new job.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO strata_jobs (`+jobColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)`,
		j.ID.String(), j.Type, []byte(j.Payload), int(j.Priority), string(j.Status),
		j.Attempts, j.MaxAttempts, j.Retry,
		j.Timeout.Nanoseconds(), j.TenantID, j.Metadata,
		j.StartedAt, j.CompletedAt, j.NextRetryAt,
		j.LastError, j.Errors, []byte(j.Result), j.ExecutionTime.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return strata.ErrJobAlreadyExists
		}
		return fmt.Errorf("strata/postgres: save job: %w", err)
	}
	return nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strata_jobs SET
			type = $2, payload = $3, priority = $4, status = $5,
			attempts = $6, max_attempts = $7, retry = $8,
			timeout_ns = $9, tenant_id = $10, metadata = $11,
			started_at = $12, completed_at = $13, next_retry_at = $14,
			last_error = $15, errors = $16, result = $17, execution_ns = $18,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Type, []byte(j.Payload), int(j.Priority), string(j.Status),
		j.Attempts, j.MaxAttempts, j.Retry,
		j.Timeout.Nanoseconds(), j.TenantID, j.Metadata,
		j.StartedAt, j.CompletedAt, j.NextRetryAt,
		j.LastError, j.Errors, []byte(j.Result), j.ExecutionTime.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("strata/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return strata.ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM strata_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, strata.ErrJobNotFound
		}
		return nil, fmt.Errorf("strata/postgres: get job: %w", err)
	}
	return j, nil
}

// NextPendingJobs returns eligible pending jobs, priority DESC then
// created_at ASC.
func (s *Store) NextPendingJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = job.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM strata_jobs
		WHERE status = 'pending'
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("strata/postgres: next pending jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = job.DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM strata_jobs
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("strata/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// MarkJobRunning claims a pending job. The conditional UPDATE returns a row
// only for the caller that changed it.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID) (bool, error) {
	var claimed string
	err := s.pool.QueryRow(ctx, `
		UPDATE strata_jobs
		SET status = 'running', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id`,
		jobID.String(),
	).Scan(&claimed)
	if err == nil {
		return true, nil
	}
	if !isNoRows(err) {
		return false, fmt.Errorf("strata/postgres: mark running: %w", err)
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM strata_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("strata/postgres: mark running: %w", err)
	}
	if !exists {
		return false, strata.ErrJobNotFound
	}
	return false, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strata_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("strata/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return strata.ErrJobNotFound
	}
	return nil
}

// JobStats counts jobs per status and averages execution time over
// completed and failed jobs.
func (s *Store) JobStats(ctx context.Context) (*job.Stats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM strata_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("strata/postgres: job stats: %w", err)
	}
	defer rows.Close()

	stats := &job.Stats{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("strata/postgres: job stats: %w", err)
		}
		for range count {
			stats.Add(job.Status(status))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("strata/postgres: job stats: %w", err)
	}

	var avg float64
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(execution_ns), 0)::DOUBLE PRECISION FROM strata_jobs
		WHERE status IN ('completed', 'failed')`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("strata/postgres: job stats: %w", err)
	}
	stats.AverageExecution = time.Duration(avg)
	return stats, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		priority    int
		status      string
		timeoutNs   int64
		executionNs int64
		payload     []byte
		result      []byte
	)
	err := row.Scan(
		&idStr, &j.Type, &payload, &priority, &status,
		&j.Attempts, &j.MaxAttempts, &j.Retry,
		&timeoutNs, &j.TenantID, &j.Metadata,
		&j.StartedAt, &j.CompletedAt, &j.NextRetryAt,
		&j.LastError, &j.Errors, &result, &executionNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("strata/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID
	j.Priority = job.Priority(priority)
	j.Status = job.Status(status)
	j.Timeout = time.Duration(timeoutNs)
	j.ExecutionTime = time.Duration(executionNs)
	if len(payload) > 0 {
		j.Payload = payload
	}
	if len(result) > 0 {
		j.Result = result
	}
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("strata/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("strata/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
