package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/retry"
)

var codec = sonic.ConfigStd

// ── Time columns ─────────────────────────────────────────────────

// Timestamps are stored as UTC unix nanoseconds so that ordering and
// eligibility comparisons happen in SQL.

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// ── JSON columns ─────────────────────────────────────────────────

func toJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case []job.Error:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case *job.Error:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	s, err := codec.MarshalToString(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func fromJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return codec.UnmarshalFromString(s.String, v)
}

// ── Job row ──────────────────────────────────────────────────────

const jobColumns = `id, type, payload, priority, status, attempts, max_attempts, retry,
	timeout_ns, tenant_id, metadata, started_at, completed_at, next_retry_at,
	last_error, errors, result, execution_ns, created_at, updated_at`

type jobRow struct {
	ID          string
	Type        string
	Payload     []byte
	Priority    int
	Status      string
	Attempts    int
	MaxAttempts int
	Retry       string
	TimeoutNs   int64
	TenantID    string
	Metadata    sql.NullString
	StartedAt   sql.NullInt64
	CompletedAt sql.NullInt64
	NextRetryAt sql.NullInt64
	LastError   sql.NullString
	Errors      sql.NullString
	Result      []byte
	ExecutionNs int64
	CreatedAt   int64
	UpdatedAt   int64
}

func (r *jobRow) dest() []any {
	return []any{
		&r.ID, &r.Type, &r.Payload, &r.Priority, &r.Status, &r.Attempts, &r.MaxAttempts, &r.Retry,
		&r.TimeoutNs, &r.TenantID, &r.Metadata, &r.StartedAt, &r.CompletedAt, &r.NextRetryAt,
		&r.LastError, &r.Errors, &r.Result, &r.ExecutionNs, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r *jobRow) args() []any {
	return []any{
		r.ID, r.Type, r.Payload, r.Priority, r.Status, r.Attempts, r.MaxAttempts, r.Retry,
		r.TimeoutNs, r.TenantID, r.Metadata, r.StartedAt, r.CompletedAt, r.NextRetryAt,
		r.LastError, r.Errors, r.Result, r.ExecutionNs, r.CreatedAt, r.UpdatedAt,
	}
}

func toJobRow(j *job.Job) (*jobRow, error) {
	retryJSON, err := codec.MarshalToString(j.Retry)
	if err != nil {
		return nil, fmt.Errorf("encode retry policy: %w", err)
	}
	meta, err := toJSON(j.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	lastErr, err := toJSON(j.LastError)
	if err != nil {
		return nil, fmt.Errorf("encode last error: %w", err)
	}
	errs, err := toJSON(j.Errors)
	if err != nil {
		return nil, fmt.Errorf("encode error history: %w", err)
	}
	return &jobRow{
		ID:          j.ID.String(),
		Type:        j.Type,
		Payload:     j.Payload,
		Priority:    int(j.Priority),
		Status:      string(j.Status),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Retry:       retryJSON,
		TimeoutNs:   j.Timeout.Nanoseconds(),
		TenantID:    j.TenantID,
		Metadata:    meta,
		StartedAt:   toNullNanos(j.StartedAt),
		CompletedAt: toNullNanos(j.CompletedAt),
		NextRetryAt: toNullNanos(j.NextRetryAt),
		LastError:   lastErr,
		Errors:      errs,
		Result:      j.Result,
		ExecutionNs: j.ExecutionTime.Nanoseconds(),
		CreatedAt:   toNanos(j.CreatedAt),
		UpdatedAt:   toNanos(j.UpdatedAt),
	}, nil
}

func fromJobRow(r *jobRow) (*job.Job, error) {
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", r.ID, err)
	}

	j := &job.Job{
		Timestamps: strata.Timestamps{
			CreatedAt: fromNanos(r.CreatedAt),
			UpdatedAt: fromNanos(r.UpdatedAt),
		},
		ID:            jobID,
		Type:          r.Type,
		Payload:       r.Payload,
		Priority:      job.Priority(r.Priority),
		Status:        job.Status(r.Status),
		Attempts:      r.Attempts,
		MaxAttempts:   r.MaxAttempts,
		Timeout:       time.Duration(r.TimeoutNs),
		TenantID:      r.TenantID,
		StartedAt:     fromNullNanos(r.StartedAt),
		CompletedAt:   fromNullNanos(r.CompletedAt),
		NextRetryAt:   fromNullNanos(r.NextRetryAt),
		Result:        r.Result,
		ExecutionTime: time.Duration(r.ExecutionNs),
	}

	var policy retry.Config
	if err := codec.UnmarshalFromString(r.Retry, &policy); err != nil {
		return nil, fmt.Errorf("decode retry policy: %w", err)
	}
	j.Retry = policy
	if err := fromJSON(r.Metadata, &j.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if r.LastError.Valid {
		var le job.Error
		if err := fromJSON(r.LastError, &le); err != nil {
			return nil, fmt.Errorf("decode last error: %w", err)
		}
		j.LastError = &le
	}
	if err := fromJSON(r.Errors, &j.Errors); err != nil {
		return nil, fmt.Errorf("decode error history: %w", err)
	}
	return j, nil
}

// ── Entity row ───────────────────────────────────────────────────

const entityColumns = `id, type, tenant_id, title, content, summary, state,
	prevent_dissolve, links, metadata, created_at, updated_at`

type entityRow struct {
	ID              string
	Type            string
	TenantID        string
	Title           string
	Content         string
	Summary         string
	State           string
	PreventDissolve bool
	Links           sql.NullString
	Metadata        sql.NullString
	CreatedAt       int64
	UpdatedAt       int64
}

func (r *entityRow) dest() []any {
	return []any{
		&r.ID, &r.Type, &r.TenantID, &r.Title, &r.Content, &r.Summary, &r.State,
		&r.PreventDissolve, &r.Links, &r.Metadata, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r *entityRow) args() []any {
	return []any{
		r.ID, r.Type, r.TenantID, r.Title, r.Content, r.Summary, r.State,
		r.PreventDissolve, r.Links, r.Metadata, r.CreatedAt, r.UpdatedAt,
	}
}

func toEntityRow(e *entity.Entity) (*entityRow, error) {
	links, err := toJSON(e.Links)
	if err != nil {
		return nil, fmt.Errorf("encode links: %w", err)
	}
	meta, err := toJSON(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &entityRow{
		ID:              e.ID,
		Type:            e.Type,
		TenantID:        e.TenantID,
		Title:           e.Title,
		Content:         e.Content,
		Summary:         e.Summary,
		State:           string(e.State),
		PreventDissolve: e.PreventDissolve,
		Links:           links,
		Metadata:        meta,
		CreatedAt:       toNanos(e.CreatedAt),
		UpdatedAt:       toNanos(e.UpdatedAt),
	}, nil
}

func fromEntityRow(r *entityRow) (*entity.Entity, error) {
	e := &entity.Entity{
		ID:              r.ID,
		Type:            r.Type,
		TenantID:        r.TenantID,
		Title:           r.Title,
		Content:         r.Content,
		Summary:         r.Summary,
		State:           entity.State(r.State),
		PreventDissolve: r.PreventDissolve,
		CreatedAt:       fromNanos(r.CreatedAt),
		UpdatedAt:       fromNanos(r.UpdatedAt),
	}
	if err := fromJSON(r.Links, &e.Links); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	if err := fromJSON(r.Metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return e, nil
}
