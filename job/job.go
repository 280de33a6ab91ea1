package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/retry"
)

// Status is the execution status of a job.
type Status string

const (
	// StatusPending means the job waits to be claimed.
	StatusPending Status = "pending"
	// StatusRunning means a worker claimed the job and is executing it.
	StatusRunning Status = "running"
	// StatusRetrying means the job failed and waits out its retry delay.
	StatusRetrying Status = "retrying"
	// StatusCompleted means the handler returned successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not be retried.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
	// StatusTimedOut means the job exceeded its timeout.
	StatusTimedOut Status = "timed_out"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending, StatusRunning, StatusRetrying,
	StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut,
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Priority orders dispatch. Higher values are claimed first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name such as "high".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("job: unknown priority %q", s)
	}
}

// Error records one failed attempt.
type Error struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Kind      string    `json:"kind"`
	Attempt   int       `json:"attempt"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is a best-effort progress report from a running handler.
type Progress struct {
	Percent    float64   `json:"percent"`
	Message    string    `json:"message,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// Job represents a unit of asynchronous work.
type Job struct {
	strata.Timestamps

	ID            id.JobID        `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      Priority        `json:"priority"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	Retry         retry.Config    `json:"retry"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty"`
	LastError     *Error          `json:"last_error,omitempty"`
	Errors        []Error         `json:"errors,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	ExecutionTime time.Duration   `json:"execution_time,omitempty"`
}

// Eligible reports whether a pending job may be claimed at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == StatusPending && (j.NextRetryAt == nil || !j.NextRetryAt.After(now))
}

// CanRetry reports whether the attempt budget allows another attempt.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// RecordError appends e to the history and makes it the last error.
func (j *Job) RecordError(e Error) {
	j.Errors = append(j.Errors, e)
	last := e
	j.LastError = &last
}

// MergeMetadata merges m into the job metadata. Nil values delete keys.
func (j *Job) MergeMetadata(m map[string]any) {
	if len(m) == 0 {
		return
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]any, len(m))
	}
	for k, v := range m {
		if v == nil {
			delete(j.Metadata, k)
			continue
		}
		j.Metadata[k] = v
	}
}

// Clone returns a deep-enough copy for handing out of a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Payload = cloneBytes(j.Payload)
	cp.Result = cloneBytes(j.Result)
	if j.Metadata != nil {
		cp.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	if j.Errors != nil {
		cp.Errors = append([]Error(nil), j.Errors...)
	}
	if j.LastError != nil {
		le := *j.LastError
		cp.LastError = &le
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.NextRetryAt = cloneTime(j.NextRetryAt)
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
