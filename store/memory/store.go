// Package memory provides an in-memory job store and entity repository.
// It is safe for concurrent use within one process and intended for tests,
// development and single-process hosts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

var (
	_ job.Store         = (*Store)(nil)
	_ entity.Repository = (*Store)(nil)
)

// Store keeps jobs and entities in maps guarded by one RWMutex. Every value
// crossing the API boundary is copied.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	entities map[string]*entity.Entity

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for eligibility checks and
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:     make(map[string]*job.Job),
		entities: make(map[string]*entity.Entity),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob persists a new job.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return strata.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return strata.ErrJobNotFound
	}
	cp := j.Clone()
	cp.UpdatedAt = m.now()
	m.jobs[key] = cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, strata.ErrJobNotFound
	}
	return j.Clone(), nil
}

// NextPendingJobs returns eligible pending jobs, priority DESC then CreatedAt
// ASC.
func (m *Store) NextPendingJobs(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Eligible(now) {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		result[i] = j.Clone()
	}
	return result, nil
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (m *Store) ListJobsByStatus(_ context.Context, status job.Status, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = job.DefaultListLimit
	}

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Status == status {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkJobRunning claims a pending job under the write lock.
func (m *Store) MarkJobRunning(_ context.Context, jobID id.JobID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return false, strata.ErrJobNotFound
	}
	if j.Status != job.StatusPending {
		return false, nil
	}
	now := m.now()
	j.Status = job.StatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// DeleteJob removes a job.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return strata.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// JobStats counts jobs per status and averages execution time over completed
// and failed jobs.
func (m *Store) JobStats(_ context.Context) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &job.Stats{}
	var total time.Duration
	var timed int64
	for _, j := range m.jobs {
		stats.Add(j.Status)
		if j.Status == job.StatusCompleted || j.Status == job.StatusFailed {
			total += j.ExecutionTime
			timed++
		}
	}
	if timed > 0 {
		stats.AverageExecution = total / time.Duration(timed)
	}
	return stats, nil
}
