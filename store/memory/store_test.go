package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(jobType string, status job.Status, priority job.Priority, created time.Time) *job.Job {
	return &job.Job{
		Timestamps:  strata.Timestamps{CreatedAt: created, UpdatedAt: created},
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     []byte(`{"test":true}`),
		Status:      status,
		Priority:    priority,
		MaxAttempts: 3,
	}
}

func TestJobSaveAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("test-job", job.StatusPending, job.PriorityNormal, time.Now())
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.SaveJob(ctx, j); !errors.Is(err, strata.ErrJobAlreadyExists) {
		t.Fatalf("duplicate SaveJob: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Type != "test-job" || string(got.Payload) != `{"test":true}` {
		t.Errorf("got %+v", got)
	}

	// Returned values are copies.
	got.Payload[2] = 'X'
	again, _ := s.GetJob(ctx, j.ID)
	if string(again.Payload) != `{"test":true}` {
		t.Error("mutating a returned job changed the stored copy")
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, strata.ErrJobNotFound) {
		t.Errorf("GetJob unknown: got %v, want ErrJobNotFound", err)
	}
}

func TestJobUpdateAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("x", job.StatusPending, job.PriorityNormal, time.Now())
	if err := s.UpdateJob(ctx, j); !errors.Is(err, strata.ErrJobNotFound) {
		t.Fatalf("UpdateJob before save: got %v", err)
	}
	_ = s.SaveJob(ctx, j)

	j.Status = job.StatusCompleted
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, strata.ErrJobNotFound) {
		t.Errorf("second DeleteJob: got %v", err)
	}
}

func TestNextPendingJobs_Ordering(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	low := newJob("low", job.StatusPending, job.PriorityLow, base)
	highOld := newJob("high-old", job.StatusPending, job.PriorityHigh, base.Add(time.Second))
	highNew := newJob("high-new", job.StatusPending, job.PriorityHigh, base.Add(2*time.Second))
	critical := newJob("critical", job.StatusPending, job.PriorityCritical, base.Add(3*time.Second))
	running := newJob("running", job.StatusRunning, job.PriorityCritical, base)

	future := time.Now().Add(time.Hour)
	delayed := newJob("delayed", job.StatusPending, job.PriorityCritical, base)
	delayed.NextRetryAt = &future

	for _, j := range []*job.Job{low, highNew, running, critical, delayed, highOld} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	got, err := s.NextPendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("NextPendingJobs: %v", err)
	}
	want := []string{"critical", "high-old", "high-new", "low"}
	if len(got) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Type != w {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Type, w)
		}
	}

	limited, _ := s.NextPendingJobs(ctx, 2)
	if len(limited) != 2 || limited[0].Type != "critical" {
		t.Errorf("limit 2: got %d jobs", len(limited))
	}
}

func TestMarkJobRunning_ExactlyOnce(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("claim", job.StatusPending, job.PriorityNormal, time.Now())
	_ = s.SaveJob(ctx, j)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkJobRunning(ctx, j.ID)
			if err != nil {
				t.Errorf("MarkJobRunning: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("claims won = %d, want 1", wins.Load())
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusRunning || got.StartedAt == nil {
		t.Errorf("after claim: status=%s startedAt=%v", got.Status, got.StartedAt)
	}
}

func TestListJobsByStatusAndStats(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now()

	for i := range 3 {
		j := newJob("done", job.StatusCompleted, job.PriorityNormal, now.Add(time.Duration(i)*time.Second))
		j.ExecutionTime = time.Duration(i+1) * 100 * time.Millisecond
		_ = s.SaveJob(ctx, j)
	}
	_ = s.SaveJob(ctx, newJob("p", job.StatusPending, job.PriorityNormal, now))
	f := newJob("f", job.StatusFailed, job.PriorityNormal, now)
	f.ExecutionTime = 200 * time.Millisecond
	_ = s.SaveJob(ctx, f)
	_ = s.SaveJob(ctx, newJob("c", job.StatusCancelled, job.PriorityNormal, now))

	completed, _ := s.ListJobsByStatus(ctx, job.StatusCompleted, 2)
	if len(completed) != 2 {
		t.Errorf("ListJobsByStatus limit 2: got %d", len(completed))
	}
	if !completed[0].CreatedAt.Before(completed[1].CreatedAt) {
		t.Error("expected oldest first")
	}

	stats, err := s.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats.Pending != 1 || stats.Completed != 3 || stats.Failed != 1 || stats.Cancelled != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalProcessed != 5 {
		t.Errorf("TotalProcessed = %d, want 5", stats.TotalProcessed)
	}
	if stats.AverageExecution != 200*time.Millisecond {
		t.Errorf("AverageExecution = %v, want 200ms", stats.AverageExecution)
	}
}

// ──────────────────────────────────────────────────
// Entity Repository tests
// ──────────────────────────────────────────────────

func TestEntityCRUD(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	created, err := s.CreateEntity(ctx, &entity.Entity{Type: "daily-note", Title: "Mon"})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if created.ID == "" || created.State != entity.StateCapture || created.CreatedAt.IsZero() {
		t.Errorf("created = %+v", created)
	}
	if _, err := s.CreateEntity(ctx, created); !errors.Is(err, strata.ErrEntityAlreadyExists) {
		t.Errorf("duplicate CreateEntity: got %v", err)
	}

	updated, err := s.UpdateEntity(ctx, created.ID, entity.Patch{Content: entity.Ptr("hello")})
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if updated.Content != "hello" {
		t.Errorf("Content = %q", updated.Content)
	}

	if _, err := s.GetEntity(ctx, "missing"); !errors.Is(err, strata.ErrEntityNotFound) {
		t.Errorf("GetEntity missing: got %v", err)
	}
	if _, err := s.UpdateEntity(ctx, "missing", entity.Patch{}); !errors.Is(err, strata.ErrEntityNotFound) {
		t.Errorf("UpdateEntity missing: got %v", err)
	}
}

func TestQueryEntities(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, st := range []entity.State{entity.StateCapture, entity.StateCapture, entity.StatePermanent} {
		_, err := s.CreateEntity(ctx, &entity.Entity{
			Type:      "note",
			TenantID:  "t1",
			State:     st,
			CreatedAt: now.Add(-time.Duration(50-i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateEntity: %v", err)
		}
	}

	got, err := s.QueryEntities(ctx, entity.Filter{
		TenantID: "t1",
		States:   []entity.State{entity.StateCapture},
	})
	if err != nil {
		t.Fatalf("QueryEntities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entities, want 2", len(got))
	}
	if !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Error("expected oldest first")
	}

	limited, _ := s.QueryEntities(ctx, entity.Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit 1: got %d", len(limited))
	}
}
