package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/retry"
	"github.com/secondbrain/strata/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "strata.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

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

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion = %d, want 2", v)
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	j := newJob("roundtrip", job.StatusRetrying, job.PriorityHigh, now)
	j.Attempts = 2
	j.Timeout = 30 * time.Second
	j.TenantID = "t1"
	j.Retry = retry.Config{MaxAttempts: 4, BaseDelay: time.Second, Strategy: retry.StrategyLinear}
	j.Metadata = map[string]any{"source": "cli"}
	next := now.Add(time.Minute)
	j.NextRetryAt = &next
	j.RecordError(job.Error{Message: "connection reset", Kind: "transient", Attempt: 2, Retryable: true, Timestamp: now})
	j.Result = []byte(`{"ok":1}`)
	j.ExecutionTime = 1500 * time.Millisecond

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
	if got.ID.String() != j.ID.String() || got.Type != "roundtrip" || got.Status != job.StatusRetrying {
		t.Errorf("got %+v", got)
	}
	if got.Priority != job.PriorityHigh || got.Attempts != 2 || got.Timeout != 30*time.Second {
		t.Errorf("scalar fields = priority %v attempts %d timeout %v", got.Priority, got.Attempts, got.Timeout)
	}
	if got.Retry.MaxAttempts != 4 || got.Retry.Strategy != retry.StrategyLinear {
		t.Errorf("Retry = %+v", got.Retry)
	}
	if got.Metadata["source"] != "cli" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
		t.Errorf("NextRetryAt = %v, want %v", got.NextRetryAt, next)
	}
	if got.LastError == nil || got.LastError.Message != "connection reset" || len(got.Errors) != 1 {
		t.Errorf("errors = %+v / %+v", got.LastError, got.Errors)
	}
	if string(got.Result) != `{"ok":1}` || got.ExecutionTime != 1500*time.Millisecond {
		t.Errorf("result = %s, exec = %v", got.Result, got.ExecutionTime)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, strata.ErrJobNotFound) {
		t.Errorf("GetJob unknown: got %v, want ErrJobNotFound", err)
	}
}

func TestJobUpdateAndDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	j := newJob("x", job.StatusPending, job.PriorityNormal, time.Now())
	if err := s.UpdateJob(ctx, j); !errors.Is(err, strata.ErrJobNotFound) {
		t.Fatalf("UpdateJob before save: got %v", err)
	}
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	j.Status = job.StatusCompleted
	done := time.Now()
	j.CompletedAt = &done
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("after update: status=%s completedAt=%v", got.Status, got.CompletedAt)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, strata.ErrJobNotFound) {
		t.Errorf("second DeleteJob: got %v", err)
	}
}

func TestNextPendingJobs_Ordering(t *testing.T) {
	s := openStore(t)
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

	past := time.Now().Add(-time.Minute)
	due := newJob("due", job.StatusPending, job.PriorityLow, base.Add(4*time.Second))
	due.NextRetryAt = &past

	for _, j := range []*job.Job{low, highNew, running, critical, delayed, highOld, due} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	got, err := s.NextPendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("NextPendingJobs: %v", err)
	}
	want := []string{"critical", "high-old", "high-new", "low", "due"}
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
	s := openStore(t)
	ctx := context.Background()

	j := newJob("claim", job.StatusPending, job.PriorityNormal, time.Now())
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
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

	if _, err := s.MarkJobRunning(ctx, id.NewJobID()); !errors.Is(err, strata.ErrJobNotFound) {
		t.Errorf("MarkJobRunning unknown: got %v", err)
	}
}

func TestListJobsByStatusAndStats(t *testing.T) {
	s := openStore(t)
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

	completed, err := s.ListJobsByStatus(ctx, job.StatusCompleted, 2)
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("ListJobsByStatus limit 2: got %d", len(completed))
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

func TestEntityCRUD(t *testing.T) {
	s := openStore(t)
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

	updated, err := s.UpdateEntity(ctx, created.ID, entity.Patch{
		Content:         entity.Ptr("hello"),
		PreventDissolve: entity.Ptr(true),
		AddLinks:        []string{"topic-go"},
		Metadata:        map[string]any{"mood": "good"},
	})
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if updated.Content != "hello" || !updated.PreventDissolve {
		t.Errorf("updated = %+v", updated)
	}

	got, err := s.GetEntity(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Content != "hello" || len(got.Links) != 1 || got.Links[0] != "topic-go" {
		t.Errorf("persisted = %+v", got)
	}
	if got.MetaString("mood") != "good" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	if _, err := s.GetEntity(ctx, "missing"); !errors.Is(err, strata.ErrEntityNotFound) {
		t.Errorf("GetEntity missing: got %v", err)
	}
	if _, err := s.UpdateEntity(ctx, "missing", entity.Patch{}); !errors.Is(err, strata.ErrEntityNotFound) {
		t.Errorf("UpdateEntity missing: got %v", err)
	}
}

func TestQueryEntities(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, st := range []entity.State{entity.StateCapture, entity.StateCapture, entity.StatePermanent} {
		_, err := s.CreateEntity(ctx, &entity.Entity{
			Type:      "note",
			TenantID:  "t1",
			Title:     "n",
			State:     st,
			CreatedAt: now.Add(-time.Duration(50-i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateEntity: %v", err)
		}
	}
	if _, err := s.CreateEntity(ctx, &entity.Entity{Type: "note", TenantID: "t2"}); err != nil {
		t.Fatalf("CreateEntity: %v", err)
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

	old, _ := s.QueryEntities(ctx, entity.Filter{CreatedBefore: now.Add(-49 * time.Hour)})
	if len(old) != 2 {
		t.Errorf("CreatedBefore: got %d, want 2", len(old))
	}

	limited, _ := s.QueryEntities(ctx, entity.Filter{Type: "note", Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit 1: got %d", len(limited))
	}
}
