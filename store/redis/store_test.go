package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/retry"
	"github.com/secondbrain/strata/store/redis"
)

func newStore(t *testing.T) (*redis.Store, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.New(client), client
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

func TestPing(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestJobRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
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

	require.NoError(t, s.SaveJob(ctx, j))
	require.ErrorIs(t, s.SaveJob(ctx, j), strata.ErrJobAlreadyExists)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID.String(), got.ID.String())
	assert.Equal(t, "roundtrip", got.Type)
	assert.Equal(t, job.StatusRetrying, got.Status)
	assert.Equal(t, job.PriorityHigh, got.Priority)
	assert.Equal(t, 30*time.Second, got.Timeout)
	assert.Equal(t, 4, got.Retry.MaxAttempts)
	assert.Equal(t, retry.StrategyLinear, got.Retry.Strategy)
	assert.Equal(t, "cli", got.Metadata["source"])
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(next))
	require.NotNil(t, got.LastError)
	assert.Equal(t, "connection reset", got.LastError.Message)
	assert.Len(t, got.Errors, 1)
	assert.JSONEq(t, `{"ok":1}`, string(got.Result))
	assert.JSONEq(t, `{"test":true}`, string(got.Payload))

	_, err = s.GetJob(ctx, id.NewJobID())
	require.ErrorIs(t, err, strata.ErrJobNotFound)
}

func TestJobUpdateMovesIndexes(t *testing.T) {
	s, client := newStore(t)
	ctx := context.Background()

	j := newJob("x", job.StatusPending, job.PriorityNormal, time.Now())
	require.ErrorIs(t, s.UpdateJob(ctx, j), strata.ErrJobNotFound)
	require.NoError(t, s.SaveJob(ctx, j))

	n, err := client.ZCard(ctx, "strata:pending").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	j.Status = job.StatusCompleted
	require.NoError(t, s.UpdateJob(ctx, j))

	n, _ = client.ZCard(ctx, "strata:pending").Result()
	assert.Equal(t, int64(0), n)
	n, _ = client.ZCard(ctx, "strata:status:pending").Result()
	assert.Equal(t, int64(0), n)
	n, _ = client.ZCard(ctx, "strata:status:completed").Result()
	assert.Equal(t, int64(1), n)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)

	require.NoError(t, s.DeleteJob(ctx, j.ID))
	require.ErrorIs(t, s.DeleteJob(ctx, j.ID), strata.ErrJobNotFound)
	n, _ = client.ZCard(ctx, "strata:status:completed").Result()
	assert.Equal(t, int64(0), n)
}

func TestNextPendingJobs_Ordering(t *testing.T) {
	s, _ := newStore(t)
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
		require.NoError(t, s.SaveJob(ctx, j))
	}

	got, err := s.NextPendingJobs(ctx, 10)
	require.NoError(t, err)
	types := make([]string, len(got))
	for i, j := range got {
		types[i] = j.Type
	}
	assert.Equal(t, []string{"critical", "high-old", "high-new", "low"}, types)

	limited, err := s.NextPendingJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "critical", limited[0].Type)
}

func TestMarkJobRunning_ExactlyOnce(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	j := newJob("claim", job.StatusPending, job.PriorityNormal, time.Now())
	require.NoError(t, s.SaveJob(ctx, j))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkJobRunning(ctx, j.ID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	running, err := s.ListJobsByStatus(ctx, job.StatusRunning, 0)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	pending, err := s.NextPendingJobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.MarkJobRunning(ctx, id.NewJobID())
	require.ErrorIs(t, err, strata.ErrJobNotFound)
}

func TestListJobsByStatusAndStats(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := range 3 {
		j := newJob("done", job.StatusCompleted, job.PriorityNormal, now.Add(time.Duration(i)*time.Second))
		j.ExecutionTime = time.Duration(i+1) * 100 * time.Millisecond
		require.NoError(t, s.SaveJob(ctx, j))
	}
	require.NoError(t, s.SaveJob(ctx, newJob("p", job.StatusPending, job.PriorityNormal, now)))
	f := newJob("f", job.StatusFailed, job.PriorityNormal, now)
	f.ExecutionTime = 200 * time.Millisecond
	require.NoError(t, s.SaveJob(ctx, f))
	require.NoError(t, s.SaveJob(ctx, newJob("c", job.StatusCancelled, job.PriorityNormal, now)))

	completed, err := s.ListJobsByStatus(ctx, job.StatusCompleted, 2)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.True(t, completed[0].CreatedAt.Before(completed[1].CreatedAt))

	stats, err := s.JobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Equal(t, int64(5), stats.TotalProcessed)
	assert.Equal(t, 200*time.Millisecond, stats.AverageExecution)
}
