package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
)

// claimScript moves a job from pending to running when, and only when, it
// is still pending.
//
// KEYS: job hash, pending set, pending status set, running status set.
// ARGV: job id, started_at in unix nanoseconds.
var claimScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -1
end
if status ~= 'pending' then
	return 0
end
local created = redis.call('HGET', KEYS[1], 'created')
redis.call('HSET', KEYS[1], 'status', 'running', 'started_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[4], created, ARGV[1])
return 1
`)

// SaveJob stores the job as a Hash and indexes it.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	data, err := encodeJob(j)
	if err != nil {
		return fmt.Errorf("strata/redis: save job: %w", err)
	}

	jID := j.ID.String()
	key := jobKey(jID)

	// The status field doubles as the existence guard.
	created, err := s.client.HSetNX(ctx, key, fieldStatus, string(j.Status)).Result()
	if err != nil {
		return fmt.Errorf("strata/redis: save job: %w", err)
	}
	if !created {
		return strata.ErrJobAlreadyExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		writeJob(ctx, pipe, j, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("strata/redis: save job: %w", err)
	}
	return nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("strata/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return strata.ErrJobNotFound
	}

	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	data, err := encodeJob(&cp)
	if err != nil {
		return fmt.Errorf("strata/redis: update job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		writeJob(ctx, pipe, &cp, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("strata/redis: update job: %w", err)
	}
	return nil
}

// writeJob queues the record and its index entries. The job is removed from
// every other status set so a concurrent claim cannot leave a stale entry.
func writeJob(ctx context.Context, pipe goredis.Pipeliner, j *job.Job, data []byte) {
	jID := j.ID.String()
	key := jobKey(jID)
	createdMs := j.CreatedAt.UnixMilli()

	pipe.HSet(ctx, key,
		fieldData, data,
		fieldStatus, string(j.Status),
		fieldCreated, strconv.FormatInt(createdMs, 10),
		fieldPriority, strconv.Itoa(int(j.Priority)),
	)
	// The record now carries StartedAt itself.
	pipe.HDel(ctx, key, fieldStartedAt)

	for _, st := range job.Statuses {
		if st != j.Status {
			pipe.ZRem(ctx, statusKey(st), jID)
		}
	}
	pipe.ZAdd(ctx, statusKey(j.Status), goredis.Z{Score: float64(createdMs), Member: jID})

	if j.Status == job.StatusPending {
		pipe.ZAdd(ctx, pendingKey, goredis.Z{Score: pendingScore(j.Priority, j.CreatedAt), Member: jID})
	} else {
		pipe.ZRem(ctx, pendingKey, jID)
	}
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJob(ctx, jobID.String())
}

// NextPendingJobs walks the pending set in dispatch order and returns up to
// limit eligible jobs. Jobs waiting on NextRetryAt are skipped, not removed.
func (s *Store) NextPendingJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = job.DefaultListLimit
	}
	batch := int64(max(limit*2, 50))
	now := time.Now().UTC()

	jobs := make([]*job.Job, 0, limit)
	for start := int64(0); len(jobs) < limit; start += batch {
		ids, err := s.client.ZRange(ctx, pendingKey, start, start+batch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("strata/redis: next pending jobs: %w", err)
		}
		for _, jID := range ids {
			j, err := s.getJob(ctx, jID)
			if errors.Is(err, strata.ErrJobNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !j.Eligible(now) {
				continue
			}
			jobs = append(jobs, j)
			if len(jobs) == limit {
				break
			}
		}
		if int64(len(ids)) < batch {
			break
		}
	}
	return jobs, nil
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = job.DefaultListLimit
	}
	ids, err := s.client.ZRange(ctx, statusKey(status), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("strata/redis: list jobs: %w", err)
	}
	return s.loadJobs(ctx, ids)
}

// MarkJobRunning claims a pending job through claimScript.
func (s *Store) MarkJobRunning(ctx context.Context, jobID id.JobID) (bool, error) {
	jID := jobID.String()
	res, err := claimScript.Run(ctx, s.client,
		[]string{jobKey(jID), pendingKey, statusKey(job.StatusPending), statusKey(job.StatusRunning)},
		jID, strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("strata/redis: mark running: %w", err)
	}
	switch res {
	case -1:
		return false, strata.ErrJobNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// DeleteJob removes a job and its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, jobKey(jID))
		pipe.ZRem(ctx, pendingKey, jID)
		for _, st := range job.Statuses {
			pipe.ZRem(ctx, statusKey(st), jID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("strata/redis: delete job: %w", err)
	}
	if del.Val() == 0 {
		return strata.ErrJobNotFound
	}
	return nil
}

// JobStats counts each status set and averages execution time over
// completed and failed jobs.
func (s *Store) JobStats(ctx context.Context) (*job.Stats, error) {
	cards := make(map[job.Status]*goredis.IntCmd, len(job.Statuses))
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, st := range job.Statuses {
			cards[st] = pipe.ZCard(ctx, statusKey(st))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("strata/redis: job stats: %w", err)
	}

	stats := &job.Stats{}
	for _, st := range job.Statuses {
		for range cards[st].Val() {
			stats.Add(st)
		}
	}

	var (
		total time.Duration
		timed int64
	)
	for _, st := range []job.Status{job.StatusCompleted, job.StatusFailed} {
		ids, err := s.client.ZRange(ctx, statusKey(st), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("strata/redis: job stats: %w", err)
		}
		jobs, err := s.loadJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			total += j.ExecutionTime
			timed++
		}
	}
	if timed > 0 {
		stats.AverageExecution = total / time.Duration(timed)
	}
	return stats, nil
}

// ── helpers ──

// pendingScore orders the pending set: higher priority first, then older
// first. Millisecond timestamps stay below 1e13 until the year 2286.
func pendingScore(p job.Priority, created time.Time) float64 {
	return float64(-int64(p))*1e13 + float64(created.UnixMilli())
}

func (s *Store) getJob(ctx context.Context, jID string) (*job.Job, error) {
	vals, err := s.client.HMGet(ctx, jobKey(jID), fieldData, fieldStatus, fieldStartedAt).Result()
	if err != nil {
		return nil, fmt.Errorf("strata/redis: get job: %w", err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, strata.ErrJobNotFound
	}
	j, err := decodeJob([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("strata/redis: decode job %s: %w", jID, err)
	}

	// A claim updates the hash fields without rewriting the record.
	if status, ok := vals[1].(string); ok {
		j.Status = job.Status(status)
	}
	if started, ok := vals[2].(string); ok {
		ns, err := strconv.ParseInt(started, 10, 64)
		if err == nil {
			t := time.Unix(0, ns).UTC()
			j.StartedAt = &t
			j.UpdatedAt = t
		}
	}
	return j, nil
}

func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, err := s.getJob(ctx, jID)
		if errors.Is(err, strata.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Records use the JSON field names so Redis contents stay readable with
// generic msgpack tooling.
func encodeJob(j *job.Job) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(j); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJob(data []byte) (*job.Job, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	var j job.Job
	if err := dec.Decode(&j); err != nil {
		return nil, err
	}
	return &j, nil
}
