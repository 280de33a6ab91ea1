package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/secondbrain/strata/id"
)

// EnqueueFunc submits a job. The engine provides the implementation.
type EnqueueFunc func(ctx context.Context, jobType string, payload any) (id.JobID, error)

// Emitter receives scheduler events. ext.Registry satisfies it.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, entryName string, jobID id.JobID)
	EmitSweepCompleted(ctx context.Context, r *BatchResult)
}

// Entry is a recurring job.
type Entry struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	JobType  string `json:"job_type"`
	Payload  any    `json:"payload,omitempty"`

	NextRunAt time.Time `json:"next_run_at"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastJobID string    `json:"last_job_id,omitempty"`
}

// Job types fired by the default entries.
const (
	JobTypeLifecycleSweep   = "lifecycle.sweep"
	JobTypeDissolutionSweep = "dissolution.sweep"
)

// DefaultEntries returns the lifecycle sweep and the dissolution review.
func DefaultEntries(sweepSchedule, dissolutionSchedule string) []Entry {
	return []Entry{
		{Name: "lifecycle-sweep", Schedule: sweepSchedule, JobType: JobTypeLifecycleSweep},
		{Name: "dissolution-review", Schedule: dissolutionSchedule, JobType: JobTypeDissolutionSweep},
	}
}

// cronParser supports standard 5-field cron and descriptors like "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs entries on a tick loop.
type Scheduler struct {
	enqueue      EnqueueFunc
	emitter      Emitter
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu        sync.Mutex
	entries   map[string]*Entry
	schedules map[string]cronlib.Schedule

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a Scheduler that submits through enqueue.
func New(enqueue EnqueueFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueue:      enqueue,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		tickInterval: time.Second,
		entries:      make(map[string]*Entry),
		schedules:    make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers e, replacing any entry with the same name. Its first run
// is the next schedule time after now.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.JobType == "" {
		return fmt.Errorf("scheduler: entry needs a name and a job type")
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: parse %q for %s: %w", e.Schedule, e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e.NextRunAt = sched.Next(s.now())
	s.entries[e.Name] = &e
	s.schedules[e.Name] = sched
	return nil
}

// Remove deletes the named entry and reports whether it existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	delete(s.schedules, name)
	return ok
}

// Entries returns a snapshot of the entries ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("entries", len(s.Entries())),
	)
	return nil
}

// Stop signals the tick loop to exit and waits for it.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunDue(context.Background())
		}
	}
}

// RunDue fires every entry whose next run is at or before now and returns
// how many fired. Each entry fires at most once per call; missed runs are
// not replayed.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.NextRunAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].Name < due[k].Name })
	s.mu.Unlock()

	fired := 0
	for _, e := range due {
		if s.fire(ctx, e, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, e *Entry, now time.Time) bool {
	s.mu.Lock()
	name, jobType, payload := e.Name, e.JobType, e.Payload
	sched, ok := s.schedules[name]
	if !ok || s.entries[name] != e {
		// Removed or replaced since RunDue took its snapshot.
		s.mu.Unlock()
		return false
	}
	// Advance before enqueueing so a slow submit cannot double-fire.
	e.NextRunAt = sched.Next(now)
	s.mu.Unlock()

	jobID, err := s.enqueue(ctx, jobType, payload)
	if err != nil {
		s.logger.Error("schedule enqueue error",
			slog.String("entry", name),
			slog.String("job_type", jobType),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.mu.Lock()
	e.LastRunAt = now
	e.LastJobID = jobID.String()
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, name, jobID)
	}
	s.logger.Info("schedule fired",
		slog.String("entry", name),
		slog.String("job_type", jobType),
		slog.String("job_id", jobID.String()),
	)
	return true
}
