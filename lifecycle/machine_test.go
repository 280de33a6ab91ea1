package lifecycle_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/lifecycle"
	"github.com/secondbrain/strata/retry"
	"github.com/secondbrain/strata/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingEmitter struct {
	mu        sync.Mutex
	completed []lifecycle.Result
	failed    []lifecycle.Result
}

func (r *recordingEmitter) EmitTransitionCompleted(_ context.Context, res lifecycle.Result) {
	r.mu.Lock()
	r.completed = append(r.completed, res)
	r.mu.Unlock()
}

func (r *recordingEmitter) EmitTransitionFailed(_ context.Context, res lifecycle.Result) {
	r.mu.Lock()
	r.failed = append(r.failed, res)
	r.mu.Unlock()
}

type fixture struct {
	store   *memory.Store
	clock   *clock
	machine *lifecycle.Machine
	emitter *recordingEmitter
	notes   []string
}

func newFixture(t *testing.T, opts ...lifecycle.Option) *fixture {
	t.Helper()
	f := &fixture{clock: newClock(), emitter: &recordingEmitter{}}
	f.store = memory.New(memory.WithClock(f.clock.Now))
	base := []lifecycle.Option{
		lifecycle.WithClock(f.clock.Now),
		lifecycle.WithEmitter(f.emitter),
		lifecycle.WithNotifier(lifecycle.NotifierFunc(func(_ context.Context, _, msg string) error {
			f.notes = append(f.notes, msg)
			return nil
		})),
	}
	f.machine = lifecycle.New(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, e *entity.Entity) *entity.Entity {
	t.Helper()
	created, err := f.store.CreateEntity(context.Background(), e)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	return created
}

func TestCanTransitionReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "fresh", Content: "body"})

	if c := f.machine.CanTransition(ctx, "missing", entity.StateTransitional); c.OK || c.Reason != "Entity not found" {
		t.Errorf("missing entity: got %+v", c)
	}
	if c := f.machine.CanTransition(ctx, e.ID, entity.StatePermanent); c.OK || c.Reason != "No valid transition from capture to permanent" {
		t.Errorf("undeclared pair: got %+v", c)
	}
	if c := f.machine.CanTransition(ctx, e.ID, entity.StateTransitional); c.OK || c.Reason != "Condition not met: age_hours" {
		t.Errorf("young entity: got %+v", c)
	}

	f.clock.Advance(48 * time.Hour)
	if c := f.machine.CanTransition(ctx, e.ID, entity.StateTransitional); !c.OK {
		t.Errorf("aged entity: got %+v", c)
	}
	if c := f.machine.CanTransition(ctx, e.ID, entity.StateArchived); !c.OK {
		t.Errorf("manual archive: got %+v", c)
	}
}

func TestTransitionCaptureToTransitionalRunsActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "idea", Content: "First paragraph.\n\nSecond paragraph."})
	f.clock.Advance(49 * time.Hour)

	res := f.machine.Transition(ctx, e.ID, entity.StateTransitional)
	if !res.Success {
		t.Fatalf("transition failed: %s (%v)", res.Reason, res.Err)
	}
	if res.From != entity.StateCapture || res.To != entity.StateTransitional {
		t.Errorf("got %s→%s", res.From, res.To)
	}
	if len(res.Actions) != 2 || res.Actions[0] != lifecycle.ActionSummarize || res.Actions[1] != lifecycle.ActionNotify {
		t.Errorf("actions = %v", res.Actions)
	}

	got, _ := f.store.GetEntity(ctx, e.ID)
	if got.State != entity.StateTransitional {
		t.Errorf("state = %s", got.State)
	}
	if got.Summary != "First paragraph." {
		t.Errorf("summary = %q", got.Summary)
	}
	if _, ok := got.MetaTime("lifecycle_changed_at"); !ok {
		t.Error("lifecycle_changed_at not stamped")
	}
	if len(f.notes) != 1 || f.notes[0] != "Note ready for filing" {
		t.Errorf("notes = %v", f.notes)
	}
	if len(f.emitter.completed) != 1 {
		t.Errorf("completed events = %d", len(f.emitter.completed))
	}
}

func TestTransitionKeepsExistingSummary(t *testing.T) {
	calls := 0
	f := newFixture(t, lifecycle.WithSummarizer(lifecycle.SummarizerFunc(func(context.Context, string) (string, error) {
		calls++
		return "generated", nil
	})))
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "x", Content: "body", Summary: "mine"})
	f.clock.Advance(48 * time.Hour)

	if res := f.machine.Transition(ctx, e.ID, entity.StateTransitional); !res.Success {
		t.Fatalf("transition failed: %s", res.Reason)
	}
	got, _ := f.store.GetEntity(ctx, e.ID)
	if got.Summary != "mine" || calls != 0 {
		t.Errorf("summary = %q, summarizer calls = %d", got.Summary, calls)
	}
}

func TestTransitionRejectsWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "young", Content: "body"})

	res := f.machine.Transition(ctx, e.ID, entity.StateTransitional)
	if res.Success || !errors.Is(res.Err, strata.ErrConditionNotMet) {
		t.Fatalf("got success=%v err=%v", res.Success, res.Err)
	}
	res = f.machine.Transition(ctx, e.ID, entity.StatePermanent)
	if !errors.Is(res.Err, strata.ErrInvalidTransition) {
		t.Errorf("undeclared: err = %v", res.Err)
	}
	res = f.machine.Transition(ctx, "nope", entity.StateArchived)
	if !errors.Is(res.Err, strata.ErrEntityNotFound) || res.Reason != "Entity not found" {
		t.Errorf("missing: err = %v reason = %q", res.Err, res.Reason)
	}

	got, _ := f.store.GetEntity(ctx, e.ID)
	if got.State != entity.StateCapture || got.Summary != "" {
		t.Errorf("entity mutated: %+v", got)
	}
	if len(f.emitter.failed) != 3 {
		t.Errorf("failed events = %d", len(f.emitter.failed))
	}
}

func TestForceSkipsConditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "young", Content: "body"})

	res := f.machine.Transition(ctx, e.ID, entity.StatePermanent, lifecycle.Force(), lifecycle.WithReason("manual filing"))
	if !res.Success || !res.Forced {
		t.Fatalf("forced transition: %+v", res)
	}
	got, _ := f.store.GetEntity(ctx, e.ID)
	if got.State != entity.StatePermanent {
		t.Errorf("state = %s", got.State)
	}
	if _, ok := got.MetaTime("filed_at"); !ok {
		t.Error("filed_at not stamped for permanent target")
	}
	if got.MetaString("lifecycle_reason") != "manual filing" {
		t.Errorf("reason metadata = %v", got.Metadata["lifecycle_reason"])
	}
}

func TestActionFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, lifecycle.WithSummarizer(lifecycle.SummarizerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	})))
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "x", Content: "body"})
	f.clock.Advance(48 * time.Hour)

	res := f.machine.Transition(ctx, e.ID, entity.StateTransitional)
	if res.Success || !errors.Is(res.Err, strata.ErrActionFailed) {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.Reason, "model unavailable") {
		t.Errorf("reason = %q", res.Reason)
	}
	got, _ := f.store.GetEntity(ctx, e.ID)
	if got.State != entity.StateCapture {
		t.Errorf("state = %s, want capture", got.State)
	}
}

func TestAssignPromotesTransitional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "x", Content: "body", State: entity.StateTransitional})

	res := f.machine.Assign(ctx, e.ID, "project-apollo")
	if !res.Success || res.To != entity.StatePermanent {
		t.Fatalf("assign: %+v", res)
	}
	got, _ := f.store.GetEntity(ctx, e.ID)
	if got.State != entity.StatePermanent || len(got.Links) != 1 {
		t.Errorf("got %+v", got)
	}
	filed := got.MetaString("filed_at")
	if filed == "" || filed == "now" {
		t.Errorf("filed_at = %q", filed)
	}
	if !f.machine.IsTerminal(got.State) {
		t.Error("permanent should be terminal")
	}
}

func TestFireWithoutMatchingTrigger(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, &entity.Entity{Type: "note", Title: "x"})
	res := f.machine.Fire(context.Background(), e.ID, lifecycle.TriggerEntityAssigned)
	if res.Success || !errors.Is(res.Err, strata.ErrInvalidTransition) {
		t.Errorf("got %+v", res)
	}
}

func TestTableQueries(t *testing.T) {
	m := lifecycle.New(memory.New())

	if next, ok := m.NextState(entity.StateCapture); !ok || next != entity.StateTransitional {
		t.Errorf("NextState(capture) = %s, %v", next, ok)
	}
	if _, ok := m.NextState(entity.StateArchived); ok {
		t.Error("archived should have no next state")
	}
	if !m.HasTransition(entity.StatePermanent, entity.StateArchived) {
		t.Error("permanent→archived should be declared")
	}
	if m.HasTransition(entity.StateArchived, entity.StateCapture) {
		t.Error("archived→capture should not be declared")
	}
	if n := len(m.ValidTransitions(entity.StateCapture)); n != 2 {
		t.Errorf("capture exits = %d", n)
	}
	if m.IsTerminal(entity.StateTransitional) {
		t.Error("transitional is not terminal")
	}
}

func TestHistoryAndDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.create(t, &entity.Entity{Type: "note", Title: "old", TenantID: "t1"})
	f.clock.Advance(24 * time.Hour)
	f.create(t, &entity.Entity{Type: "note", Title: "young", TenantID: "t1"})
	f.clock.Advance(25 * time.Hour)

	due, err := f.machine.DueForTransition(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("DueForTransition: %v", err)
	}
	if len(due) != 1 || due[0].EntityID != old.ID || due[0].To != entity.StateTransitional {
		t.Fatalf("due = %+v", due)
	}
	if due[0].Age != 49*time.Hour {
		t.Errorf("age = %s", due[0].Age)
	}

	f.machine.Transition(ctx, old.ID, entity.StatePermanent)
	f.machine.Transition(ctx, old.ID, entity.StateTransitional)
	h := f.machine.History(old.ID)
	if len(h) != 2 || h[0].Success || !h[1].Success {
		t.Errorf("history = %+v", h)
	}
}

func TestProcessorRetriesTransientFailures(t *testing.T) {
	attempts := 0
	f := newFixture(t, lifecycle.WithSummarizer(lifecycle.SummarizerFunc(func(context.Context, string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})))
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "x", Content: "body"})
	f.clock.Advance(48 * time.Hour)

	p := lifecycle.NewProcessor(f.machine, lifecycle.WithBackoff(retry.Immediate{}))
	res := p.ProcessTransition(ctx, e.ID, entity.StateTransitional)
	if !res.Success || attempts != 3 {
		t.Fatalf("success=%v attempts=%d", res.Success, attempts)
	}
}

func TestProcessorDoesNotRetryDefinitiveFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, &entity.Entity{Type: "note", Title: "x"})

	p := lifecycle.NewProcessor(f.machine, lifecycle.WithBackoff(retry.Immediate{}))
	res := p.ProcessTransition(ctx, e.ID, entity.StateTransitional)
	if res.Success {
		t.Fatal("expected failure")
	}
	if n := len(f.machine.History(e.ID)); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestProcessPending(t *testing.T) {
	var notified []string
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, &entity.Entity{Type: "note", Title: "a"})
	b := f.create(t, &entity.Entity{Type: "note", Title: "b"})
	f.clock.Advance(72 * time.Hour)

	p := lifecycle.NewProcessor(f.machine,
		lifecycle.WithBackoff(retry.Immediate{}),
		lifecycle.WithSuccessNotifications(lifecycle.NotifierFunc(func(_ context.Context, _, msg string) error {
			notified = append(notified, msg)
			return nil
		})),
	)
	out, err := p.ProcessPending(ctx, "", 10)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if out.Processed != 2 || out.Transitioned != 2 || len(out.Errors) != 0 {
		t.Errorf("got %+v", out)
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := f.store.GetEntity(ctx, id)
		if got.State != entity.StateTransitional {
			t.Errorf("%s state = %s", id, got.State)
		}
	}
	if len(notified) != 2 {
		t.Errorf("success notifications = %d", len(notified))
	}
}
