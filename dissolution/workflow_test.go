package dissolution_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/dissolution"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/extract"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/lifecycle"
	"github.com/secondbrain/strata/retry"
	"github.com/secondbrain/strata/store/memory"
)

type events struct {
	mu        sync.Mutex
	started   []string
	completed []*dissolution.Result
	failed    []string
	prevented []string
}

func (e *events) EmitDissolutionStarted(_ context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, id)
}

func (e *events) EmitDissolutionCompleted(_ context.Context, r *dissolution.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, r)
}

func (e *events) EmitDissolutionFailed(_ context.Context, id string, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, id)
}

func (e *events) EmitDissolutionPrevented(_ context.Context, id, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prevented = append(e.prevented, id)
}

var epoch = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

type harness struct {
	now    time.Time
	store  *memory.Store
	wf     *dissolution.Workflow
	events *events
}

func newHarness(t *testing.T, opts ...dissolution.Option) *harness {
	t.Helper()
	h := &harness{now: epoch, events: &events{}}
	clock := func() time.Time { return h.now }
	h.store = memory.New(memory.WithClock(clock))
	m := lifecycle.New(h.store, lifecycle.WithClock(clock))
	base := []dissolution.Option{
		dissolution.WithClock(clock),
		dissolution.WithEmitter(h.events),
		dissolution.WithExtractor(extract.Pattern{}),
	}
	h.wf = dissolution.New(h.store, m, append(base, opts...)...)
	return h
}

func (h *harness) note(t *testing.T, title, content string) *entity.Entity {
	t.Helper()
	e, err := h.store.CreateEntity(context.Background(), &entity.Entity{
		Type:    dissolution.DefaultSourceType,
		Title:   title,
		Content: content,
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	return e
}

func TestDissolveCreatesAndMerges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	existing, err := h.store.CreateEntity(ctx, &entity.Entity{
		ID:      dissolution.RecordID("topic", "gardening"),
		Type:    "topic",
		Title:   "gardening",
		Content: "Older notes.",
		State:   entity.StatePermanent,
	})
	if err != nil {
		t.Fatal(err)
	}

	src := h.note(t, "2024-05-10", "Lunch with [[Ada Lovelace]] and [[Alan Turing]] about [[gardening]].")
	h.now = h.now.Add(49 * time.Hour)

	res, err := h.wf.Dissolve(ctx, src.ID)
	if err != nil {
		t.Fatalf("Dissolve: %v", err)
	}
	if res.ExtractedCount != 3 || len(res.Entities) != 3 || !res.Archived {
		t.Fatalf("result = %+v", res)
	}
	want := "Dissolved daily note from 2024-05-10. Extracted 3 entities: 2 persons, 1 topic."
	if res.Summary != want {
		t.Errorf("summary = %q", res.Summary)
	}

	ada, err := h.store.GetEntity(ctx, "person-ada-lovelace")
	if err != nil {
		t.Fatalf("created record missing: %v", err)
	}
	if ada.State != entity.StatePermanent || ada.MetaString("source_daily_note") != src.ID || ada.MetaString("source_date") != "2024-05-10" {
		t.Errorf("created record = %+v", ada)
	}

	merged, _ := h.store.GetEntity(ctx, existing.ID)
	if !strings.HasPrefix(merged.Content, "Older notes.\n\n---\n\n") {
		t.Errorf("merged content = %q", merged.Content)
	}
	if merged.MetaString("last_dissolution_update") == "" {
		t.Error("last_dissolution_update not set")
	}

	archived, _ := h.store.GetEntity(ctx, src.ID)
	if archived.State != entity.StateArchived || archived.MetaString("archived_reason") != "Automatic 48-hour dissolution" {
		t.Errorf("source = %+v", archived)
	}
	if len(h.events.started) != 1 || len(h.events.completed) != 1 {
		t.Errorf("events = %+v", h.events)
	}
}

func TestDissolveWithoutArchive(t *testing.T) {
	h := newHarness(t, dissolution.WithArchive(false))
	src := h.note(t, "n", "nothing linked")

	res, err := h.wf.Dissolve(context.Background(), src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Archived || res.Summary != "Dissolved daily note from 2024-05-10. Extracted 0 entities." {
		t.Errorf("got %+v", res)
	}
	got, _ := h.store.GetEntity(context.Background(), src.ID)
	if got.State != entity.StateCapture {
		t.Errorf("state = %s", got.State)
	}
}

func TestDissolveRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.wf.Dissolve(ctx, "missing"); !errors.Is(err, strata.ErrEntityNotFound) {
		t.Errorf("missing: %v", err)
	}

	prevented := h.note(t, "keep", "[[Ada Lovelace]]")
	if _, err := h.wf.PreventDissolution(ctx, prevented.ID, "reference note"); err != nil {
		t.Fatal(err)
	}
	_, err := h.wf.Dissolve(ctx, prevented.ID)
	if !errors.Is(err, strata.ErrDissolutionPrevented) {
		t.Fatalf("prevented: %v", err)
	}
	if retry.IsRetryable(err, retry.DefaultConfig()) {
		t.Error("prevented dissolution should be permanent")
	}
	if len(h.events.prevented) != 1 {
		t.Errorf("prevented events = %d", len(h.events.prevented))
	}

	done := h.note(t, "done", "")
	if _, err := h.wf.Dissolve(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.wf.Dissolve(ctx, done.ID); !errors.Is(err, strata.ErrAlreadyArchived) {
		t.Errorf("archived: %v", err)
	}
}

func TestDissolveRejectsPermanentRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.store.CreateEntity(ctx, &entity.Entity{
		ID:      dissolution.RecordID("person", "Ada Lovelace"),
		Type:    "person",
		Title:   "Ada Lovelace",
		Content: "Met [[Charles Babbage]].",
		State:   entity.StatePermanent,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.wf.Dissolve(ctx, rec.ID)
	if !errors.Is(err, strata.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if retry.IsRetryable(err, retry.DefaultConfig()) {
		t.Error("dissolving a permanent record should not be retried")
	}

	got, _ := h.store.GetEntity(ctx, rec.ID)
	if got.State != entity.StatePermanent {
		t.Errorf("state = %s, want permanent", got.State)
	}
	if _, err := h.store.GetEntity(ctx, dissolution.RecordID("person", "Charles Babbage")); !errors.Is(err, strata.ErrEntityNotFound) {
		t.Errorf("no records should be extracted, got %v", err)
	}
}

func TestRetriedDissolutionDoesNotRepeatExcerpt(t *testing.T) {
	now := epoch
	clock := func() time.Time { return now }
	store := memory.New(memory.WithClock(clock))

	// Without an archive edge every dissolution fails after merging.
	var noArchive []lifecycle.Transition
	for _, tr := range lifecycle.DefaultTransitions(48 * time.Hour) {
		if tr.To != entity.StateArchived {
			noArchive = append(noArchive, tr)
		}
	}
	m := lifecycle.New(store, lifecycle.WithClock(clock), lifecycle.WithTransitions(noArchive...))
	wf := dissolution.New(store, m, dissolution.WithClock(clock), dissolution.WithExtractor(extract.Pattern{}))
	ctx := context.Background()

	topic, err := store.CreateEntity(ctx, &entity.Entity{
		ID:      dissolution.RecordID("topic", "gardening"),
		Type:    "topic",
		Title:   "gardening",
		Content: "Older notes.",
		State:   entity.StatePermanent,
	})
	if err != nil {
		t.Fatal(err)
	}
	src, err := store.CreateEntity(ctx, &entity.Entity{
		Type:    dissolution.DefaultSourceType,
		Title:   "2024-05-10",
		Content: "Planted tomatoes, see [[gardening]].",
	})
	if err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := wf.Dissolve(ctx, src.ID); !errors.Is(err, strata.ErrInvalidTransition) {
			t.Fatalf("expected archive failure, got %v", err)
		}
	}

	got, _ := store.GetEntity(ctx, topic.ID)
	if n := strings.Count(got.Content, "Planted tomatoes"); n != 1 {
		t.Errorf("excerpt appears %d times:\n%s", n, got.Content)
	}
	if n := strings.Count(got.Content, "---"); n != 1 {
		t.Errorf("separator appears %d times:\n%s", n, got.Content)
	}
}

func TestExtractorFailure(t *testing.T) {
	h := newHarness(t, dissolution.WithExtractor(extract.Func(func(context.Context, string) ([]extract.Candidate, error) {
		return nil, errors.New("model offline")
	})))
	src := h.note(t, "n", "body")

	if _, err := h.wf.Dissolve(context.Background(), src.ID); err == nil {
		t.Fatal("expected error")
	}
	if len(h.events.failed) != 1 {
		t.Errorf("failed events = %d", len(h.events.failed))
	}
	got, _ := h.store.GetEntity(context.Background(), src.ID)
	if got.State != entity.StateCapture {
		t.Errorf("source archived despite failure: %s", got.State)
	}
}

func TestDissolveMultipleIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	a := h.note(t, "a", "[[Topic A]]")
	b := h.note(t, "b", "[[Topic B]]")

	batch := h.wf.DissolveMultiple(context.Background(), []string{a.ID, "missing", b.ID})
	if len(batch.Results) != 2 || len(batch.Failures) != 1 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Results[0].SourceID != a.ID || batch.Results[1].SourceID != b.ID {
		t.Error("results out of order")
	}
	if batch.Failures[0].EntityID != "missing" {
		t.Errorf("failure = %+v", batch.Failures[0])
	}
}

func TestDueForDissolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ready := h.note(t, "ready", "")
	prevented := h.note(t, "prevented", "")
	postponed := h.note(t, "postponed", "")
	if _, err := h.store.CreateEntity(ctx, &entity.Entity{Type: "article", Title: "other type"}); err != nil {
		t.Fatal(err)
	}
	h.now = h.now.Add(24 * time.Hour)
	young := h.note(t, "young", "")
	h.now = h.now.Add(25 * time.Hour)

	if _, err := h.wf.PreventDissolution(ctx, prevented.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := h.wf.PostponeDissolution(ctx, postponed.ID, 0); err != nil {
		t.Fatal(err)
	}

	due, err := h.wf.DueForDissolution(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != ready.ID {
		t.Fatalf("due = %v", ids(due))
	}

	h.now = h.now.Add(49 * time.Hour)
	if _, err := h.wf.AllowDissolution(ctx, prevented.ID); err != nil {
		t.Fatal(err)
	}
	due, _ = h.wf.DueForDissolution(ctx, "")
	got := ids(due)
	if len(got) != 4 {
		t.Fatalf("due after allow = %v", got)
	}
	for _, want := range []string{ready.ID, prevented.ID, postponed.ID, young.ID} {
		if !contains(got, want) {
			t.Errorf("%s missing from due", want)
		}
	}
}

func TestHandlers(t *testing.T) {
	h := newHarness(t)
	a := h.note(t, "a", "[[Topic A]]")
	h.note(t, "b", "[[Topic B]]")
	h.now = h.now.Add(49 * time.Hour)

	var progress []job.Progress
	meta := map[string]any{}
	jc := job.NewContext(context.Background(), nil,
		func(p job.Progress) { progress = append(progress, p) },
		func(m map[string]any) {
			for k, v := range m {
				meta[k] = v
			}
		})

	out, err := h.wf.SweepHandler()(jc, &job.Job{Type: dissolution.JobTypeSweep, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	batch := out.(*dissolution.Batch)
	if len(batch.Results) != 2 || len(progress) != 2 || meta["dissolved"] != 2 {
		t.Errorf("batch=%+v progress=%d meta=%v", batch, len(progress), meta)
	}

	_, err = h.wf.DissolveHandler()(jc, &job.Job{Type: dissolution.JobTypeDissolve, Payload: []byte(`{"entity_id":"` + a.ID + `"}`)})
	if !errors.Is(err, strata.ErrAlreadyArchived) {
		t.Errorf("re-dissolve: %v", err)
	}
	_, err = h.wf.DissolveHandler()(jc, &job.Job{Type: dissolution.JobTypeDissolve, Payload: []byte(`not json`)})
	if err == nil || !strings.Contains(err.Error(), "invalid input") {
		t.Errorf("bad payload: %v", err)
	}
}

func TestRecordID(t *testing.T) {
	cases := map[[2]string]string{
		{"person", "Ada Lovelace"}:       "person-ada-lovelace",
		{"project", "  Apollo / Phase 2 "}: "project-apollo-phase-2",
		{"topic", "C++"}:                 "topic-c",
	}
	for in, want := range cases {
		if got := dissolution.RecordID(in[0], in[1]); got != want {
			t.Errorf("RecordID(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func ids(es []*entity.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
