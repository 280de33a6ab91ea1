package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/app"
	"github.com/secondbrain/strata/dissolution"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/scheduler"
	"github.com/secondbrain/strata/store/memory"
)

func testConfig() app.Config {
	cfg := app.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Concurrency = 2
	return cfg
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLoadEnv(t *testing.T) {
	env := map[string]string{
		app.EnvStore:          "sqlite:///tmp/strata.db",
		app.EnvConcurrency:    "4",
		app.EnvPollInterval:   "250ms",
		app.EnvTransitionAge:  "72h",
		app.EnvAudit:          "true",
		app.EnvSourceType:     "journal",
		app.EnvSweepSchedule:  "*/5 * * * *",
		app.EnvSweepBatchSize: "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := app.LoadEnv(app.DefaultConfig(), lookup)
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.Store != "sqlite:///tmp/strata.db" || cfg.Concurrency != 4 || !cfg.Audit {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PollInterval != 250*time.Millisecond || cfg.TransitionAge != 72*time.Hour {
		t.Errorf("durations = %v, %v", cfg.PollInterval, cfg.TransitionAge)
	}
	if cfg.DissolutionSourceType != "journal" || cfg.SweepSchedule != "*/5 * * * *" {
		t.Errorf("strings = %q, %q", cfg.DissolutionSourceType, cfg.SweepSchedule)
	}
	if cfg.SweepBatchSize != strata.DefaultConfig().SweepBatchSize {
		t.Errorf("empty value should keep default, got %d", cfg.SweepBatchSize)
	}
}

func TestLoadEnvRejectsMalformed(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == app.EnvDissolutionAge {
			return "two days", true
		}
		return "", false
	}
	if _, err := app.LoadEnv(app.DefaultConfig(), lookup); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestInitRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.SweepSchedule = "every hour"
	a := app.New(app.WithConfig(cfg))
	if err := a.Init(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestInitRequiresEntityRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Store = "redis://" + mr.Addr()

	a := app.New(app.WithConfig(cfg))
	err := a.Init(context.Background())
	if !errors.Is(err, strata.ErrNoEntityRepository) {
		t.Fatalf("Init: got %v, want ErrNoEntityRepository", err)
	}
}

func TestInitSplitsJobsAndEntities(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Store = "redis://" + mr.Addr()
	cfg.Entities = "sqlite://" + filepath.Join(t.TempDir(), "entities.db")

	a := app.New(app.WithConfig(cfg))
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer a.Close()

	if a.Entities() == nil {
		t.Fatal("expected entity repository")
	}
	if err := a.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestInitRegistersScheduleAndHandlers(t *testing.T) {
	a := app.New(app.WithConfig(testConfig()))
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer a.Close()

	entries := a.Scheduler().Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, jobType := range []string{scheduler.JobTypeLifecycleSweep, dissolution.JobTypeDissolve, dissolution.JobTypeSweep} {
		if _, ok := a.Engine().Registry().Get(jobType); !ok {
			t.Errorf("no handler for %q", jobType)
		}
	}
}

func TestDisableScheduler(t *testing.T) {
	cfg := testConfig()
	cfg.DisableScheduler = true
	a := app.New(app.WithConfig(cfg))
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if a.Scheduler() != nil {
		t.Error("scheduler should be nil")
	}
}

func TestDissolutionSweepEndToEnd(t *testing.T) {
	ctx := waitCtx(t)
	s := memory.New()

	old := time.Now().UTC().Add(-72 * time.Hour)
	note, err := s.CreateEntity(ctx, &entity.Entity{
		Type:      "daily-note",
		TenantID:  "t1",
		Title:     "2026-03-01",
		Content:   "Met [[Alice Smith]] about #project/atlas.",
		CreatedAt: old,
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	cfg := testConfig()
	cfg.Audit = true
	a := app.New(app.WithConfig(cfg), app.WithStore(s))
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background()) }()

	h, err := a.Engine().Submit(ctx, job.NewDefinition(dissolution.JobTypeSweep, dissolution.SweepPayload{TenantID: "t1"}))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got, err := s.GetEntity(ctx, note.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.State != entity.StateArchived {
		t.Errorf("state = %q, want archived", got.State)
	}

	records, err := s.QueryEntities(ctx, entity.Filter{TenantID: "t1", Type: "person"})
	if err != nil {
		t.Fatalf("QueryEntities: %v", err)
	}
	if len(records) != 1 || records[0].Title != "Alice Smith" {
		t.Errorf("person records = %+v", records)
	}
}

func TestStopBeforeInitIsNoop(t *testing.T) {
	a := app.New()
	if err := a.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("Start before Init should fail")
	}
}
