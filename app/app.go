package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/audit"
	"github.com/secondbrain/strata/dissolution"
	"github.com/secondbrain/strata/engine"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/ext"
	"github.com/secondbrain/strata/extract"
	"github.com/secondbrain/strata/lifecycle"
	mw "github.com/secondbrain/strata/middleware"
	"github.com/secondbrain/strata/scheduler"
	"github.com/secondbrain/strata/store"
	"github.com/secondbrain/strata/throttle"
)

// App assembles a strata node: storage, the job engine, the lifecycle
// machine, the sweeper, the dissolution workflow and the scheduler.
type App struct {
	config    Config
	logger    *slog.Logger
	store     store.Store
	repo      entity.Repository
	extractor extract.Extractor
	exts      []ext.Extension
	mws       []mw.Middleware
	throttle  *throttle.Throttle

	// owned are closed by Close.
	owned []store.Store

	eng       *engine.Engine
	machine   *lifecycle.Machine
	sweeper   *scheduler.Sweeper
	dissolver *dissolution.Workflow
	sched     *scheduler.Scheduler
}

// New creates an App with the given options. Nothing is opened until Init.
func New(opts ...Option) *App {
	a := &App{config: DefaultConfig()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Engine returns the job engine. Nil until Init.
func (a *App) Engine() *engine.Engine { return a.eng }

// Machine returns the lifecycle state machine. Nil until Init.
func (a *App) Machine() *lifecycle.Machine { return a.machine }

// Sweeper returns the lifecycle sweeper. Nil until Init.
func (a *App) Sweeper() *scheduler.Sweeper { return a.sweeper }

// Dissolution returns the dissolution workflow. Nil until Init.
func (a *App) Dissolution() *dissolution.Workflow { return a.dissolver }

// Scheduler returns the cron scheduler, or nil when disabled.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Store returns the job store. Nil until Init.
func (a *App) Store() store.Store { return a.store }

// Entities returns the entity repository. Nil until Init.
func (a *App) Entities() entity.Repository { return a.repo }

// Config returns the effective configuration.
func (a *App) Config() Config { return a.config }

// Init opens storage and builds every component. Handlers for the
// scheduled job types are registered on the engine.
func (a *App) Init(ctx context.Context) error {
	if a.eng != nil {
		return nil
	}
	a.config = mergeWithDefaults(a.config)
	if err := a.config.Validate(); err != nil {
		return err
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	if err := a.openStorage(ctx); err != nil {
		_ = a.Close()
		return err
	}

	engOpts := make([]engine.Option, 0, len(a.exts)+len(a.mws)+4)
	engOpts = append(engOpts,
		engine.WithConfig(a.config.Config),
		engine.WithLogger(a.logger),
	)
	if a.config.Audit {
		engOpts = append(engOpts, engine.WithExtension(audit.New(audit.LogRecorder(a.logger), audit.WithLogger(a.logger))))
	}
	for _, x := range a.exts {
		engOpts = append(engOpts, engine.WithExtension(x))
	}
	if len(a.mws) > 0 {
		engOpts = append(engOpts, engine.WithMiddleware(a.mws...))
	}
	if a.throttle != nil {
		engOpts = append(engOpts, engine.WithThrottle(a.throttle))
	}

	eng, err := engine.New(a.store, engOpts...)
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("strata: build engine: %w", err)
	}
	hooks := eng.Extensions()

	a.machine = lifecycle.New(a.repo,
		lifecycle.WithTransitions(lifecycle.DefaultTransitions(a.config.TransitionAge)...),
		lifecycle.WithEmitter(hooks),
		lifecycle.WithLogger(a.logger),
	)
	a.sweeper = scheduler.NewSweeper(a.machine,
		scheduler.WithBatchSize(a.config.SweepBatchSize),
		scheduler.WithSweepEmitter(hooks),
		scheduler.WithSweepLogger(a.logger),
	)

	dissolveOpts := []dissolution.Option{
		dissolution.WithEmitter(hooks),
		dissolution.WithLogger(a.logger),
		dissolution.WithSourceType(a.config.DissolutionSourceType),
		dissolution.WithAge(a.config.DissolutionAge),
	}
	if a.extractor != nil {
		dissolveOpts = append(dissolveOpts, dissolution.WithExtractor(a.extractor))
	}
	a.dissolver = dissolution.New(a.repo, a.machine, dissolveOpts...)

	eng.RegisterHandler(scheduler.JobTypeLifecycleSweep, a.sweeper.Handler())
	eng.RegisterHandler(dissolution.JobTypeDissolve, a.dissolver.DissolveHandler())
	eng.RegisterHandler(dissolution.JobTypeSweep, a.dissolver.SweepHandler())

	if !a.config.DisableScheduler {
		a.sched = scheduler.New(eng.Enqueue,
			scheduler.WithEmitter(hooks),
			scheduler.WithLogger(a.logger),
		)
		for _, e := range scheduler.DefaultEntries(a.config.SweepSchedule, a.config.DissolutionSchedule) {
			if err := a.sched.Add(e); err != nil {
				_ = a.Close()
				return fmt.Errorf("strata: add schedule %s: %w", e.Name, err)
			}
		}
	}

	a.eng = eng
	a.logger.Debug("strata: node initialized",
		slog.String("store", redact(a.config.Store)),
		slog.Int("concurrency", a.config.Concurrency),
		slog.String("source_type", a.config.DissolutionSourceType),
		slog.Bool("scheduler", a.sched != nil),
		slog.Bool("audit", a.config.Audit),
	)
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	if a.store == nil {
		s, err := store.Open(ctx, a.config.Store, a.logger)
		if err != nil {
			return fmt.Errorf("strata: open store: %w", err)
		}
		a.store = s
		a.owned = append(a.owned, s)
	}
	if a.repo != nil {
		return nil
	}

	if a.config.Entities != "" && a.config.Entities != a.config.Store {
		s, err := store.Open(ctx, a.config.Entities, a.logger)
		if err != nil {
			return fmt.Errorf("strata: open entities: %w", err)
		}
		a.owned = append(a.owned, s)
		repo, ok := store.Entities(s)
		if !ok {
			return fmt.Errorf("%w: %s", strata.ErrNoEntityRepository, redact(a.config.Entities))
		}
		a.repo = repo
		return nil
	}

	repo, ok := store.Entities(a.store)
	if !ok {
		return fmt.Errorf("%w: job store has none, set an entities DSN", strata.ErrNoEntityRepository)
	}
	a.repo = repo
	return nil
}

// Start begins job processing and, unless disabled, the scheduler.
func (a *App) Start(ctx context.Context) error {
	if a.eng == nil {
		return errors.New("strata: node not initialized")
	}
	if err := a.eng.Start(ctx); err != nil {
		return err
	}
	if a.sched != nil {
		if err := a.sched.Start(ctx); err != nil {
			_ = a.eng.Stop(ctx)
			return err
		}
	}
	return nil
}

// Stop stops the scheduler first so no new work is submitted, then drains
// the engine within ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.eng == nil {
		return nil
	}
	var errs []error
	if a.sched != nil {
		errs = append(errs, a.sched.Stop(ctx))
	}
	errs = append(errs, a.eng.Stop(ctx))
	return errors.Join(errs...)
}

// Health pings every store the node uses.
func (a *App) Health(ctx context.Context) error {
	if a.store == nil {
		return strata.ErrNoStore
	}
	if err := a.store.Ping(ctx); err != nil {
		return err
	}
	for _, s := range a.owned {
		if s == a.store {
			continue
		}
		if err := s.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the stores the node opened itself.
func (a *App) Close() error {
	var errs []error
	for _, s := range a.owned {
		errs = append(errs, s.Close())
	}
	a.owned = nil
	return errors.Join(errs...)
}
