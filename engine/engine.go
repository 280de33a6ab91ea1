package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/ext"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	mw "github.com/secondbrain/strata/middleware"
	"github.com/secondbrain/strata/observability"
	"github.com/secondbrain/strata/retry"
	"github.com/secondbrain/strata/throttle"
	"github.com/secondbrain/strata/worker"
)

const instrumentationName = "github.com/secondbrain/strata"

// Engine accepts job submissions and executes them.
type Engine struct {
	store      job.Store
	config     strata.Config
	logger     *slog.Logger
	retry      retry.Config
	registry   *job.Registry
	extensions *ext.Registry
	mws        []mw.Middleware
	exts       []ext.Extension
	throttle   *throttle.Throttle

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	executor *worker.Executor
	pool     *worker.Pool

	handlesMu sync.Mutex
	handles   map[string]*Handle
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the runtime configuration. Non-positive concurrency and
// poll interval fall back to strata.DefaultConfig.
func WithConfig(cfg strata.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithRetry sets the default retry policy for jobs submitted without one.
func WithRetry(cfg retry.Config) Option {
	return func(eng *Engine) { eng.retry = cfg }
}

// WithExtension registers an extension with the engine.
func WithExtension(x ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, x) }
}

// WithMiddleware adds middleware to the execution chain, inside the
// default recover, tracing, metrics and logging middleware.
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, mws...) }
}

// WithThrottle sets per-type and per-tenant limits.
func WithThrottle(t *throttle.Throttle) Option {
	return func(eng *Engine) { eng.throttle = t }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine backed by store.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, strata.ErrNoStore
	}

	eng := &Engine{
		store:    store,
		config:   strata.DefaultConfig(),
		logger:   slog.Default(),
		retry:    retry.DefaultConfig(),
		registry: job.NewRegistry(),
		handles:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, x := range eng.exts {
		eng.extensions.Register(x)
	}

	def := strata.DefaultConfig()
	if eng.config.Concurrency <= 0 {
		eng.config.Concurrency = def.Concurrency
	}
	if eng.config.PollInterval <= 0 {
		eng.config.PollInterval = def.PollInterval
	}
	eng.retry = eng.retry.Normalize()

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the observability extension.
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default stack: recover → tracing → metrics → logging → user middleware.
	allMws := make([]mw.Middleware, 0, 4+len(eng.mws))
	allMws = append(allMws,
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	)
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.registry, store, eng.extensions, eng.logger,
		worker.WithMiddleware(allMws...),
		worker.WithSettleFunc(eng.settle),
		worker.WithProgressFunc(eng.progress),
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.config.Concurrency),
		worker.WithPollInterval(eng.config.PollInterval),
	}
	if eng.throttle != nil {
		poolOpts = append(poolOpts, worker.WithThrottle(eng.throttle))
	}
	eng.pool = worker.NewPool(store, eng.executor, eng.extensions, eng.logger, poolOpts...)

	return eng, nil
}

// RegisterHandler binds jobType to h. The last registration wins.
func (eng *Engine) RegisterHandler(jobType string, h job.HandlerFunc) {
	eng.registry.Register(jobType, h)
}

// Register binds a strongly-typed handler to jobType.
func Register[T, R any](eng *Engine, jobType string, fn func(jc *job.Context, payload T) (R, error)) {
	eng.registry.Register(jobType, job.Typed(fn))
}

// Submit persists a new pending job and returns a Handle to it. It never
// waits for execution.
func (eng *Engine) Submit(ctx context.Context, def job.Definition) (*Handle, error) {
	if strings.TrimSpace(def.Type) == "" {
		return nil, strata.ErrInvalidJobType
	}

	payload, err := job.Encode(def.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for job %q: %w", def.Type, err)
	}

	policy := eng.retry
	if def.Retry != nil {
		policy = def.Retry.Normalize()
	}

	timeout := def.Timeout
	switch {
	case timeout == 0:
		timeout = eng.config.DefaultTimeout
	case timeout < 0:
		timeout = 0
	}

	j := &job.Job{
		Timestamps:  strata.NewTimestamps(),
		ID:          id.NewJobID(),
		Type:        def.Type,
		Payload:     payload,
		Priority:    def.EffectivePriority(),
		Status:      job.StatusPending,
		MaxAttempts: policy.MaxAttempts,
		Retry:       policy,
		Timeout:     timeout,
		TenantID:    def.TenantID,
	}
	j.MergeMetadata(def.Metadata)
	if def.Delay > 0 {
		next := j.CreatedAt.Add(def.Delay)
		j.NextRetryAt = &next
	}

	h := eng.attach(j.ID)
	if err := eng.store.SaveJob(ctx, j); err != nil {
		eng.detach(h)
		return nil, fmt.Errorf("save job %q: %w", def.Type, err)
	}

	eng.logger.Debug("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("priority", j.Priority.String()),
	)
	eng.extensions.EmitJobSubmitted(ctx, j)
	eng.pool.Wake()
	return h, nil
}

// Enqueue submits a job with default options and returns its ID. It
// matches scheduler.EnqueueFunc.
func (eng *Engine) Enqueue(ctx context.Context, jobType string, payload any) (id.JobID, error) {
	h, err := eng.Submit(ctx, job.NewDefinition(jobType, payload))
	if err != nil {
		return id.Nil, err
	}
	return h.ID(), nil
}

// Handle re-attaches to a stored job. The returned Handle resolves when
// the job settles, or at once if it already has.
func (eng *Engine) Handle(ctx context.Context, jobID id.JobID) (*Handle, error) {
	h := eng.attach(jobID)
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		eng.detach(h)
		return nil, err
	}
	if j.Status.IsTerminal() {
		eng.settle(j)
	}
	return h, nil
}

// CancelJob cancels a pending, running or retrying job. It reports false
// when the job was already terminal.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) (bool, error) {
	return eng.pool.Cancel(ctx, jobID)
}

// GetJob returns the stored job.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// Stats summarizes the job store.
func (eng *Engine) Stats(ctx context.Context) (*job.Stats, error) {
	return eng.store.JobStats(ctx)
}

// ActiveCount returns the number of jobs currently executing.
func (eng *Engine) ActiveCount() int { return eng.pool.ActiveCount() }

// Start begins polling for work. It returns strata.ErrEngineRunning when
// already started. A stopped engine may be started again.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.pool.Start(ctx); err != nil {
		return err
	}
	eng.logger.Info("engine started",
		slog.Int("concurrency", eng.config.Concurrency),
		slog.Any("job_types", eng.registry.Types()),
	)
	eng.extensions.EmitEngineStarted(ctx)
	return nil
}

// Stop stops polling and waits for in-flight jobs. If ctx ends first, the
// remaining jobs are cancelled and ctx's error is returned.
func (eng *Engine) Stop(ctx context.Context) error {
	if !eng.pool.Running() {
		return nil
	}
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	eng.extensions.EmitEngineStopped(context.WithoutCancel(ctx))
	eng.logger.Info("engine stopped")
	return err
}

// Halt stops polling and cancels every in-flight job without waiting.
func (eng *Engine) Halt() {
	if !eng.pool.Running() {
		return
	}
	eng.pool.Halt()
	eng.extensions.EmitEngineStopped(context.Background())
	eng.logger.Warn("engine halted")
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the job store.
func (eng *Engine) Store() job.Store { return eng.store }

// Config returns the effective configuration.
func (eng *Engine) Config() strata.Config { return eng.config }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// ──────────────────────────────────────────────────
// Handle bookkeeping
// ──────────────────────────────────────────────────

func (eng *Engine) attach(jobID id.JobID) *Handle {
	eng.handlesMu.Lock()
	defer eng.handlesMu.Unlock()

	key := jobID.String()
	if h, ok := eng.handles[key]; ok {
		return h
	}
	h := newHandle(eng, jobID)
	eng.handles[key] = h
	return h
}

func (eng *Engine) detach(h *Handle) {
	eng.handlesMu.Lock()
	defer eng.handlesMu.Unlock()

	key := h.id.String()
	if eng.handles[key] == h {
		delete(eng.handles, key)
	}
}

// settle resolves and forgets the handle of a job that reached a terminal
// status.
func (eng *Engine) settle(j *job.Job) {
	key := j.ID.String()
	eng.handlesMu.Lock()
	h := eng.handles[key]
	delete(eng.handles, key)
	eng.handlesMu.Unlock()

	if h != nil {
		h.resolve(j)
	}
}

func (eng *Engine) progress(jobID id.JobID, p job.Progress) {
	eng.handlesMu.Lock()
	h := eng.handles[jobID.String()]
	eng.handlesMu.Unlock()

	if h != nil {
		h.setProgress(p)
	}
}
