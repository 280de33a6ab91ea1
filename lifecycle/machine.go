package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
)

// Emitter receives transition outcomes. ext.Registry satisfies it.
type Emitter interface {
	EmitTransitionCompleted(ctx context.Context, r Result)
	EmitTransitionFailed(ctx context.Context, r Result)
}

// Check is the outcome of CanTransition.
type Check struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Result records one transition attempt.
type Result struct {
	ID       id.ID        `json:"id"`
	EntityID string       `json:"entity_id"`
	From     entity.State `json:"from,omitempty"`
	To       entity.State `json:"to"`
	Success  bool         `json:"success"`
	Forced   bool         `json:"forced,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Actions  []ActionType `json:"actions,omitempty"`
	At       time.Time    `json:"at"`

	// Err wraps a strata sentinel on failure.
	Err error `json:"-"`
}

// Due is an entity whose time-triggered transition has come due.
type Due struct {
	EntityID string        `json:"entity_id"`
	TenantID string        `json:"tenant_id,omitempty"`
	From     entity.State  `json:"from"`
	To       entity.State  `json:"to"`
	Age      time.Duration `json:"age"`
}

// TransitionOption adjusts a single Transition call.
type TransitionOption func(*transitionOpts)

type transitionOpts struct {
	force    bool
	metadata map[string]any
	reason   string
}

// Force skips declaration and condition checks.
func Force() TransitionOption {
	return func(o *transitionOpts) { o.force = true }
}

// WithMetadata merges m into the entity metadata with the state change.
func WithMetadata(m map[string]any) TransitionOption {
	return func(o *transitionOpts) { o.metadata = m }
}

// WithReason records why the transition was requested.
func WithReason(reason string) TransitionOption {
	return func(o *transitionOpts) { o.reason = reason }
}

// Option configures a Machine.
type Option func(*Machine)

// WithTransitions replaces the default transition table.
func WithTransitions(ts ...Transition) Option {
	return func(m *Machine) { m.transitions = append([]Transition(nil), ts...) }
}

// WithSummarizer sets the summarize action's collaborator.
func WithSummarizer(s Summarizer) Option {
	return func(m *Machine) { m.summarizer = s }
}

// WithNotifier sets the notify action's collaborator.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) { m.notifier = n }
}

// WithFiler sets the file action's collaborator.
func WithFiler(f Filer) Option {
	return func(m *Machine) { m.filer = f }
}

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(m *Machine) { m.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithHistoryLimit caps the per-entity history kept in memory.
func WithHistoryLimit(n int) Option {
	return func(m *Machine) { m.historyLimit = n }
}

// Machine evaluates and applies lifecycle transitions against a
// repository. It is safe for concurrent use; callers needing exclusivity
// on one entity must serialize externally.
type Machine struct {
	repo        entity.Repository
	transitions []Transition
	summarizer  Summarizer
	notifier    Notifier
	filer       Filer
	emitter     Emitter
	logger      *slog.Logger
	now         func() time.Time

	historyMu    sync.RWMutex
	history      map[string][]Result
	historyLimit int
}

// New creates a Machine over repo with the default transitions and a
// 48-hour capture age.
func New(repo entity.Repository, opts ...Option) *Machine {
	m := &Machine{
		repo:         repo,
		transitions:  DefaultTransitions(48 * time.Hour),
		summarizer:   ExcerptSummarizer{},
		filer:        NopFiler{},
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		history:      make(map[string][]Result),
		historyLimit: 100,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = LogNotifier{Logger: m.logger}
	}
	return m
}

// Repository returns the entity repository the machine writes through.
func (m *Machine) Repository() entity.Repository { return m.repo }

// Now returns the machine's current time.
func (m *Machine) Now() time.Time { return m.now() }

// ──────────────────────────────────────────────────
// Transition table queries
// ──────────────────────────────────────────────────

// Transitions returns a copy of the declared transitions.
func (m *Machine) Transitions() []Transition {
	return append([]Transition(nil), m.transitions...)
}

// ValidTransitions returns the transitions leaving from.
func (m *Machine) ValidTransitions(from entity.State) []Transition {
	var out []Transition
	for _, t := range m.transitions {
		if t.From == from {
			out = append(out, t)
		}
	}
	return out
}

// HasTransition reports whether from→to is declared.
func (m *Machine) HasTransition(from, to entity.State) bool {
	_, ok := m.find(from, to)
	return ok
}

// NextState returns the target of the first non-manual transition leaving
// from.
func (m *Machine) NextState(from entity.State) (entity.State, bool) {
	for _, t := range m.transitions {
		if t.From == from && t.Trigger != TriggerManual {
			return t.To, true
		}
	}
	return "", false
}

// IsTerminal reports whether state has no automatic exits. Permanent
// entities may still be archived manually.
func (m *Machine) IsTerminal(state entity.State) bool {
	return state == entity.StatePermanent || state == entity.StateArchived
}

func (m *Machine) find(from, to entity.State) (Transition, bool) {
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// ──────────────────────────────────────────────────
// Evaluation
// ──────────────────────────────────────────────────

// CanTransition evaluates whether entityID may move to target without
// mutating anything.
func (m *Machine) CanTransition(ctx context.Context, entityID string, target entity.State) Check {
	e, err := m.repo.GetEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, strata.ErrEntityNotFound) {
			return Check{Reason: "Entity not found"}
		}
		return Check{Reason: err.Error()}
	}
	_, err = m.validate(ctx, e, target)
	if err != nil {
		return Check{Reason: reasonOf(err)}
	}
	return Check{OK: true}
}

type reasonError struct {
	reason   string
	sentinel error
}

func (e *reasonError) Error() string { return e.reason }
func (e *reasonError) Unwrap() error { return e.sentinel }

func reasonOf(err error) string {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return err.Error()
}

func (m *Machine) validate(ctx context.Context, e *entity.Entity, target entity.State) (Transition, error) {
	t, ok := m.find(e.State, target)
	if !ok {
		return Transition{}, &reasonError{
			reason:   fmt.Sprintf("No valid transition from %s to %s", e.State, target),
			sentinel: strata.ErrInvalidTransition,
		}
	}
	for _, c := range t.Conditions {
		met, err := m.evaluate(ctx, e, c)
		if err != nil {
			return t, fmt.Errorf("evaluate condition %s: %w", c.Type, err)
		}
		if !met {
			return t, &reasonError{
				reason:   fmt.Sprintf("Condition not met: %s", c.Type),
				sentinel: strata.ErrConditionNotMet,
			}
		}
	}
	return t, nil
}

func (m *Machine) evaluate(_ context.Context, e *entity.Entity, c Condition) (bool, error) {
	switch c.Type {
	case ConditionAge:
		return e.Age(m.now()) >= c.MinAge, nil
	case ConditionHasPrimaryEntity:
		return len(e.Links) > 0, nil
	case ConditionHasSummary:
		return e.Summary != "", nil
	case ConditionManualOverride:
		return true, nil
	default:
		return false, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

// ──────────────────────────────────────────────────
// Transition
// ──────────────────────────────────────────────────

// Transition moves entityID to target. Unless forced, the pair must be
// declared and its conditions must hold. Actions run in order; the state
// is persisted only after all of them succeed.
func (m *Machine) Transition(ctx context.Context, entityID string, target entity.State, opts ...TransitionOption) Result {
	var o transitionOpts
	for _, opt := range opts {
		opt(&o)
	}

	res := Result{ID: id.NewTransitionID(), EntityID: entityID, To: target, Forced: o.force}

	e, err := m.repo.GetEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, strata.ErrEntityNotFound) {
			return m.fail(ctx, res, "Entity not found", err)
		}
		return m.fail(ctx, res, err.Error(), err)
	}
	res.From = e.State

	var t Transition
	declared := false
	if o.force {
		t, declared = m.find(e.State, target)
	} else {
		t, err = m.validate(ctx, e, target)
		if err != nil {
			return m.fail(ctx, res, reasonOf(err), err)
		}
		declared = true
	}

	if declared {
		for _, a := range t.Actions {
			if err := m.runAction(ctx, e, a); err != nil {
				return m.fail(ctx, res,
					fmt.Sprintf("Action failed: %s: %v", a.Type, err),
					fmt.Errorf("%w: %s: %w", strata.ErrActionFailed, a.Type, err))
			}
			res.Actions = append(res.Actions, a.Type)
		}
	}

	now := m.now()
	meta := map[string]any{"lifecycle_changed_at": now.Format(time.RFC3339Nano)}
	if target == entity.StatePermanent {
		if _, filed := e.Metadata["filed_at"]; !filed {
			meta["filed_at"] = now.Format(time.RFC3339Nano)
		}
	}
	if o.reason != "" {
		meta["lifecycle_reason"] = o.reason
	}
	for k, v := range o.metadata {
		meta[k] = v
	}

	state := target
	if _, err := m.repo.UpdateEntity(ctx, entityID, entity.Patch{State: &state, Metadata: meta}); err != nil {
		return m.fail(ctx, res, fmt.Sprintf("persist state: %v", err), err)
	}

	res.Success = true
	res.At = now
	m.record(res)

	m.logger.Info("lifecycle transition",
		slog.String("entity_id", entityID),
		slog.String("from", string(res.From)),
		slog.String("to", string(target)),
		slog.Bool("forced", o.force),
	)
	if m.emitter != nil {
		m.emitter.EmitTransitionCompleted(ctx, res)
	}
	return res
}

// Fire runs the first transition leaving the entity's current state with
// the given trigger.
func (m *Machine) Fire(ctx context.Context, entityID string, trigger Trigger) Result {
	res := Result{ID: id.NewTransitionID(), EntityID: entityID}
	e, err := m.repo.GetEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, strata.ErrEntityNotFound) {
			return m.fail(ctx, res, "Entity not found", err)
		}
		return m.fail(ctx, res, err.Error(), err)
	}
	for _, t := range m.transitions {
		if t.From == e.State && t.Trigger == trigger {
			return m.Transition(ctx, entityID, t.To)
		}
	}
	res.From = e.State
	return m.fail(ctx, res,
		fmt.Sprintf("No %s transition from %s", trigger, e.State),
		strata.ErrInvalidTransition)
}

// Assign links entityID to linkedID and fires the entity_assigned trigger.
func (m *Machine) Assign(ctx context.Context, entityID, linkedID string) Result {
	if _, err := m.repo.UpdateEntity(ctx, entityID, entity.Patch{AddLinks: []string{linkedID}}); err != nil {
		res := Result{ID: id.NewTransitionID(), EntityID: entityID}
		if errors.Is(err, strata.ErrEntityNotFound) {
			return m.fail(ctx, res, "Entity not found", err)
		}
		return m.fail(ctx, res, err.Error(), err)
	}
	return m.Fire(ctx, entityID, TriggerEntityAssigned)
}

func (m *Machine) fail(ctx context.Context, res Result, reason string, err error) Result {
	res.Success = false
	res.Reason = reason
	res.Err = err
	res.At = m.now()
	m.record(res)

	m.logger.Warn("lifecycle transition failed",
		slog.String("entity_id", res.EntityID),
		slog.String("to", string(res.To)),
		slog.String("reason", reason),
	)
	if m.emitter != nil {
		m.emitter.EmitTransitionFailed(ctx, res)
	}
	return res
}

func (m *Machine) runAction(ctx context.Context, e *entity.Entity, a Action) error {
	switch a.Type {
	case ActionSummarize:
		if e.Summary != "" || e.Content == "" {
			return nil
		}
		summary, err := m.summarizer.Summarize(ctx, e.Content)
		if err != nil {
			return err
		}
		updated, err := m.repo.UpdateEntity(ctx, e.ID, entity.Patch{Summary: &summary})
		if err != nil {
			return err
		}
		*e = *updated
		return nil

	case ActionNotify:
		msg, _ := a.Params["message"].(string)
		if msg == "" {
			msg = "Lifecycle transition occurred"
		}
		return m.notifier.Notify(ctx, e.TenantID, msg)

	case ActionFile:
		return m.filer.File(ctx, e)

	case ActionUpdateMetadata:
		if len(a.Params) == 0 {
			return nil
		}
		meta := make(map[string]any, len(a.Params))
		for k, v := range a.Params {
			if v == "now" {
				v = m.now().Format(time.RFC3339Nano)
			}
			meta[k] = v
		}
		updated, err := m.repo.UpdateEntity(ctx, e.ID, entity.Patch{Metadata: meta})
		if err != nil {
			return err
		}
		*e = *updated
		return nil

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

// ──────────────────────────────────────────────────
// History and due queries
// ──────────────────────────────────────────────────

func (m *Machine) record(res Result) {
	if res.EntityID == "" {
		return
	}
	m.historyMu.Lock()
	defer m.historyMu.Unlock()

	h := append(m.history[res.EntityID], res)
	if m.historyLimit > 0 && len(h) > m.historyLimit {
		h = h[len(h)-m.historyLimit:]
	}
	m.history[res.EntityID] = h
}

// History returns the transition attempts recorded for entityID by this
// machine, oldest first.
func (m *Machine) History(entityID string) []Result {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	return append([]Result(nil), m.history[entityID]...)
}

// DueForTransition returns entities whose time-triggered transitions have
// come due. An empty tenant matches every tenant.
func (m *Machine) DueForTransition(ctx context.Context, tenantID string, limit int) ([]Due, error) {
	now := m.now()
	var due []Due
	for _, t := range m.transitions {
		if t.Trigger != TriggerTime {
			continue
		}
		minAge, ok := t.MinAge()
		if !ok {
			continue
		}
		entities, err := m.repo.QueryEntities(ctx, entity.Filter{
			TenantID:      tenantID,
			States:        []entity.State{t.From},
			CreatedBefore: now.Add(-minAge),
			Limit:         limit,
		})
		if err != nil {
			return nil, fmt.Errorf("query due entities: %w", err)
		}
		for _, e := range entities {
			due = append(due, Due{
				EntityID: e.ID,
				TenantID: e.TenantID,
				From:     t.From,
				To:       t.To,
				Age:      e.Age(now),
			})
		}
	}
	return due, nil
}
