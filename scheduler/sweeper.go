package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/lifecycle"
)

// DefaultBatchSize caps the entities handled per transition in one sweep.
const DefaultBatchSize = 100

// BatchResult summarizes one lifecycle sweep.
type BatchResult struct {
	ID           id.ID              `json:"id"`
	TenantID     string             `json:"tenant_id,omitempty"`
	Processed    int                `json:"processed"`
	Transitioned int                `json:"transitioned"`
	Errors       []string           `json:"errors,omitempty"`
	Details      []lifecycle.Result `json:"details,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithBatchSize caps the entities processed per transition in one sweep.
func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithSweepEmitter sets the sink for SweepCompleted events.
func WithSweepEmitter(e Emitter) SweeperOption {
	return func(s *Sweeper) { s.emitter = e }
}

// WithSweepLogger sets the logger.
func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// WithProcessor sets the processor used for each transition.
func WithProcessor(p *lifecycle.Processor) SweeperOption {
	return func(s *Sweeper) { s.processor = p }
}

// Sweeper moves due entities through their time-triggered transitions.
type Sweeper struct {
	machine   *lifecycle.Machine
	processor *lifecycle.Processor
	emitter   Emitter
	logger    *slog.Logger
	batchSize int
}

// NewSweeper creates a Sweeper over machine.
func NewSweeper(machine *lifecycle.Machine, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		machine:   machine,
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.processor == nil {
		s.processor = lifecycle.NewProcessor(machine, lifecycle.WithProcessorLogger(s.logger))
	}
	return s
}

// ProcessLifecycles runs one sweep for tenantID. An empty tenant sweeps
// every tenant. Per-entity failures are counted, not returned.
func (s *Sweeper) ProcessLifecycles(ctx context.Context, tenantID string) (*BatchResult, error) {
	res := &BatchResult{ID: id.NewSweepID(), TenantID: tenantID, StartedAt: s.machine.Now()}

	due, err := s.machine.DueForTransition(ctx, tenantID, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.EntityID, err))
			break
		}
		tr := s.processor.ProcessTransition(ctx, d.EntityID, d.To)
		res.Processed++
		res.Details = append(res.Details, tr)
		if tr.Success {
			res.Transitioned++
			continue
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", d.EntityID, tr.Reason))
		s.logger.Warn("sweep transition failed",
			slog.String("entity_id", d.EntityID),
			slog.String("to", string(d.To)),
			slog.String("reason", tr.Reason),
		)
	}

	res.FinishedAt = s.machine.Now()
	s.logger.Info("lifecycle sweep completed",
		slog.String("sweep_id", res.ID.String()),
		slog.String("tenant_id", tenantID),
		slog.Int("processed", res.Processed),
		slog.Int("transitioned", res.Transitioned),
		slog.Int("errors", len(res.Errors)),
	)
	if s.emitter != nil {
		s.emitter.EmitSweepCompleted(ctx, res)
	}
	return res, nil
}

// ProcessTenants sweeps tenants concurrently, at most limit at a time.
// Results are returned in tenant order. The first query error cancels the
// remaining sweeps.
func (s *Sweeper) ProcessTenants(ctx context.Context, tenants []string, limit int) ([]*BatchResult, error) {
	out := make([]*BatchResult, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, tenant := range tenants {
		g.Go(func() error {
			res, err := s.ProcessLifecycles(gctx, tenant)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", tenant, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Sweeper) captureAge() time.Duration {
	for _, t := range s.machine.ValidTransitions(entity.StateCapture) {
		if t.Trigger != lifecycle.TriggerTime {
			continue
		}
		if age, ok := t.MinAge(); ok {
			return age
		}
	}
	return 0
}

// IsReadyForTransition reports whether the entity is in capture and old
// enough to leave it.
func (s *Sweeper) IsReadyForTransition(ctx context.Context, entityID string) (bool, error) {
	e, err := s.machine.Repository().GetEntity(ctx, entityID)
	if err != nil {
		return false, err
	}
	return e.State == entity.StateCapture && e.Age(s.machine.Now()) >= s.captureAge(), nil
}

// TimeUntilTransition returns how long until the entity leaves capture.
// ok is false when the entity is not in capture. A due entity returns 0.
func (s *Sweeper) TimeUntilTransition(ctx context.Context, entityID string) (time.Duration, bool, error) {
	e, err := s.machine.Repository().GetEntity(ctx, entityID)
	if err != nil {
		return 0, false, err
	}
	if e.State != entity.StateCapture {
		return 0, false, nil
	}
	return max(s.captureAge()-e.Age(s.machine.Now()), 0), true, nil
}

// PendingReview returns transitional entities awaiting assignment.
func (s *Sweeper) PendingReview(ctx context.Context, tenantID string) ([]*entity.Entity, error) {
	return s.machine.Repository().QueryEntities(ctx, entity.Filter{
		TenantID: tenantID,
		States:   []entity.State{entity.StateTransitional},
	})
}

// Statistics counts entities per state. Every state is present.
func (s *Sweeper) Statistics(ctx context.Context, tenantID string) (map[entity.State]int, error) {
	all, err := s.machine.Repository().QueryEntities(ctx, entity.Filter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	stats := make(map[entity.State]int, len(entity.States))
	for _, st := range entity.States {
		stats[st] = 0
	}
	for _, e := range all {
		stats[e.State]++
	}
	return stats, nil
}

// SweepPayload is the input of a lifecycle.sweep job.
type SweepPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// Handler returns the lifecycle.sweep job handler.
func (s *Sweeper) Handler() job.HandlerFunc {
	return job.Typed(func(jc *job.Context, p SweepPayload) (*BatchResult, error) {
		res, err := s.ProcessLifecycles(jc.Context(), p.TenantID)
		if err != nil {
			return nil, err
		}
		jc.UpdateMetadata(map[string]any{
			"sweep_id":     res.ID.String(),
			"transitioned": res.Transitioned,
		})
		return res, nil
	})
}
