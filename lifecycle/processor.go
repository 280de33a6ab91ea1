package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/retry"
)

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMaxRetries sets how many attempts a transition gets.
func WithMaxRetries(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the delay between attempts.
func WithBackoff(b retry.Backoff) ProcessorOption {
	return func(p *Processor) { p.backoff = b }
}

// WithSuccessNotifications makes the processor notify the entity's tenant
// after each successful transition.
func WithSuccessNotifications(n Notifier) ProcessorOption {
	return func(p *Processor) { p.notifier = n }
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// Processor drives a Machine with bounded retries for transient failures.
type Processor struct {
	machine    *Machine
	maxRetries int
	backoff    retry.Backoff
	notifier   Notifier
	logger     *slog.Logger
}

// NewProcessor wraps machine. Defaults: 3 attempts, linear 1s backoff.
func NewProcessor(machine *Machine, opts ...ProcessorOption) *Processor {
	p := &Processor{
		machine:    machine,
		maxRetries: 3,
		backoff:    retry.Linear{Initial: time.Second},
		logger:     machine.logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BatchResult summarizes ProcessBatch.
type BatchResult struct {
	Processed    int      `json:"processed"`
	Transitioned int      `json:"transitioned"`
	Errors       []string `json:"errors,omitempty"`
	Results      []Result `json:"results"`
}

// Request names one transition for ProcessBatch.
type Request struct {
	EntityID string       `json:"entity_id"`
	To       entity.State `json:"to"`
}

// definitive reports failures a retry cannot change.
func definitive(err error) bool {
	return errors.Is(err, strata.ErrEntityNotFound) ||
		errors.Is(err, strata.ErrInvalidTransition) ||
		errors.Is(err, strata.ErrConditionNotMet)
}

// ProcessTransition runs one transition, retrying transient failures.
func (p *Processor) ProcessTransition(ctx context.Context, entityID string, to entity.State, opts ...TransitionOption) Result {
	var res Result
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		res = p.machine.Transition(ctx, entityID, to, opts...)
		if res.Success {
			p.notifySuccess(ctx, res)
			return res
		}
		if definitive(res.Err) || attempt == p.maxRetries {
			return res
		}

		delay := p.backoff.Delay(attempt)
		p.logger.Debug("retrying lifecycle transition",
			slog.String("entity_id", entityID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			res.Reason = ctx.Err().Error()
			return res
		case <-time.After(delay):
		}
	}
	return res
}

func (p *Processor) notifySuccess(ctx context.Context, res Result) {
	if p.notifier == nil {
		return
	}
	e, err := p.machine.repo.GetEntity(ctx, res.EntityID)
	if err != nil {
		return
	}
	msg := fmt.Sprintf("%q moved from %s to %s", e.Title, res.From, res.To)
	if err := p.notifier.Notify(ctx, e.TenantID, msg); err != nil {
		p.logger.Warn("lifecycle success notification failed",
			slog.String("entity_id", res.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

// ProcessBatch runs each request in order.
func (p *Processor) ProcessBatch(ctx context.Context, reqs []Request) *BatchResult {
	out := &BatchResult{Results: make([]Result, 0, len(reqs))}
	for _, r := range reqs {
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", r.EntityID, ctx.Err()))
			break
		}
		res := p.ProcessTransition(ctx, r.EntityID, r.To)
		out.Processed++
		if res.Success {
			out.Transitioned++
		} else {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", r.EntityID, res.Reason))
		}
		out.Results = append(out.Results, res)
	}
	return out
}

// ProcessPending transitions every entity due under the time-triggered
// transitions, up to limit entities per transition.
func (p *Processor) ProcessPending(ctx context.Context, tenantID string, limit int) (*BatchResult, error) {
	due, err := p.machine.DueForTransition(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	reqs := make([]Request, len(due))
	for i, d := range due {
		reqs[i] = Request{EntityID: d.EntityID, To: d.To}
	}
	return p.ProcessBatch(ctx, reqs), nil
}
