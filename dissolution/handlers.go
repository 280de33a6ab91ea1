package dissolution

import (
	"fmt"

	"github.com/secondbrain/strata/job"
)

// Job types served by the handlers below.
const (
	JobTypeDissolve = "dissolution.dissolve"
	JobTypeSweep    = "dissolution.sweep"
)

// DissolvePayload is the input of a dissolution.dissolve job.
type DissolvePayload struct {
	EntityID string `json:"entity_id"`
}

// SweepPayload is the input of a dissolution.sweep job.
type SweepPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// DissolveHandler returns the dissolution.dissolve job handler.
func (w *Workflow) DissolveHandler() job.HandlerFunc {
	return job.Typed(func(jc *job.Context, p DissolvePayload) (*Result, error) {
		if p.EntityID == "" {
			return nil, fmt.Errorf("invalid input: entity_id is required")
		}
		return w.Dissolve(jc.Context(), p.EntityID)
	})
}

// SweepHandler returns the dissolution.sweep job handler. It dissolves
// every due note and reports progress per note.
func (w *Workflow) SweepHandler() job.HandlerFunc {
	return job.Typed(func(jc *job.Context, p SweepPayload) (*Batch, error) {
		ctx := jc.Context()
		due, err := w.DueForDissolution(ctx, p.TenantID)
		if err != nil {
			return nil, err
		}
		out := &Batch{Results: make([]*Result, 0, len(due))}
		for i, e := range due {
			res, err := w.Dissolve(ctx, e.ID)
			if err != nil {
				out.Failures = append(out.Failures, Failure{EntityID: e.ID, Error: err.Error()})
			} else {
				out.Results = append(out.Results, res)
			}
			jc.ReportProgress(float64(i+1)/float64(len(due))*100, e.ID)
		}
		jc.UpdateMetadata(map[string]any{
			"dissolved": len(out.Results),
			"failed":    len(out.Failures),
		})
		return out, nil
	})
}
