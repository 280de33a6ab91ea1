package dissolution

import (
	"context"
	"fmt"
	"time"

	"github.com/secondbrain/strata/entity"
)

// PreventDissolution excludes entityID from dissolution until allowed.
func (w *Workflow) PreventDissolution(ctx context.Context, entityID, reason string) (*entity.Entity, error) {
	if reason == "" {
		reason = "Manually prevented"
	}
	e, err := w.repo.UpdateEntity(ctx, entityID, entity.Patch{
		PreventDissolve: entity.Ptr(true),
		Metadata: map[string]any{
			"prevent_dissolve":        true,
			"prevent_dissolve_reason": reason,
			"prevent_dissolve_date":   w.now().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("prevent dissolution of %s: %w", entityID, err)
	}
	return e, nil
}

// PostponeDissolution defers entityID by hours. Non-positive hours mean 48.
func (w *Workflow) PostponeDissolution(ctx context.Context, entityID string, hours int) (*entity.Entity, error) {
	if hours <= 0 {
		hours = 48
	}
	now := w.now()
	e, err := w.repo.UpdateEntity(ctx, entityID, entity.Patch{
		Metadata: map[string]any{
			"postpone_until":  now.Add(time.Duration(hours) * time.Hour).Format(time.RFC3339Nano),
			"postponed_date":  now.Format(time.RFC3339Nano),
			"postponed_hours": hours,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("postpone dissolution of %s: %w", entityID, err)
	}
	return e, nil
}

// AllowDissolution clears a prevention and any postponement.
func (w *Workflow) AllowDissolution(ctx context.Context, entityID string) (*entity.Entity, error) {
	e, err := w.repo.UpdateEntity(ctx, entityID, entity.Patch{
		PreventDissolve: entity.Ptr(false),
		Metadata: map[string]any{
			"prevent_dissolve":        nil,
			"prevent_dissolve_reason": nil,
			"prevent_dissolve_date":   nil,
			"postpone_until":          nil,
			"postponed_date":          nil,
			"postponed_hours":         nil,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("allow dissolution of %s: %w", entityID, err)
	}
	return e, nil
}
