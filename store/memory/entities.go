package memory

import (
	"context"
	"sort"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
)

// ──────────────────────────────────────────────────
// Entity Repository
// ──────────────────────────────────────────────────

// GetEntity retrieves an entity by ID.
func (m *Store) GetEntity(_ context.Context, entityID string) (*entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[entityID]
	if !ok {
		return nil, strata.ErrEntityNotFound
	}
	return e.Clone(), nil
}

// CreateEntity persists a new entity, assigning an ID when empty.
func (m *Store) CreateEntity(_ context.Context, e *entity.Entity) (*entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := e.Clone()
	if cp.ID == "" {
		cp.ID = id.NewEntityID().String()
	}
	if _, exists := m.entities[cp.ID]; exists {
		return nil, strata.ErrEntityAlreadyExists
	}
	now := m.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	if cp.State == "" {
		cp.State = entity.StateCapture
	}
	m.entities[cp.ID] = cp
	return cp.Clone(), nil
}

// UpdateEntity applies a patch to an existing entity.
func (m *Store) UpdateEntity(_ context.Context, entityID string, p entity.Patch) (*entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[entityID]
	if !ok {
		return nil, strata.ErrEntityNotFound
	}
	p.Apply(e, m.now())
	return e.Clone(), nil
}

// QueryEntities returns matching entities ordered by CreatedAt.
func (m *Store) QueryEntities(_ context.Context, f entity.Filter) ([]*entity.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*entity.Entity, 0)
	for _, e := range m.entities {
		if f.Match(e) {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID < result[k].ID
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}
