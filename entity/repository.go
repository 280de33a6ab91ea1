package entity

import "context"

// Repository is the entity storage collaborator. GetEntity and
// UpdateEntity return strata.ErrEntityNotFound for unknown ids. Storage
// errors are surfaced to the caller and never retried here.
type Repository interface {
	GetEntity(ctx context.Context, entityID string) (*Entity, error)

	// CreateEntity persists e. An empty ID is assigned by the repository;
	// zero CreatedAt and UpdatedAt default to now. It fails with
	// strata.ErrEntityAlreadyExists when the ID is taken.
	CreateEntity(ctx context.Context, e *Entity) (*Entity, error)

	// UpdateEntity applies p and returns the updated entity.
	UpdateEntity(ctx context.Context, entityID string, p Patch) (*Entity, error)

	// QueryEntities returns entities matching f, oldest first.
	QueryEntities(ctx context.Context, f Filter) ([]*Entity, error)
}
