package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
)

const entityColumns = `
	id, type, tenant_id, title, content, summary, state,
	prevent_dissolve, links, metadata, created_at, updated_at`

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, entityID string) (*entity.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM strata_entities WHERE id = $1`, entityID)
	e, err := scanEntity(row)
	if err != nil {
		if isNoRows(err) {
			return nil, strata.ErrEntityNotFound
		}
		return nil, fmt.Errorf("strata/postgres: get entity: %w", err)
	}
	return e, nil
}

// CreateEntity persists a new entity, assigning an ID when empty.
func (s *Store) CreateEntity(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	cp := e.Clone()
	if cp.ID == "" {
		cp.ID = id.NewEntityID().String()
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	if cp.State == "" {
		cp.State = entity.StateCapture
	}
	links := cp.Links
	if links == nil {
		links = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO strata_entities (`+entityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		cp.ID, cp.Type, cp.TenantID, cp.Title, cp.Content, cp.Summary, string(cp.State),
		cp.PreventDissolve, links, cp.Metadata, cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, strata.ErrEntityAlreadyExists
		}
		return nil, fmt.Errorf("strata/postgres: create entity: %w", err)
	}
	return cp, nil
}

// UpdateEntity locks the row, applies the patch and writes it back.
func (s *Store) UpdateEntity(ctx context.Context, entityID string, p entity.Patch) (*entity.Entity, error) {
	var updated *entity.Entity
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+entityColumns+` FROM strata_entities WHERE id = $1 FOR UPDATE`, entityID)
		e, err := scanEntity(row)
		if err != nil {
			return err
		}

		p.Apply(e, time.Now().UTC())
		links := e.Links
		if links == nil {
			links = []string{}
		}
		_, err = tx.Exec(ctx, `
			UPDATE strata_entities SET
				title = $2, content = $3, summary = $4, state = $5,
				prevent_dissolve = $6, links = $7, metadata = $8, updated_at = $9
			WHERE id = $1`,
			e.ID, e.Title, e.Content, e.Summary, string(e.State),
			e.PreventDissolve, links, e.Metadata, e.UpdatedAt,
		)
		if err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		if isNoRows(err) {
			return nil, strata.ErrEntityNotFound
		}
		return nil, fmt.Errorf("strata/postgres: update entity: %w", err)
	}
	return updated, nil
}

// QueryEntities returns matching entities, oldest first.
func (s *Store) QueryEntities(ctx context.Context, f entity.Filter) ([]*entity.Entity, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.TenantID != "" {
		where = append(where, "tenant_id = "+arg(f.TenantID))
	}
	if f.Type != "" {
		where = append(where, "type = "+arg(f.Type))
	}
	if f.Title != "" {
		where = append(where, "title = "+arg(f.Title))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		where = append(where, "state = ANY("+arg(states)+")")
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at <= "+arg(f.CreatedBefore))
	}

	query := `SELECT ` + entityColumns + ` FROM strata_entities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("strata/postgres: query entities: %w", err)
	}
	defer rows.Close()

	result := make([]*entity.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("strata/postgres: scan entity row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("strata/postgres: iterate entity rows: %w", err)
	}
	return result, nil
}

func scanEntity(row pgx.Row) (*entity.Entity, error) {
	var (
		e     entity.Entity
		state string
	)
	err := row.Scan(
		&e.ID, &e.Type, &e.TenantID, &e.Title, &e.Content, &e.Summary, &state,
		&e.PreventDissolve, &e.Links, &e.Metadata, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.State = entity.State(state)
	if len(e.Links) == 0 {
		e.Links = nil
	}
	return &e, nil
}
