package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/id"
)

func scanEntity(sc scanner) (*entity.Entity, error) {
	var r entityRow
	if err := sc.Scan(r.dest()...); err != nil {
		return nil, err
	}
	return fromEntityRow(&r)
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, entityID string) (*entity.Entity, error) {
	e, err := getEntity(ctx, s.db, entityID)
	if err != nil {
		if isNoRows(err) {
			return nil, strata.ErrEntityNotFound
		}
		return nil, fmt.Errorf("strata/sqlite: get entity: %w", err)
	}
	return e, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntity(ctx context.Context, q queryRower, entityID string) (*entity.Entity, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM strata_entities WHERE id = ?`, entityID)
	return scanEntity(row)
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

	r, err := toEntityRow(cp)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: create entity: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO strata_entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.args()...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, strata.ErrEntityAlreadyExists
		}
		return nil, fmt.Errorf("strata/sqlite: create entity: %w", err)
	}
	return cp, nil
}

// UpdateEntity applies a patch inside a transaction.
func (s *Store) UpdateEntity(ctx context.Context, entityID string, p entity.Patch) (*entity.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: update entity: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := getEntity(ctx, tx, entityID)
	if err != nil {
		if isNoRows(err) {
			return nil, strata.ErrEntityNotFound
		}
		return nil, fmt.Errorf("strata/sqlite: update entity: %w", err)
	}

	p.Apply(e, time.Now().UTC())

	r, err := toEntityRow(e)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: update entity: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE strata_entities SET
			title = ?, content = ?, summary = ?, state = ?, prevent_dissolve = ?,
			links = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		r.Title, r.Content, r.Summary, r.State, r.PreventDissolve,
		r.Links, r.Metadata, r.UpdatedAt,
		r.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: update entity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("strata/sqlite: update entity: %w", err)
	}
	return e, nil
}

// QueryEntities returns matching entities, oldest first.
func (s *Store) QueryEntities(ctx context.Context, f entity.Filter) ([]*entity.Entity, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Title != "" {
		where = append(where, "title = ?")
		args = append(args, f.Title)
	}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, toNanos(f.CreatedBefore))
	}

	query := `SELECT ` + entityColumns + ` FROM strata_entities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("strata/sqlite: query entities: %w", err)
	}
	defer rows.Close()

	result := make([]*entity.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("strata/sqlite: query entities: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("strata/sqlite: query entities: %w", err)
	}
	return result, nil
}
