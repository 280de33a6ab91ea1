package sqlite

import (
	"context"
	"fmt"
	"log/slog"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "create jobs table",
		SQL: `
			CREATE TABLE IF NOT EXISTS strata_jobs (
				id            TEXT PRIMARY KEY,
				type          TEXT NOT NULL,
				payload       BLOB,
				priority      INTEGER NOT NULL DEFAULT 1,
				status        TEXT NOT NULL DEFAULT 'pending',
				attempts      INTEGER NOT NULL DEFAULT 0,
				max_attempts  INTEGER NOT NULL DEFAULT 3,
				retry         TEXT NOT NULL DEFAULT '{}',
				timeout_ns    INTEGER NOT NULL DEFAULT 0,
				tenant_id     TEXT NOT NULL DEFAULT '',
				metadata      TEXT,
				started_at    INTEGER,
				completed_at  INTEGER,
				next_retry_at INTEGER,
				last_error    TEXT,
				errors        TEXT,
				result        BLOB,
				execution_ns  INTEGER NOT NULL DEFAULT 0,
				created_at    INTEGER NOT NULL,
				updated_at    INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_strata_jobs_pending
				ON strata_jobs (priority DESC, created_at ASC)
				WHERE status = 'pending';
			CREATE INDEX IF NOT EXISTS idx_strata_jobs_status
				ON strata_jobs (status, created_at);`,
	},
	{
		Version:     2,
		Description: "create entities table",
		SQL: `
			CREATE TABLE IF NOT EXISTS strata_entities (
				id               TEXT PRIMARY KEY,
				type             TEXT NOT NULL,
				tenant_id        TEXT NOT NULL DEFAULT '',
				title            TEXT NOT NULL DEFAULT '',
				content          TEXT NOT NULL DEFAULT '',
				summary          TEXT NOT NULL DEFAULT '',
				state            TEXT NOT NULL DEFAULT 'capture',
				prevent_dissolve INTEGER NOT NULL DEFAULT 0,
				links            TEXT,
				metadata         TEXT,
				created_at       INTEGER NOT NULL,
				updated_at       INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_strata_entities_lookup
				ON strata_entities (tenant_id, type, state, created_at);
			CREATE INDEX IF NOT EXISTS idx_strata_entities_title
				ON strata_entities (title);`,
	},
}

// Migrate applies pending schema migrations. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS strata_schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)`)
	if err != nil {
		return fmt.Errorf("strata/sqlite: create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM strata_schema_versions WHERE version = ?", m.Version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("strata/sqlite: check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("strata/sqlite: begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("strata/sqlite: migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO strata_schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("strata/sqlite: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("strata/sqlite: commit migration %d: %w", m.Version, err)
		}
		s.logger.Debug("sqlite migration applied",
			slog.Int("version", m.Version),
			slog.String("description", m.Description),
		)
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM strata_schema_versions").Scan(&version)
	return version, err
}
