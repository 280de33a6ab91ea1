// Package store defines the aggregate persistence interface and opens a
// backend from a DSN.
//
// Every backend implements job.Store plus Ping and Close. The memory,
// SQLite and PostgreSQL backends also implement entity.Repository; use
// [Entities] to obtain it.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/sqlite: SQLite backend on modernc.org/sqlite
//   - store/postgres: PostgreSQL backend using pgx/v5
//   - store/redis: Redis job store using go-redis/v9
//
// # Usage
//
//	s, err := store.Open(ctx, "sqlite:///var/lib/strata/strata.db", logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	eng, err := engine.New(s)
//
// Open migrates backends that implement [Migrator].
package store
