// Package sqlite implements the job store and the entity repository on
// SQLite through database/sql and the pure-Go modernc.org/sqlite driver.
// Suitable for embedded deployments, the CLI and single-process hosts.
//
// Open creates the database file, applies pragmas and runs migrations:
//
//	s, err := sqlite.Open(ctx, "/var/lib/strata/strata.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
// New wraps a caller-owned *sql.DB instead; the caller must then call
// Migrate and Close the handle itself.
package sqlite
