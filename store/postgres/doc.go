// Package postgres implements the job store and the entity repository
// using pgx/v5 with raw SQL. Claims are a conditional UPDATE ... RETURNING,
// structured columns are JSONB, and migrations are embedded SQL files.
package postgres
