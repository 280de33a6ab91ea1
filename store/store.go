package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/store/memory"
	"github.com/secondbrain/strata/store/postgres"
	redisstore "github.com/secondbrain/strata/store/redis"
	"github.com/secondbrain/strata/store/sqlite"
)

// Store is the aggregate persistence interface every backend satisfies.
type Store interface {
	job.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases resources the backend owns.
	Close() error
}

// Migrator is implemented by backends with a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Compile-time checks for the bundled backends.
var (
	_ Store    = (*memory.Store)(nil)
	_ Store    = (*sqlite.Store)(nil)
	_ Store    = (*postgres.Store)(nil)
	_ Store    = (*redisstore.Store)(nil)
	_ Migrator = (*sqlite.Store)(nil)
	_ Migrator = (*postgres.Store)(nil)
)

// Open selects a backend from a DSN and returns it ready for use:
//
//	memory://                     in-process maps
//	sqlite:///var/lib/strata.db   SQLite file (also file:... or a *.db path)
//	postgres://user@host/db       PostgreSQL
//	redis://localhost:6379/0      Redis (jobs only)
//
// Backends with a schema are migrated before Open returns.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		s   Store
		err error
	)
	switch {
	case dsn == "" || dsn == "memory" || strings.HasPrefix(dsn, "memory://"):
		s = memory.New()
	case strings.HasPrefix(dsn, "sqlite://"):
		s, err = sqlite.Open(ctx, strings.TrimPrefix(dsn, "sqlite://"), sqlite.WithLogger(logger))
	case strings.HasPrefix(dsn, "file:"):
		s, err = sqlite.Open(ctx, strings.TrimPrefix(dsn, "file:"), sqlite.WithLogger(logger))
	case strings.HasSuffix(dsn, ".db") && !strings.Contains(dsn, "://"):
		s, err = sqlite.Open(ctx, dsn, sqlite.WithLogger(logger))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err = openPostgres(ctx, dsn, logger)
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		s, err = openRedis(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("store: unsupported dsn %q", dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return s, nil
}

// Entities returns the entity repository s implements, if any.
func Entities(s Store) (entity.Repository, bool) {
	repo, ok := s.(entity.Repository)
	return repo, ok
}

func openPostgres(ctx context.Context, dsn string, logger *slog.Logger) (Store, error) {
	s, err := postgres.New(ctx, dsn, postgres.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// ownedRedis closes the client it was opened with.
type ownedRedis struct {
	*redisstore.Store
	client *goredis.Client
}

func (o ownedRedis) Close() error { return o.client.Close() }

func openRedis(_ context.Context, dsn string, logger *slog.Logger) (Store, error) {
	opts, err := goredis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	return ownedRedis{Store: redisstore.New(client, redisstore.WithLogger(logger)), client: client}, nil
}
