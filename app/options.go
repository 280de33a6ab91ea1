package app

import (
	"log/slog"

	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/ext"
	"github.com/secondbrain/strata/extract"
	mw "github.com/secondbrain/strata/middleware"
	"github.com/secondbrain/strata/store"
	"github.com/secondbrain/strata/throttle"
)

// Option configures an App.
type Option func(*App)

// WithConfig sets the node configuration.
func WithConfig(cfg Config) Option {
	return func(a *App) { a.config = cfg }
}

// WithStore uses an already opened job store instead of Config.Store.
// The caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEntities uses repo instead of the entity repository of the store.
func WithEntities(repo entity.Repository) Option {
	return func(a *App) { a.repo = repo }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithExtension registers an extension on the engine's hook registry.
func WithExtension(x ext.Extension) Option {
	return func(a *App) { a.exts = append(a.exts, x) }
}

// WithMiddleware adds job middleware after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(a *App) { a.mws = append(a.mws, m) }
}

// WithExtractor sets the extractor used by dissolution.
func WithExtractor(x extract.Extractor) Option {
	return func(a *App) { a.extractor = x }
}

// WithThrottle sets per-type and per-tenant limits for the engine.
func WithThrottle(t *throttle.Throttle) Option {
	return func(a *App) { a.throttle = t }
}
