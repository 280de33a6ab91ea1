package job

import (
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc executes one attempt of a job. The job is a copy; changes to
// it are discarded. The returned value is JSON-encoded into Job.Result.
type HandlerFunc func(jc *Context, j *Job) (any, error)

// Typed adapts a strongly-typed handler. The payload is decoded into T
// before fn runs.
func Typed[T, R any](fn func(jc *Context, payload T) (R, error)) HandlerFunc {
	return func(jc *Context, j *Job) (any, error) {
		var payload T
		if err := Decode(j.Payload, &payload); err != nil {
			return nil, fmt.Errorf("invalid input for job %q: %w", j.Type, err)
		}
		return fn(jc, payload)
	}
}

// Registry maps job types to handlers. One handler per type; the last
// registration wins. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds jobType to h, replacing any previous handler.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for jobType.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
