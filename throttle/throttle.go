// Package throttle gates job dispatch with optional per-type and
// per-tenant limits.
//
// A Limit caps how many jobs of one type may run at once and how fast they
// may start, using a token bucket from golang.org/x/time/rate. A
// TenantLimit does the same for one tenant's jobs of one type. Types and
// tenants without a limit are bounded only by the engine's concurrency.
//
//	t := throttle.New(throttle.Limit{Type: "dissolution.dissolve", MaxConcurrency: 2})
//	if t.Acquire(j.Type, j.TenantID) {
//	    defer t.Release(j.Type, j.TenantID)
//	    // run the job
//	}
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit bounds one job type.
type Limit struct {
	Type string

	// MaxConcurrency caps simultaneous jobs of Type. Zero means no cap.
	MaxConcurrency int

	// Rate is the sustained starts per second. Zero disables rate limiting.
	Rate float64

	// Burst is the token bucket size. Defaults to 1 when Rate is set.
	Burst int
}

// TenantLimit bounds one tenant's jobs of one type.
type TenantLimit struct {
	Type           string
	TenantID       string
	MaxConcurrency int
	Rate           float64
	Burst          int
}

type gate struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newGate(maxConcurrency int, r float64, burst int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if r > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
	return g
}

func (g *gate) full() bool {
	return g != nil && g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

func (g *gate) allow() bool {
	return g == nil || g.limiter == nil || g.limiter.Allow()
}

type tenantKey struct {
	jobType  string
	tenantID string
}

// Throttle is safe for concurrent use.
type Throttle struct {
	mu      sync.Mutex
	types   map[string]*gate
	tenants map[tenantKey]*gate
}

// New creates a Throttle with the given type limits.
func New(limits ...Limit) *Throttle {
	t := &Throttle{
		types:   make(map[string]*gate, len(limits)),
		tenants: make(map[tenantKey]*gate),
	}
	for _, l := range limits {
		t.types[l.Type] = newGate(l.MaxConcurrency, l.Rate, l.Burst)
	}
	return t
}

// Acquire reports whether a job of jobType for tenantID may start now and,
// if so, takes a slot. The caller must Release the slot when the job ends.
// Concurrency caps are checked before rate tokens are spent.
func (t *Throttle) Acquire(jobType, tenantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tg := t.types[jobType]
	var ng *gate
	if tenantID != "" {
		ng = t.tenants[tenantKey{jobType, tenantID}]
	}
	if tg.full() || ng.full() {
		return false
	}
	if !tg.allow() || !ng.allow() {
		return false
	}
	if tg != nil {
		tg.active++
	}
	if ng != nil {
		ng.active++
	}
	return true
}

// Release frees a slot taken by Acquire.
func (t *Throttle) Release(jobType, tenantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if g := t.types[jobType]; g != nil && g.active > 0 {
		g.active--
	}
	if tenantID != "" {
		if g := t.tenants[tenantKey{jobType, tenantID}]; g != nil && g.active > 0 {
			g.active--
		}
	}
}

// SetLimit installs or replaces a type limit, keeping its active count.
func (t *Throttle) SetLimit(l Limit) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g := newGate(l.MaxConcurrency, l.Rate, l.Burst)
	if old := t.types[l.Type]; old != nil {
		g.active = old.active
	}
	t.types[l.Type] = g
}

// SetTenantLimit installs or replaces a tenant limit, keeping its active
// count.
func (t *Throttle) SetTenantLimit(l TenantLimit) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := tenantKey{l.Type, l.TenantID}
	g := newGate(l.MaxConcurrency, l.Rate, l.Burst)
	if old := t.tenants[key]; old != nil {
		g.active = old.active
	}
	t.tenants[key] = g
}

// Active returns the running count for a limited type.
func (t *Throttle) Active(jobType string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g := t.types[jobType]; g != nil {
		return g.active
	}
	return 0
}

// TenantActive returns the running count for a limited type and tenant.
func (t *Throttle) TenantActive(jobType, tenantID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g := t.tenants[tenantKey{jobType, tenantID}]; g != nil {
		return g.active
	}
	return 0
}
