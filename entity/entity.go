// Package entity defines lifecycle-bearing knowledge records and the
// repository contract strata consumes to read and update them.
//
// The repository owns entity lifetime. strata reads entities, and writes
// only the lifecycle state, links and metadata it governs.
package entity

import (
	"fmt"
	"time"

	"github.com/secondbrain/strata"
)

// State is an entity's lifecycle maturity.
type State string

const (
	StateCapture      State = "capture"
	StateTransitional State = "transitional"
	StatePermanent    State = "permanent"
	StateArchived     State = "archived"
)

// States lists every lifecycle state in maturity order.
var States = []State{StateCapture, StateTransitional, StatePermanent, StateArchived}

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", strata.ErrInvalidState, s)
}

// Entity is a typed knowledge record with a lifecycle.
type Entity struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	TenantID        string         `json:"tenant_id,omitempty"`
	Title           string         `json:"title"`
	Content         string         `json:"content,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	State           State          `json:"state"`
	PreventDissolve bool           `json:"prevent_dissolve,omitempty"`
	Links           []string       `json:"links,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Age returns how long ago the entity was created, relative to now.
func (e *Entity) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// MetaString returns a string metadata value, or "".
func (e *Entity) MetaString(key string) string {
	s, _ := e.Metadata[key].(string)
	return s
}

// MetaTime parses an RFC 3339 metadata value.
func (e *Entity) MetaTime(key string) (time.Time, bool) {
	switch v := e.Metadata[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// Clone returns a copy safe to hand out of a repository.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Links != nil {
		cp.Links = append([]string(nil), e.Links...)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Patch is a partial update. Nil fields are left unchanged. Metadata is
// merged key by key; a nil value deletes the key. AddLinks appends links
// not already present.
type Patch struct {
	Title           *string
	Content         *string
	Summary         *string
	State           *State
	PreventDissolve *bool
	AddLinks        []string
	Metadata        map[string]any
}

// Apply mutates e according to p and stamps UpdatedAt with now.
func (p Patch) Apply(e *Entity, now time.Time) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.Summary != nil {
		e.Summary = *p.Summary
	}
	if p.State != nil {
		e.State = *p.State
	}
	if p.PreventDissolve != nil {
		e.PreventDissolve = *p.PreventDissolve
	}
	for _, l := range p.AddLinks {
		if !contains(e.Links, l) {
			e.Links = append(e.Links, l)
		}
	}
	if len(p.Metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			if v == nil {
				delete(e.Metadata, k)
				continue
			}
			e.Metadata[k] = v
		}
	}
	e.UpdatedAt = now
}

// Filter selects entities in Query. Zero fields do not filter.
type Filter struct {
	TenantID string
	Type     string
	Title    string
	States   []State

	// CreatedBefore keeps entities created at or before this instant.
	CreatedBefore time.Time

	Limit int
}

// Match reports whether e passes the filter, ignoring Limit.
func (f Filter) Match(e *Entity) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Title != "" && e.Title != f.Title {
		return false
	}
	if len(f.States) > 0 && !contains(f.States, e.State) {
		return false
	}
	if !f.CreatedBefore.IsZero() && e.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }
