package entity_test

import (
	"errors"
	"testing"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
)

func TestParseState(t *testing.T) {
	for _, s := range entity.States {
		got, err := entity.ParseState(string(s))
		if err != nil || got != s {
			t.Errorf("ParseState(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := entity.ParseState("limbo"); !errors.Is(err, strata.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestPatch_Apply(t *testing.T) {
	now := time.Now().UTC()
	e := &entity.Entity{
		ID:       "n1",
		State:    entity.StateCapture,
		Links:    []string{"a"},
		Metadata: map[string]any{"keep": 1, "drop": 2},
	}

	entity.Patch{
		State:    entity.Ptr(entity.StateTransitional),
		Summary:  entity.Ptr("short"),
		AddLinks: []string{"a", "b"},
		Metadata: map[string]any{"drop": nil, "new": "x"},
	}.Apply(e, now)

	if e.State != entity.StateTransitional || e.Summary != "short" {
		t.Errorf("state/summary = %s/%q", e.State, e.Summary)
	}
	if len(e.Links) != 2 {
		t.Errorf("links = %v, want [a b]", e.Links)
	}
	if _, ok := e.Metadata["drop"]; ok {
		t.Error("nil metadata value should delete the key")
	}
	if e.Metadata["keep"] != 1 || e.Metadata["new"] != "x" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if !e.UpdatedAt.Equal(now) {
		t.Error("UpdatedAt not stamped")
	}
}

func TestFilter_Match(t *testing.T) {
	now := time.Now()
	e := &entity.Entity{
		TenantID:  "t1",
		Type:      "daily-note",
		Title:     "Monday",
		State:     entity.StateCapture,
		CreatedAt: now.Add(-49 * time.Hour),
	}

	tests := []struct {
		name string
		f    entity.Filter
		want bool
	}{
		{"empty", entity.Filter{}, true},
		{"tenant", entity.Filter{TenantID: "t1"}, true},
		{"other tenant", entity.Filter{TenantID: "t2"}, false},
		{"type", entity.Filter{Type: "person"}, false},
		{"title", entity.Filter{Title: "Monday"}, true},
		{"states", entity.Filter{States: []entity.State{entity.StatePermanent}}, false},
		{"old enough", entity.Filter{CreatedBefore: now.Add(-48 * time.Hour)}, true},
		{"too young", entity.Filter{CreatedBefore: now.Add(-50 * time.Hour)}, false},
	}
	for _, tt := range tests {
		if got := tt.f.Match(e); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEntity_MetaTime(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := &entity.Entity{Metadata: map[string]any{
		"s": ts.Format(time.RFC3339Nano),
		"t": ts,
		"n": 42,
	}}
	for _, key := range []string{"s", "t"} {
		got, ok := e.MetaTime(key)
		if !ok || !got.Equal(ts) {
			t.Errorf("MetaTime(%q) = %v, %v", key, got, ok)
		}
	}
	if _, ok := e.MetaTime("n"); ok {
		t.Error("non-time value should not parse")
	}
}
