package lifecycle

import (
	"time"

	"github.com/secondbrain/strata/entity"
)

// Trigger names what causes a transition.
type Trigger string

const (
	TriggerTime           Trigger = "time"
	TriggerEntityAssigned Trigger = "entity_assigned"
	TriggerManual         Trigger = "manual"
)

// ConditionType names a guard predicate.
type ConditionType string

const (
	// ConditionAge holds when the entity is at least Condition.MinAge old.
	ConditionAge ConditionType = "age_hours"
	// ConditionHasPrimaryEntity holds when the entity links to another.
	ConditionHasPrimaryEntity ConditionType = "has_primary_entity"
	// ConditionHasSummary holds when the entity has a summary.
	ConditionHasSummary ConditionType = "has_summary"
	// ConditionManualOverride always holds.
	ConditionManualOverride ConditionType = "manual_override"
)

// Condition guards a transition.
type Condition struct {
	Type   ConditionType `json:"type"`
	MinAge time.Duration `json:"min_age,omitempty"`
}

// ActionType names a side effect run during a transition.
type ActionType string

const (
	ActionSummarize      ActionType = "summarize"
	ActionNotify         ActionType = "notify"
	ActionFile           ActionType = "file"
	ActionUpdateMetadata ActionType = "update_metadata"
)

// Action is a side effect. Params are action-specific: notify reads
// "message"; update_metadata writes every param into entity metadata,
// with the value "now" replaced by the current time.
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Transition is a declared, conditioned, action-bearing edge.
type Transition struct {
	From       entity.State `json:"from"`
	To         entity.State `json:"to"`
	Trigger    Trigger      `json:"trigger"`
	Conditions []Condition  `json:"conditions,omitempty"`
	Actions    []Action     `json:"actions,omitempty"`
}

// MinAge returns the age condition of a time-triggered transition.
func (t Transition) MinAge() (time.Duration, bool) {
	for _, c := range t.Conditions {
		if c.Type == ConditionAge {
			return c.MinAge, true
		}
	}
	return 0, false
}

// DefaultTransitions returns the standard lifecycle with captureAge as the
// capture→transitional threshold.
func DefaultTransitions(captureAge time.Duration) []Transition {
	return []Transition{
		{
			From:       entity.StateCapture,
			To:         entity.StateTransitional,
			Trigger:    TriggerTime,
			Conditions: []Condition{{Type: ConditionAge, MinAge: captureAge}},
			Actions: []Action{
				{Type: ActionSummarize},
				{Type: ActionNotify, Params: map[string]any{"message": "Note ready for filing"}},
			},
		},
		{
			From:       entity.StateTransitional,
			To:         entity.StatePermanent,
			Trigger:    TriggerEntityAssigned,
			Conditions: []Condition{{Type: ConditionHasPrimaryEntity}},
			Actions: []Action{
				{Type: ActionFile},
				{Type: ActionUpdateMetadata, Params: map[string]any{"filed_at": "now"}},
			},
		},
		{From: entity.StateCapture, To: entity.StateArchived, Trigger: TriggerManual},
		{From: entity.StateTransitional, To: entity.StateArchived, Trigger: TriggerManual},
		{From: entity.StatePermanent, To: entity.StateArchived, Trigger: TriggerManual},
	}
}
