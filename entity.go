package strata

import "time"

// Timestamps carries the creation and modification times embedded in every
// persisted record.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTimestamps returns Timestamps stamped with the current UTC time.
func NewTimestamps() Timestamps {
	now := time.Now().UTC()
	return Timestamps{CreatedAt: now, UpdatedAt: now}
}

// Touch advances UpdatedAt to the current UTC time.
func (t *Timestamps) Touch() {
	t.UpdatedAt = time.Now().UTC()
}
