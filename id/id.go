// Package id defines TypeID-based identifiers for the records strata
// generates.
//
// Identifiers carry a prefix naming the record kind and a UUIDv7 suffix, so
// they sort by creation time and render as "prefix_suffix". Entity ids
// handed in by an external repository are plain strings and never pass
// through this package.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the record kind encoded in an ID.
type Prefix string

const (
	PrefixJob         Prefix = "job"
	PrefixEntity      Prefix = "ent"
	PrefixTransition  Prefix = "trn"
	PrefixDissolution Prefix = "dsv"
	PrefixSweep       Prefix = "swp"
)

// ID wraps a TypeID. The zero value is Nil and encodes as "" or NULL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// JobID identifies a job.
type JobID = ID

// Nil is the zero ID.
var Nil ID

// New generates an ID. An invalid prefix is a programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID { return New(PrefixJob) }
func NewEntityID() ID { return New(PrefixEntity) }
func NewTransitionID() ID { return New(PrefixTransition) }
func NewDissolutionID() ID { return New(PrefixDissolution) }
func NewSweepID() ID { return New(PrefixSweep) }

// Parse decodes "prefix_suffix". With a non-empty want the prefix must
// match it.
func Parse(s string, want ...Prefix) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	got := ID{tid: tid, set: true}
	if len(want) > 0 && got.Prefix() != want[0] {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got.Prefix(), want[0])
	}
	return got, nil
}

// ParseJobID parses s and requires the job prefix.
func ParseJobID(s string) (ID, error) { return Parse(s, PrefixJob) }

// ──────────────────────────────────────────────────
// Encoding
// ──────────────────────────────────────────────────

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value stores Nil as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	}
	return fmt.Errorf("id: cannot scan %T", src)
}
