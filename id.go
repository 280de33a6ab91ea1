package strata

import "github.com/secondbrain/strata/id"

// ID is the primary identifier type for generated strata records.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
