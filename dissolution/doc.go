// Package dissolution folds aged daily notes into the records they mention
// and archives the source.
//
// A Workflow extracts candidates from a note, merges each into an existing
// record or creates a permanent one, stamps provenance on every touched
// record, and finally archives the note through the lifecycle machine.
// Notes can be excluded with PreventDissolution, deferred with
// PostponeDissolution and re-admitted with AllowDissolution.
package dissolution
