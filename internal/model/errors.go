package model

import "github.com/rotisserie/eris"

// Sentinel errors for the pipeline's failure kinds. Callers match them
// with errors.Is after eris wrapping.
var (
	// ErrValidation marks a malformed raw record rejected at ingestion.
	ErrValidation = eris.New("validation failed")

	// ErrDuplicateConflict marks an ambiguous dedup match that was
	// resolved by the conservative tie-break instead of a merge.
	ErrDuplicateConflict = eris.New("ambiguous duplicate match")

	// ErrStageFailure marks a downstream collaborator failure report.
	ErrStageFailure = eris.New("stage failed")

	// ErrTransitionConflict marks a lifecycle transition attempted from a
	// status that does not permit it. Treated as a logged no-op.
	ErrTransitionConflict = eris.New("transition not permitted")

	// ErrNotFound marks a lookup for a business that does not exist.
	ErrNotFound = eris.New("business not found")
)
