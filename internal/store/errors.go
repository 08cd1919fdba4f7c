package store

import "errors"

var (
	// ErrNotFound is returned when a referenced box, membership, alert or
	// intervention does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateOutcome is returned when an outcome already exists for an
	// intervention. Callers treat it as "already measured", not a failure.
	ErrDuplicateOutcome = errors.New("outcome already measured for intervention")

	// ErrDuplicateActiveAlert is returned when a second active alert for the
	// same (membership, type) pair would violate the unique constraint.
	// The generator resolves it by falling into the update path.
	ErrDuplicateActiveAlert = errors.New("active alert already exists for membership and type")
)
