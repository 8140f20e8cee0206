package interfaces

import "errors"

var (
	// ErrNotFound is returned when no document matches the given id.
	ErrNotFound = errors.New("document not found")

	// ErrNoMatch is returned by guarded updates when the document exists but
	// the guard condition no longer holds (lost race, stale status).
	ErrNoMatch = errors.New("guard condition not met")

	// ErrDuplicateActive is returned when a write would give an actor a
	// second non-terminal request.
	ErrDuplicateActive = errors.New("actor already has an active request")
)
