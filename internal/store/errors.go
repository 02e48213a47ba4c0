package store

import "errors"

var (
	// ErrConflict is returned when a conditional write loses a race:
	// a slot claim against a non-available slot, or a status transition
	// whose expected current state no longer holds.
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)
