package backend

import "errors"

var (
	// ErrNotFound is returned by Get/Update/Touch for an unknown ID.
	ErrNotFound = errors.New("backend: record not found")

	// ErrDuplicateID is returned by Insert when a record with the same
	// ID already exists.
	ErrDuplicateID = errors.New("backend: duplicate record id")
)
