package store

import "errors"

// Predefined errors for the store layer.
var (
	// ErrInvalidEntry indicates a monitoring entry or job is missing required fields.
	ErrInvalidEntry = errors.New("invalid entry")
)
