package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("row not found")
	ErrInvalidLimit  = errors.New("invalid window limit")
	ErrInvalidOffset = errors.New("invalid window offset")
	ErrEmptyID       = errors.New("row has an empty identifier")
)
