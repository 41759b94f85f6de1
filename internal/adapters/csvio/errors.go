package csvio

import "errors"

// Sentinel errors for CSV ingestion.
var (
	ErrEmptyFile      = errors.New("csv file is empty")
	ErrMissingColumn  = errors.New("required column missing")
	ErrNoScoreColumns = errors.New("no human score columns")
	ErrInvalidRows    = errors.New("csv contains invalid rows")
	ErrBadSeparator   = errors.New("separator must be a single character")
)
