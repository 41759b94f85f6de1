package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNoFile      = errors.New("no csv file in request")
	ErrBadPageArgs = errors.New("offset and limit must be non-negative integers")
)
