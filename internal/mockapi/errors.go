package mockapi

import "errors"

var (
	// ErrNoItems is returned when a job is submitted without items.
	ErrNoItems = errors.New("no items to evaluate")
	// ErrUnknownJob is returned when a stream is requested for a job that does not exist.
	ErrUnknownJob = errors.New("unknown job")
	// ErrStreamingUnsupported is returned when the response writer cannot flush.
	ErrStreamingUnsupported = errors.New("streaming unsupported")
)
