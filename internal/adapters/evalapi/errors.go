package evalapi

import "errors"

// Sentinel errors for evaluation API calls.
var (
	ErrInvalidEndpoint   = errors.New("invalid evaluation endpoint")
	ErrNoItems           = errors.New("no items to evaluate")
	ErrUnexpectedStatus  = errors.New("unexpected status from evaluation api")
	ErrMalformedResponse = errors.New("malformed job response")
	ErrMissingJobID      = errors.New("job response has no jobId")
	ErrNotEventStream    = errors.New("response is not an event stream")
)
