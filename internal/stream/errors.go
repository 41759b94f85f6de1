package stream

import "errors"

// Sentinel errors surfaced by the Client.
var (
	ErrInvalidConfig      = errors.New("invalid stream config")
	ErrNoJob              = errors.New("job id is required")
	ErrNotStarted         = errors.New("stream has not been started")
	ErrAlreadyConnected   = errors.New("stream already active")
	ErrAlreadyComplete    = errors.New("job already complete")
	ErrConnectTimeout     = errors.New("timed out waiting for the stream to open")
	ErrReconnectExhausted = errors.New("could not reconnect to the stream")
	ErrInactive           = errors.New("no stream activity")
	ErrStreamEnded        = errors.New("stream ended unexpectedly")
	ErrJobFailed          = errors.New("evaluation job failed")
)
