package service

import "errors"

// Sentinel errors returned by the Service.
var (
	ErrNoRows      = errors.New("no rows loaded")
	ErrNoEndpoint  = errors.New("evaluation endpoint is required")
	ErrJobActive   = errors.New("a job is already running")
	ErrNoJob       = errors.New("no job to reconnect")
	ErrJobComplete = errors.New("job already completed")
)
