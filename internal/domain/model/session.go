package model

import "time"

// ErrorInfo is the user-facing shape of the last surfaced failure.
type ErrorInfo struct {
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation,omitempty"`
	Terminal       bool      `json:"terminal"`
	At             time.Time `json:"at"`
}

// Session is the processing session snapshot exposed to callers.
type Session struct {
	// JobID is set only while a job is active.
	JobID     string   `json:"jobId,omitempty"`
	LastJobID string   `json:"lastJobId,omitempty"`
	Active    bool     `json:"active"`
	Progress  Progress `json:"progress"`
	// RemainingSeconds is nil until enough samples exist to estimate it.
	RemainingSeconds *float64 `json:"remainingSeconds"`
	// Rate is items per second over the sample window.
	Rate       float64    `json:"rate"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	Connection string     `json:"connection"`
	Reconnects int        `json:"reconnects"`
	LastError  *ErrorInfo `json:"lastError,omitempty"`
}
