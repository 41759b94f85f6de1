package mockapi

import (
	"time"

	"github.com/okian/evalstream/pkg/logger"
)

// Default server configuration constants.
const (
	defaultBatchSize     = 10
	defaultBatchInterval = 500 * time.Millisecond
	defaultMaxJobs       = 64
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithScorer replaces the default simulated scorer.
func WithScorer(sc Scorer) Option {
	return func(s *Server) {
		if sc != nil {
			s.scorer = sc
		}
	}
}

// WithBatchSize sets how many results each batch_complete event carries.
func WithBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchInterval sets the pacing between batches. Zero streams as fast as
// the scorer allows.
func WithBatchInterval(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.batchInterval = d
		}
	}
}

// WithHeartbeat emits a comment line whenever the stream waits this long.
// Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.heartbeat = d
		}
	}
}

// WithDropAfter closes the first connection of every job after n batches,
// forcing the client to resume with Last-Event-ID.
func WithDropAfter(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.dropAfter = n
		}
	}
}

// WithFailAfter ends every job with an error event after n batches.
func WithFailAfter(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.failAfter = n
		}
	}
}

// WithMaxJobs bounds how many jobs are retained; the oldest is evicted first.
func WithMaxJobs(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxJobs = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
