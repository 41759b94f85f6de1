package repository

import "github.com/okian/evalstream/pkg/logger"

// Default window bound.
const defaultMaxWindow = 1000

// Option applies a configuration option to the ReconcileStore.
type Option func(*ReconcileStore)

// WithMaxWindow caps the limit accepted by Window.
func WithMaxWindow(n int) Option {
	return func(s *ReconcileStore) {
		if n > 0 {
			s.maxWindow = n
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *ReconcileStore) {
		if l != nil {
			s.logger = l
		}
	}
}
