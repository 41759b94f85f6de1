package service

import (
	"github.com/okian/evalstream/internal/adapters/repository"
	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/stream"
	"github.com/okian/evalstream/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the reconciliation store. Defaults to an in-memory
// ReconcileStore.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithBackendFactory sets how an evaluation backend is built per job.
func WithBackendFactory(f BackendFactory) Option {
	return func(s *Service) {
		if f != nil {
			s.newBackend = f
		}
	}
}

// WithStreamConfig sets the stream timing template. BaseURL is replaced by
// the job's endpoint.
func WithStreamConfig(cfg stream.Config) Option {
	return func(s *Service) {
		s.streamCfg = cfg
	}
}

// WithRateWindow sets how many progress samples feed the rate estimate.
func WithRateWindow(n int) Option {
	return func(s *Service) {
		if n >= 2 {
			s.rateWindow = n
		}
	}
}

// WithOnComplete registers a callback invoked once per finished job. It runs
// on its own goroutine.
func WithOnComplete(fn func(model.Session)) Option {
	return func(s *Service) {
		s.onComplete = fn
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
