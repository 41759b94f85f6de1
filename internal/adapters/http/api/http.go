// Package api serves the operator HTTP API: CSV upload, job control, session
// and reliability reads, export and settings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/okian/evalstream/internal/adapters/repository"
	"github.com/okian/evalstream/internal/domain/failure"
	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/reliability"
	"github.com/okian/evalstream/internal/domain/types"
	"github.com/okian/evalstream/pkg/logger"
)

const (
	defaultPageSize    = 100
	defaultMaxPageSize = 1000
	maxUploadBytes     = 32 << 20
	corsMaxAge         = 300
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LoadRows(ctx context.Context, rows []model.OriginalRow) (repository.LoadStats, error)
	Start(ctx context.Context, rows []model.OriginalRow, endpoint string) (string, error)
	Stop()
	Reconnect() error
	Session() model.Session

	Window(ctx context.Context, offset, limit int) ([]model.MergedRow, int, error)
	Lookup(ctx context.Context, id string) (model.MergedRow, error)
	Merged(ctx context.Context) []model.MergedRow
	Unmatched(ctx context.Context) []model.ModelResult
	Metrics(ctx context.Context) reliability.Metrics
}

// SettingsStore reads and persists user settings.
type SettingsStore interface {
	Get() types.Settings
	Set(ctx context.Context, next types.Settings) (types.Settings, error)
	Separator() rune
}

// Option configures a Server.
type Option func(*Server)

// WithMaxPageSize caps GET /api/v1/rows?limit.
func WithMaxPageSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxPageSize = n
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

// Server wires HTTP routes for the operator API.
type Server struct {
	deps        Dependencies
	settings    SettingsStore
	maxPageSize int
	logger      logger.Logger

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, settings SettingsStore, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		settings:      settings,
		maxPageSize:   defaultMaxPageSize,
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	return s
}

// NewRouter builds a chi router with the common middleware stack and CORS
// for origins.
func NewRouter(origins []string) chi.Router {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         corsMaxAge,
	}))
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/rows", MetricsMiddleware(s.handleUploadRows, "rows_upload"))
		api.Get("/rows", MetricsMiddleware(s.handleListRows, "rows_list"))
		api.Get("/rows/{id}", MetricsMiddleware(s.handleGetRow, "rows_get"))

		api.Post("/jobs", MetricsMiddleware(s.handleStartJob, "jobs_start"))
		api.Delete("/jobs/current", MetricsMiddleware(s.handleStopJob, "jobs_stop"))
		api.Post("/jobs/current/reconnect", MetricsMiddleware(s.handleReconnect, "jobs_reconnect"))
		api.Get("/session", MetricsMiddleware(s.handleSession, "session"))

		api.Get("/reliability", MetricsMiddleware(s.handleReliability, "reliability"))
		api.Get("/export", MetricsMiddleware(s.handleExport, "export"))

		api.Get("/settings", MetricsMiddleware(s.handleGetSettings, "settings_get"))
		api.Put("/settings", MetricsMiddleware(s.handlePutSettings, "settings_put"))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody(status, code, err))
}

func errorBody(status int, code string, err error) types.ErrorBody {
	body := types.ErrorBody{Code: code, Message: http.StatusText(status)}
	if err != nil {
		body.Message = err.Error()
		var fe *failure.Error
		if errors.As(err, &fe) {
			body.Kind = string(fe.Kind)
			body.Recommendation = failure.Recommendation(fe.Kind)
		}
	}
	return body
}

// writeFailure maps a classified error onto a status code.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

func statusFor(err error) (int, string) {
	switch failure.KindOf(err) {
	case failure.KindValidation:
		return http.StatusBadRequest, "invalid_request"
	case failure.KindNotFound:
		return http.StatusNotFound, "not_found"
	case failure.KindConflict:
		return http.StatusConflict, "conflict"
	case failure.KindTimeout:
		return http.StatusGatewayTimeout, "upstream_timeout"
	case failure.KindTransport, failure.KindJob:
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func requestTime() string { return time.Now().UTC().Format("20060102-150405") }
