package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/evalstream/internal/adapters/evalapi"
	"github.com/okian/evalstream/internal/adapters/http/api"
	"github.com/okian/evalstream/internal/adapters/http/swagger"
	"github.com/okian/evalstream/internal/adapters/repository"
	"github.com/okian/evalstream/internal/adapters/settings"
	app "github.com/okian/evalstream/internal/app"
	"github.com/okian/evalstream/internal/config"
	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/types"
	"github.com/okian/evalstream/pkg/logger"
	"github.com/okian/evalstream/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 30 * time.Second
	writeTimeout              = 60 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	handler, svc, err := newHandler(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("endpoint", cfg.EndpointURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	loggerInstance.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(ctx, "server stopped")
}

// newHandler wires settings, the engine service and the HTTP routes.
func newHandler(ctx context.Context, cfg *config.Config) (http.Handler, *app.Service, error) {
	store, err := settings.Open(ctx, cfg.SettingsPath, types.Settings{
		EndpointURL: cfg.EndpointURL,
		Separator:   cfg.Separator,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open settings: %w", err)
	}

	log := logger.Get()
	rows := repository.NewReconcileStore(
		repository.WithMaxWindow(cfg.MaxPageSize),
		repository.WithLogger(log.Named("store")),
	)
	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(rows),
		app.WithStreamConfig(cfg.StreamConfig()),
		app.WithRateWindow(cfg.RateWindow),
		app.WithBackendFactory(app.HTTPBackends(evalapi.WithSubmitTimeout(cfg.SubmitTimeout()))),
		app.WithOnComplete(func(s model.Session) {
			log.Info(context.Background(), "evaluation finished",
				logger.String("job", s.LastJobID),
				logger.Int("completed", s.Progress.Completed))
		}),
	)

	router := api.NewRouter(cfg.Origins())
	swagger.Register(ctx, router)
	api.NewServer(svc, store, svc, api.WithMaxPageSize(cfg.MaxPageSize)).Register(ctx, router)
	return router, svc, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the session gauges between stream events.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if rows, ok := stats["rows"].(int); ok {
		metrics.UpdateRowsLoaded(rows)
	}

	pct, _ := stats["percentage"].(int)
	rate, _ := stats["rate"].(float64)
	eta := -1.0
	if v, ok := stats["remainingSeconds"].(float64); ok {
		eta = v
	}
	metrics.UpdateProgress(pct, rate, eta)
}
