// Command mock-evaluator serves a simulated evaluation API for local runs.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/evalstream/internal/domain/scoring"
	"github.com/okian/evalstream/internal/mockapi"
	"github.com/okian/evalstream/pkg/logger"
)

// Server timeout constants.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func main() {
	var (
		addr       = flag.String("addr", ":8000", "Listen address")
		batchSize  = flag.Int("batch", 10, "Results per batch_complete event")
		interval   = flag.Duration("interval", 500*time.Millisecond, "Pause between batches")
		heartbeat  = flag.Duration("heartbeat", 15*time.Second, "Heartbeat interval while waiting (0 disables)")
		dropAfter  = flag.Int("drop-after", 0, "Drop the first connection of each job after N batches (0 disables)")
		failAfter  = flag.Int("fail-after", 0, "Fail each job after N batches (0 disables)")
		minLatency = flag.Duration("min-latency", 20*time.Millisecond, "Minimum simulated scoring latency per item")
		maxLatency = flag.Duration("max-latency", 60*time.Millisecond, "Maximum simulated scoring latency per item")
		seed       = flag.Int64("seed", 42, "Scorer random seed")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Get().Named("mock-evaluator")
	if err := logger.SetLevelString(*logLevel); err != nil {
		log.Fatal(ctx, "invalid log level", logger.Error(err))
	}

	scorer := scoring.NewInMemoryScorer(
		scoring.WithLatencyRange(*minLatency, *maxLatency),
		scoring.WithSeed(*seed),
	)
	srv := mockapi.New(
		mockapi.WithScorer(scorer),
		mockapi.WithBatchSize(*batchSize),
		mockapi.WithBatchInterval(*interval),
		mockapi.WithHeartbeat(*heartbeat),
		mockapi.WithDropAfter(*dropAfter),
		mockapi.WithFailAfter(*failAfter),
	)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "mock evaluator listening",
			logger.String("addr", *addr),
			logger.Int("batch", *batchSize),
			logger.Duration("interval", *interval))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(ctx, "server failed", logger.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "shutdown failed", logger.Error(err))
	}
}
