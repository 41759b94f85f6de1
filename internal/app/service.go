// Package service binds job submission, the result stream and the
// reconciliation store into one processing session.
package service

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/okian/evalstream/internal/adapters/evalapi"
	"github.com/okian/evalstream/internal/adapters/repository"
	"github.com/okian/evalstream/internal/domain/failure"
	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/reliability"
	"github.com/okian/evalstream/internal/domain/throughput"
	"github.com/okian/evalstream/internal/stream"
	"github.com/okian/evalstream/pkg/logger"
	"github.com/okian/evalstream/pkg/metrics"
)

// Backend is one evaluation API instance: it accepts jobs and streams their
// results.
type Backend interface {
	SubmitJob(ctx context.Context, items []model.JobItem) (string, error)
	Transport() stream.Transport
}

// BackendFactory builds a fresh Backend for an endpoint.
type BackendFactory func(endpoint string) (Backend, error)

// HTTPBackends builds evalapi clients.
func HTTPBackends(opts ...evalapi.Option) BackendFactory {
	return func(endpoint string) (Backend, error) {
		c, err := evalapi.NewClient(endpoint, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Service owns the processing session. It is safe for concurrent use.
type Service struct {
	mu sync.RWMutex

	store      repository.Store
	newBackend BackendFactory
	streamCfg  stream.Config
	rateWindow int
	estimator  *throughput.Estimator
	onComplete func(model.Session)
	logger     logger.Logger

	// token identifies the current job; callbacks from older jobs are dropped.
	token     uint64
	client    *stream.Client
	starting  bool
	active    bool
	completed bool
	jobID     string
	lastJobID string
	endpoint  string
	progress  model.Progress
	rate      float64
	remaining *time.Duration
	startedAt *time.Time
	lastErr   *model.ErrorInfo
}

// New constructs a Service. Without options it uses an in-memory store and
// HTTP backends with the interactive stream defaults.
func New(opts ...Option) *Service {
	s := &Service{
		rateWindow: throughput.DefaultWindow,
		streamCfg:  stream.DefaultConfig(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewReconcileStore()
	}
	if s.newBackend == nil {
		s.newBackend = HTTPBackends()
	}
	s.estimator = throughput.New(throughput.WithWindow(s.rateWindow))
	return s
}

// Store exposes the reconciliation store for read access.
func (s *Service) Store() repository.Store { return s.store }

// LoadRows replaces the uploaded rows. It is rejected while a job runs.
func (s *Service) LoadRows(ctx context.Context, rows []model.OriginalRow) (repository.LoadStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || s.starting {
		return repository.LoadStats{}, failure.New("service.load", failure.KindConflict, ErrJobActive)
	}
	stats, err := s.store.LoadOriginalRows(ctx, rows)
	if err != nil {
		return stats, failure.New("service.load", failure.KindValidation, err)
	}
	s.progress = model.NewProgress(0, stats.Rows)
	s.publishLocked()
	return stats, nil
}

// Start submits rows to endpoint and opens the result stream. A nil rows
// slice evaluates the rows already loaded. On failure the session stays
// inactive and the stored rows are untouched.
func (s *Service) Start(ctx context.Context, rows []model.OriginalRow, endpoint string) (string, error) {
	const op = "service.start"

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", failure.New(op, failure.KindValidation, ErrNoEndpoint)
	}

	s.mu.Lock()
	if s.active || s.starting {
		s.mu.Unlock()
		return "", failure.New(op, failure.KindConflict, ErrJobActive)
	}
	if rows == nil {
		rows = s.store.Rows(ctx)
	}
	if len(rows) == 0 {
		s.mu.Unlock()
		return "", failure.New(op, failure.KindValidation, ErrNoRows)
	}
	s.starting = true
	s.token++
	token := s.token
	previous := s.client
	s.client = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Disconnect()
	}

	jobID, client, err := s.submit(ctx, rows, endpoint, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false

	if err == nil && token != s.token {
		err = failure.New(op, failure.KindConflict, errors.New("job was stopped while starting"))
	}
	if err != nil {
		metrics.RecordJobFailed(string(failure.KindOf(err)))
		s.lastErr = errorInfo(err)
		s.logger.Error(ctx, "job start failed", logger.String("endpoint", endpoint), logger.Error(err))
		return "", err
	}

	if _, err := s.store.LoadOriginalRows(ctx, rows); err != nil {
		return "", failure.New(op, failure.KindValidation, err)
	}

	now := time.Now()
	s.client = client
	s.active = true
	s.completed = false
	s.jobID = jobID
	s.lastJobID = jobID
	s.endpoint = endpoint
	s.progress = model.NewProgress(0, len(rows))
	s.rate = 0
	s.remaining = nil
	s.startedAt = &now
	s.lastErr = nil
	s.estimator.Start()
	s.publishLocked()

	if err := client.Connect(jobID); err != nil {
		s.active = false
		s.lastErr = errorInfo(err)
		return "", failure.New(op, failure.KindTransport, err)
	}

	metrics.RecordJobSubmitted()
	s.logger.Info(ctx, "job started",
		logger.String("job", jobID),
		logger.String("endpoint", endpoint),
		logger.Int("items", len(rows)),
	)
	return jobID, nil
}

// submit builds a backend for endpoint, creates the job and prepares its
// stream client.
func (s *Service) submit(ctx context.Context, rows []model.OriginalRow, endpoint string, token uint64) (string, *stream.Client, error) {
	const op = "service.start"

	backend, err := s.newBackend(endpoint)
	if err != nil {
		return "", nil, err
	}

	cfg := s.streamCfg
	cfg.BaseURL = endpoint
	client, err := stream.NewClient(cfg, backend.Transport(), &jobHandler{svc: s, token: token},
		stream.WithLogger(s.logger.Named("stream")))
	if err != nil {
		return "", nil, failure.New(op, failure.KindValidation, err)
	}

	jobID, err := backend.SubmitJob(ctx, model.JobItems(rows))
	if err != nil {
		return "", nil, err
	}
	return jobID, client, nil
}

// Stop tears the stream down and clears the job. Merged results are kept.
func (s *Service) Stop() {
	s.mu.Lock()
	client := s.client
	wasActive := s.active
	s.client = nil
	s.token++
	s.active = false
	s.jobID = ""
	s.progress = model.Progress{}
	s.rate = 0
	s.remaining = nil
	s.startedAt = nil
	s.estimator.Reset()
	s.publishLocked()
	s.mu.Unlock()

	// Disconnect waits for in-flight callbacks, which take s.mu.
	if client != nil {
		client.Disconnect()
	}
	if wasActive {
		s.logger.Info(context.Background(), "job stopped")
	}
}

// Reconnect resumes the current job's stream after a failure.
func (s *Service) Reconnect() error {
	const op = "service.reconnect"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return failure.New(op, failure.KindNotFound, ErrNoJob)
	}
	if s.completed {
		return failure.New(op, failure.KindConflict, ErrJobComplete)
	}
	if err := s.client.Reconnect(); err != nil {
		kind := failure.KindConflict
		if errors.Is(err, stream.ErrNotStarted) {
			kind = failure.KindNotFound
		}
		return failure.New(op, kind, err)
	}
	s.active = true
	s.jobID = s.lastJobID
	s.lastErr = nil
	s.logger.Info(context.Background(), "job reconnecting", logger.String("job", s.lastJobID))
	return nil
}

// Session returns a snapshot of the processing session.
func (s *Service) Session() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionLocked()
}

func (s *Service) sessionLocked() model.Session {
	sess := model.Session{
		JobID:      s.jobID,
		LastJobID:  s.lastJobID,
		Active:     s.active,
		Progress:   s.progress,
		Rate:       s.rate,
		Connection: stream.StateIdle.String(),
	}
	if s.remaining != nil {
		secs := s.remaining.Seconds()
		sess.RemainingSeconds = &secs
	}
	if s.startedAt != nil {
		t := *s.startedAt
		sess.StartedAt = &t
	}
	if s.lastErr != nil {
		info := *s.lastErr
		sess.LastError = &info
	}
	if s.client != nil {
		st := s.client.Status()
		sess.Connection = st.State.String()
		sess.Reconnects = st.Reconnects
	}
	return sess
}

// Window returns a page of merged rows.
func (s *Service) Window(ctx context.Context, offset, limit int) ([]model.MergedRow, int, error) {
	return s.store.Window(ctx, offset, limit)
}

// Lookup returns the merged row for one uploaded id.
func (s *Service) Lookup(ctx context.Context, id string) (model.MergedRow, error) {
	row, err := s.store.Lookup(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return row, failure.New("service.lookup", failure.KindNotFound, err)
	}
	return row, err
}

// Merged returns every merged row in upload order.
func (s *Service) Merged(ctx context.Context) []model.MergedRow {
	return s.store.MergedView(ctx)
}

// Unmatched returns results that matched no uploaded row.
func (s *Service) Unmatched(ctx context.Context) []model.ModelResult {
	return s.store.Unmatched(ctx)
}

// Metrics returns the reliability metrics for the current merged view.
func (s *Service) Metrics(ctx context.Context) reliability.Metrics {
	return s.store.Metrics(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	sess := s.sessionLocked()
	endpoint := s.endpoint
	client := s.client
	s.mu.RUnlock()

	ctx := context.Background()
	snap := s.store.Snapshot()
	m := snap.Metrics
	stats := map[string]interface{}{
		"active":       sess.Active,
		"jobId":        sess.JobID,
		"lastJobId":    sess.LastJobID,
		"endpoint":     endpoint,
		"connection":   sess.Connection,
		"reconnects":   sess.Reconnects,
		"completed":    sess.Progress.Completed,
		"total":        sess.Progress.Total,
		"percentage":   sess.Progress.Percentage,
		"rate":         sess.Rate,
		"rows":         len(snap.Merged),
		"results":      s.store.ResultCount(ctx),
		"unmatched":    len(snap.Unmatched),
		"version":      snap.Version,
		"validPairs":   m.ValidPairs,
		"reliable":     m.Reliable,
		"goroutines":   runtime.NumGoroutine(),
		"rateWindow":   s.rateWindow,
		"maxReconnect": s.streamCfg.MaxReconnectAttempts,
	}
	if sess.RemainingSeconds != nil {
		stats["remainingSeconds"] = *sess.RemainingSeconds
	}
	if m.ICC != nil {
		stats["icc"] = *m.ICC
	}
	if client != nil {
		st := client.Status()
		stats["inboxDepth"] = st.InboxDepth
		stats["inboxCapacity"] = st.InboxCapacity
		stats["dispatched"] = st.Dispatched
	}

	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	return stats
}

// publishLocked pushes the session gauges.
func (s *Service) publishLocked() {
	eta := -1.0
	if s.remaining != nil {
		eta = s.remaining.Seconds()
	}
	metrics.UpdateProgress(s.progress.Percentage, s.rate, eta)
}

// applyProgressLocked moves progress forward and refreshes the estimate.
func (s *Service) applyProgressLocked(p model.ProgressCount) {
	total := p.Total
	if total <= 0 {
		total = s.progress.Total
	}
	s.progress = model.NewProgress(p.Completed, total)
	est := s.estimator.Observe(s.progress.Completed, s.progress.Total)
	s.rate = est.Rate
	s.remaining = est.Remaining
	s.publishLocked()
}

func errorInfo(err error) *model.ErrorInfo {
	kind := failure.KindOf(err)
	return &model.ErrorInfo{
		Kind:           string(kind),
		Message:        err.Error(),
		Recommendation: failure.Recommendation(kind),
		Terminal:       failure.IsTerminal(kind),
		At:             time.Now(),
	}
}

// jobHandler receives stream callbacks for one job.
type jobHandler struct {
	svc   *Service
	token uint64
}

// lock returns the locked service, or false when the job is stale.
func (h *jobHandler) lock() bool {
	h.svc.mu.Lock()
	if h.token != h.svc.token {
		h.svc.mu.Unlock()
		return false
	}
	return true
}

func (h *jobHandler) OnOpen(ctx context.Context) {
	if !h.lock() {
		return
	}
	defer h.svc.mu.Unlock()
	if h.svc.lastErr != nil && !h.svc.lastErr.Terminal {
		h.svc.lastErr = nil
	}
}

func (h *jobHandler) OnBatch(ctx context.Context, batch model.Batch) {
	if !h.lock() {
		return
	}
	defer h.svc.mu.Unlock()
	s := h.svc

	stats, err := s.store.ApplyResultBatch(ctx, batch.Results)
	if err != nil {
		s.lastErr = errorInfo(failure.New("service.batch", failure.KindParse, err))
		s.logger.Error(ctx, "failed to apply batch", logger.Error(err))
		return
	}
	s.applyProgressLocked(batch.Progress)

	m := s.store.Metrics(ctx)
	mad := 0.0
	if m.MeanAbsDeviation != nil {
		mad = *m.MeanAbsDeviation
	}
	metrics.UpdateReliability(m.ICC, m.ValidPairs, mad)

	if stats.Unmatched > 0 {
		s.logger.Debug(ctx, "batch carried unmatched results", logger.Int("unmatched", stats.Unmatched))
	}
}

func (h *jobHandler) OnProgress(ctx context.Context, p model.ProgressCount) {
	if !h.lock() {
		return
	}
	defer h.svc.mu.Unlock()
	h.svc.applyProgressLocked(p)
}

func (h *jobHandler) OnComplete(ctx context.Context, message string) {
	if !h.lock() {
		return
	}
	s := h.svc

	zero := time.Duration(0)
	s.active = false
	s.completed = true
	s.jobID = ""
	s.remaining = &zero
	s.rate = 0
	s.estimator.Reset()
	if s.progress.Total > 0 {
		s.progress = model.NewProgress(s.progress.Total, s.progress.Total)
	}
	s.publishLocked()
	sess := s.sessionLocked()
	done := s.onComplete
	s.mu.Unlock()

	metrics.RecordJobCompleted()
	s.logger.Info(ctx, "job completed", logger.String("job", sess.LastJobID), logger.String("message", message))
	if done != nil {
		go done(sess)
	}
}

func (h *jobHandler) OnError(ctx context.Context, err error) {
	if !h.lock() {
		return
	}
	defer h.svc.mu.Unlock()
	s := h.svc

	info := errorInfo(err)
	s.lastErr = info
	if !info.Terminal {
		return
	}
	s.active = false
	s.jobID = ""
	s.remaining = nil
	s.rate = 0
	s.estimator.Reset()
	s.publishLocked()
	metrics.RecordJobFailed(info.Kind)
	s.logger.Warn(ctx, "job interrupted", logger.String("job", s.lastJobID), logger.String("kind", info.Kind))
}

func (h *jobHandler) OnClose(ctx context.Context, err error) {
	if !h.lock() {
		return
	}
	defer h.svc.mu.Unlock()
	if err != nil && h.svc.active {
		h.svc.active = false
		h.svc.jobID = ""
	}
	h.svc.logger.Debug(ctx, "stream closed", logger.String("job", h.svc.lastJobID), logger.Bool("clean", err == nil))
}

var _ stream.Handler = (*jobHandler)(nil)

