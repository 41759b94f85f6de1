// Package mockapi is a stand-in evaluation API. It accepts jobs on
// POST /evaluate and streams simulated scores as server-sent events on
// GET /stream/{jobID}.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	gosse "github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"

	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/scoring"
	"github.com/okian/evalstream/internal/stream"
	"github.com/okian/evalstream/pkg/logger"
)

const maxSubmitBytes = 64 << 20

// Scorer grades one item.
type Scorer interface {
	Score(ctx context.Context, in scoring.Input) (scoring.Result, error)
}

// Server serves the mock evaluation API.
type Server struct {
	scorer        Scorer
	batchSize     int
	batchInterval time.Duration
	heartbeat     time.Duration
	dropAfter     int
	failAfter     int
	maxJobs       int
	logger        logger.Logger

	mu    sync.Mutex
	jobs  map[string]*job
	order []string
}

// New builds a Server.
func New(opts ...Option) *Server {
	s := &Server{
		batchSize:     defaultBatchSize,
		batchInterval: defaultBatchInterval,
		maxJobs:       defaultMaxJobs,
		jobs:          make(map[string]*job),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scorer == nil {
		s.scorer = scoring.NewInMemoryScorer()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("mockapi")
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/evaluate", s.handleEvaluate)
	r.Get("/stream/{jobID}", s.handleStream)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": s.JobCount()})
	})
	return r
}

// JobCount returns the number of retained jobs.
func (s *Server) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type evaluateRequest struct {
	Items []model.JobItem `json:"items"`
}

type evaluateResponse struct {
	JobID string `json:"jobId"`
	Total int    `json:"total"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req evaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrNoItems.Error()})
		return
	}

	id := uuid.NewString()
	s.addJob(newJob(id, req.Items, s.batchSize))
	s.logger.Info(ctx, "job accepted",
		logger.String("job", id),
		logger.Int("items", len(req.Items)),
		logger.String("request_id", middleware.GetReqID(ctx)))

	writeJSON(w, http.StatusOK, evaluateResponse{JobID: id, Total: len(req.Items)})
}

func (s *Server) addJob(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.id] = j
	s.order = append(s.order, j.id)
	for len(s.order) > s.maxJobs {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) job(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	j, ok := s.job(chi.URLParam(r, "jobID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrUnknownJob.Error()})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": ErrStreamingUnsupported.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := resumeIndex(r.Header.Get("Last-Event-ID"))
	s.logger.Debug(ctx, "stream opened", logger.String("job", j.id), logger.Int("from_batch", start))

	if err := s.pump(ctx, sse{w: w, f: flusher}, j, start); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(ctx, "stream ended with error", logger.String("job", j.id), logger.Error(err))
	}
}

// pump writes the batches of j from index start, then the terminal event.
func (s *Server) pump(ctx context.Context, out sse, j *job, start int) error {
	total := len(j.items)
	n := j.batchCount()

	if start == 0 {
		if err := out.event("", stream.EventProgress, model.ProgressCount{Completed: 0, Total: total}); err != nil {
			return err
		}
	}

	var limiter *rate.Limiter
	if s.batchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.batchInterval), 1)
	}

	sent := 0
	for i := start; i < n; i++ {
		if s.failAfter > 0 && i >= s.failAfter {
			return out.event(strconv.Itoa(i+1), stream.EventError, map[string]string{"error": "simulated evaluation failure"})
		}
		if err := s.wait(ctx, out, limiter); err != nil {
			return err
		}
		results, err := j.batch(ctx, s.scorer, i)
		if err != nil {
			return err
		}
		batch := model.Batch{
			Results:  results,
			Progress: model.ProgressCount{Completed: j.completedAfter(i), Total: total},
		}
		if err := out.event(strconv.Itoa(i+1), stream.EventBatchComplete, batch); err != nil {
			return err
		}
		sent++
		if j.shouldDrop(sent, s.dropAfter) {
			s.logger.Info(ctx, "dropping connection", logger.String("job", j.id), logger.Int("batch", i+1))
			return nil
		}
	}

	return out.event(strconv.Itoa(n+1), stream.EventComplete,
		map[string]string{"message": fmt.Sprintf("evaluated %d items", total)})
}

// wait blocks until the limiter admits the next batch, sending heartbeats
// while it waits.
func (s *Server) wait(ctx context.Context, out sse, limiter *rate.Limiter) error {
	if limiter == nil {
		return ctx.Err()
	}
	res := limiter.Reserve()
	delay := res.Delay()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	var beat <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		beat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			res.Cancel()
			return ctx.Err()
		case <-beat:
			if err := out.comment("ping"); err != nil {
				return err
			}
		case <-timer.C:
			return nil
		}
	}
}

// resumeIndex maps a Last-Event-ID onto the next batch to send. Event id k
// belongs to batch k-1.
func resumeIndex(lastEventID string) int {
	k, err := strconv.Atoi(strings.TrimSpace(lastEventID))
	if err != nil || k < 0 {
		return 0
	}
	return k
}

type sse struct {
	w http.ResponseWriter
	f http.Flusher
}

func (o sse) event(id, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	msg := &gosse.Message{Type: gosse.Type(name)}
	if id != "" {
		msg.ID = gosse.ID(id)
	}
	msg.AppendData(string(data))
	return o.send(msg, name)
}

func (o sse) comment(text string) error {
	msg := &gosse.Message{}
	msg.AppendComment(text)
	return o.send(msg, "heartbeat")
}

func (o sse) send(msg *gosse.Message, what string) error {
	if _, err := msg.WriteTo(o.w); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	o.f.Flush()
	return nil
}
