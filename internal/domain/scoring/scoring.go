// Package scoring simulates a grading model: it turns a response into a 0-10
// score with a confidence, after a simulated processing latency.
package scoring

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/okian/evalstream/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultCourseWeight = 1.0
	defaultTargetWords  = 60
	defaultNoise        = 0.75
	defaultMinLatency   = 20 * time.Millisecond
	defaultMaxLatency   = 60 * time.Millisecond
	defaultRandomSeed   = 42
	minConfidence       = 0.55
)

// Option applies a configuration option to the InMemoryScorer.
type Option func(*InMemoryScorer)

// WithLatencyRange sets the simulated latency range. A zero range disables
// the delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(s *InMemoryScorer) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// WithCourseWeights scales scores per course. Unknown courses use
// defaultWeight.
func WithCourseWeights(weights map[string]float64, defaultWeight float64) Option {
	return func(s *InMemoryScorer) {
		s.courseWeights = make(map[string]float64, len(weights))
		for course, weight := range weights {
			if weight > 0 {
				s.courseWeights[strings.ToLower(course)] = weight
			}
		}
		if defaultWeight > 0 {
			s.defaultWeight = defaultWeight
		}
	}
}

// WithTargetWords sets the response length that earns a full base score.
func WithTargetWords(n int) Option {
	return func(s *InMemoryScorer) {
		if n > 0 {
			s.targetWords = n
		}
	}
}

// WithNoise sets the maximum random deviation added to each score.
func WithNoise(n float64) Option {
	return func(s *InMemoryScorer) {
		if n >= 0 {
			s.noise = n
		}
	}
}

// WithSeed makes the random stream reproducible.
func WithSeed(seed int64) Option {
	return func(s *InMemoryScorer) {
		s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // simulation, not security
	}
}

// Input is one response to grade.
type Input struct {
	ID           string
	Course       string
	ResponseText string
}

// InputFromItem adapts a submitted job item.
func InputFromItem(it model.JobItem) Input {
	return Input{ID: it.ID, Course: it.Course, ResponseText: it.ResponseText}
}

// Result is the simulated model output for one response.
type Result struct {
	ID               string
	Score            float64
	Confidence       float64
	ProcessingTimeMs float64
}

// ModelResult converts the result into the wire shape streamed to clients.
func (r Result) ModelResult() model.ModelResult {
	return model.ModelResult{
		ID:               r.ID,
		Score:            r.Score,
		Confidence:       model.Float(r.Confidence),
		ProcessingTimeMs: model.Float(r.ProcessingTimeMs),
	}
}

// Scorer grades one response, honoring ctx for cancellation.
type Scorer interface {
	Score(ctx context.Context, in Input) (Result, error)
}

// InMemoryScorer implements Scorer with a length heuristic plus bounded noise.
type InMemoryScorer struct {
	courseWeights map[string]float64
	defaultWeight float64
	targetWords   int
	noise         float64
	minLatency    time.Duration
	maxLatency    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewInMemoryScorer creates a scorer with configuration options.
func NewInMemoryScorer(opts ...Option) *InMemoryScorer {
	s := &InMemoryScorer{
		courseWeights: make(map[string]float64),
		defaultWeight: defaultCourseWeight,
		targetWords:   defaultTargetWords,
		noise:         defaultNoise,
		minLatency:    defaultMinLatency,
		maxLatency:    defaultMaxLatency,
		rng:           rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible runs
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score grades in. Empty responses score zero.
func (s *InMemoryScorer) Score(ctx context.Context, in Input) (Result, error) {
	s.mu.Lock()
	latency := s.minLatency
	if span := int64(s.maxLatency - s.minLatency); span > 0 {
		latency += time.Duration(s.rng.Int63n(span))
	}
	jitter := (s.rng.Float64()*2 - 1) * s.noise
	confidence := minConfidence + s.rng.Float64()*(1-minConfidence)
	s.mu.Unlock()

	start := time.Now()
	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("context cancelled: %w", err)
	}

	weight, ok := s.courseWeights[strings.ToLower(in.Course)]
	if !ok {
		weight = s.defaultWeight
	}

	words := len(strings.Fields(in.ResponseText))
	score := 0.0
	if words > 0 {
		base := model.MaxScore * math.Min(1, float64(words)/float64(s.targetWords))
		score = base*weight + jitter
	}
	score = math.Max(model.MinScore, math.Min(model.MaxScore, score))

	return Result{
		ID:               in.ID,
		Score:            math.Round(score*10) / 10,
		Confidence:       math.Round(confidence*100) / 100,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}
