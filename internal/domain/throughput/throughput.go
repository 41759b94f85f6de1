// Package throughput estimates processing rate and time remaining for a
// running evaluation job.
package throughput

import (
	"sync"
	"time"
)

// DefaultWindow is the number of samples kept for the rate estimate.
const DefaultWindow = 5

// Sample is one progress observation.
type Sample struct {
	At        time.Time
	Completed int
}

// Estimate is the derived rate/ETA pair.
type Estimate struct {
	// Rate is items per second across the sample window.
	Rate float64
	// Remaining is nil until at least one item is done.
	Remaining *time.Duration
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithWindow sets how many samples are retained.
func WithWindow(n int) Option {
	return func(e *Estimator) {
		if n >= 2 {
			e.window = n
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) {
		if now != nil {
			e.now = now
		}
	}
}

// Estimator tracks a bounded history of progress samples.
type Estimator struct {
	mu      sync.Mutex
	window  int
	now     func() time.Time
	started time.Time
	history []Sample
}

// New creates an Estimator with a window of DefaultWindow samples.
func New(opts ...Option) *Estimator {
	e := &Estimator{window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.history = make([]Sample, 0, e.window)
	return e
}

// Start marks the job start time and clears any history.
func (e *Estimator) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = e.now()
	e.history = e.history[:0]
	e.history = append(e.history, Sample{At: e.started})
}

// Reset drops the history and the start time.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = time.Time{}
	e.history = e.history[:0]
}

// Observe records completed out of total and returns the updated estimate.
func (e *Estimator) Observe(completed, total int) Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.started.IsZero() {
		e.started = now
	}
	if len(e.history) == e.window {
		copy(e.history, e.history[1:])
		e.history = e.history[:e.window-1]
	}
	e.history = append(e.history, Sample{At: now, Completed: completed})

	est := Estimate{Rate: e.rateLocked()}

	elapsed := now.Sub(e.started).Seconds()
	if completed <= 0 || elapsed <= 0 {
		return est
	}
	perSecond := float64(completed) / elapsed
	left := float64(total-completed) / perSecond
	if left < 0 {
		left = 0
	}
	d := time.Duration(left * float64(time.Second))
	est.Remaining = &d
	return est
}

// Samples returns a copy of the retained history.
func (e *Estimator) Samples() []Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Sample, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Estimator) rateLocked() float64 {
	if len(e.history) < 2 {
		return 0
	}
	first := e.history[0]
	last := e.history[len(e.history)-1]
	dt := last.At.Sub(first.At).Seconds()
	if dt <= 0 {
		return 0
	}
	rate := float64(last.Completed-first.Completed) / dt
	if rate < 0 {
		return 0
	}
	return rate
}
