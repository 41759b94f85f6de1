package repository

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/reliability"
	"github.com/okian/evalstream/pkg/logger"
	"github.com/okian/evalstream/pkg/metrics"
)

// Snapshot is an immutable projection of the store published after every
// mutation. Readers never take the write lock.
type Snapshot struct {
	Merged    []model.MergedRow
	Metrics   reliability.Metrics
	Unmatched []model.ModelResult
	Version   uint64
}

// ReconcileStore is an in-memory Store.
type ReconcileStore struct {
	mu      sync.Mutex
	rows    []model.OriginalRow
	index   map[string]int // id -> position of the first row carrying it
	results map[string]model.ModelResult
	arrival []string // result ids in first-arrival order
	version uint64

	snapshot  atomic.Pointer[Snapshot]
	maxWindow int
	logger    logger.Logger
}

var _ Store = (*ReconcileStore)(nil)

// NewReconcileStore constructs an empty store.
func NewReconcileStore(opts ...Option) *ReconcileStore {
	s := &ReconcileStore{
		index:     make(map[string]int),
		results:   make(map[string]model.ModelResult),
		maxWindow: defaultMaxWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("repository")
	}

	s.mu.Lock()
	s.recompute()
	s.mu.Unlock()
	return s
}

// LoadOriginalRows implements Store.LoadOriginalRows.
func (s *ReconcileStore) LoadOriginalRows(ctx context.Context, rows []model.OriginalRow) (LoadStats, error) {
	index := make(map[string]int, len(rows))
	var dups []string
	seenDup := make(map[string]struct{})
	for i, r := range rows {
		if r.ID == "" {
			return LoadStats{}, fmt.Errorf("row %d: %w", i+1, ErrEmptyID)
		}
		if _, ok := index[r.ID]; ok {
			if _, reported := seenDup[r.ID]; !reported {
				seenDup[r.ID] = struct{}{}
				dups = append(dups, r.ID)
			}
			continue
		}
		index[r.ID] = i
	}

	copied := make([]model.OriginalRow, len(rows))
	copy(copied, rows)

	s.mu.Lock()
	s.rows = copied
	s.index = index
	s.results = make(map[string]model.ModelResult)
	s.arrival = nil
	s.recompute()
	s.mu.Unlock()

	metrics.UpdateRowsLoaded(len(copied))
	if len(dups) > 0 {
		s.logger.Warn(ctx, "duplicate identifiers in upload, results attach to the first row",
			logger.Int("duplicates", len(dups)))
	}
	s.logger.Info(ctx, "rows loaded", logger.Int("rows", len(copied)))
	return LoadStats{Rows: len(copied), DuplicateIDs: dups}, nil
}

// ApplyResultBatch implements Store.ApplyResultBatch.
func (s *ReconcileStore) ApplyResultBatch(ctx context.Context, results []model.ModelResult) (ApplyStats, error) {
	start := time.Now()
	var st ApplyStats

	s.mu.Lock()
	for _, r := range results {
		if r.ID == "" || math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			st.Invalid++
			continue
		}
		if _, ok := s.results[r.ID]; ok {
			st.Replaced++
		} else {
			s.arrival = append(s.arrival, r.ID)
		}
		s.results[r.ID] = r
		if _, ok := s.index[r.ID]; !ok {
			st.Unmatched++
		}
		st.Applied++
	}
	s.recompute()
	snap := s.snapshot.Load()
	s.mu.Unlock()

	metrics.RecordBatchApplied(st.Applied, st.Replaced, st.Unmatched, time.Since(start).Seconds())
	mad := 0.0
	if snap.Metrics.MeanAbsDeviation != nil {
		mad = *snap.Metrics.MeanAbsDeviation
	}
	metrics.UpdateReliability(snap.Metrics.ICC, snap.Metrics.ValidPairs, mad)

	if st.Invalid > 0 {
		s.logger.Warn(ctx, "skipped invalid results", logger.Int("invalid", st.Invalid))
	}
	s.logger.Debug(ctx, "batch applied",
		logger.Int("applied", st.Applied),
		logger.Int("replaced", st.Replaced),
		logger.Int("unmatched", st.Unmatched),
	)
	return st, nil
}

// recompute rebuilds the merged projection and metrics and publishes them.
// Must be called with s.mu held.
func (s *ReconcileStore) recompute() {
	merged := make([]model.MergedRow, len(s.rows))
	pairs := make([]reliability.Pair, 0, len(s.results))

	for i, row := range s.rows {
		m := model.MergedRow{OriginalRow: row, HumanMedian: reliability.MedianOf(row.HumanScores)}
		if s.index[row.ID] == i {
			if res, ok := s.results[row.ID]; ok {
				score := res.Score
				m.ModelScore = &score
				m.Confidence = res.Confidence
				m.ProcessingTimeMs = res.ProcessingTimeMs
			}
		}
		if m.ModelScore != nil && m.HumanMedian != nil {
			dev := math.Abs(*m.ModelScore - *m.HumanMedian)
			m.AbsDeviation = &dev
			pairs = append(pairs, reliability.Pair{ID: row.ID, Model: *m.ModelScore, Human: *m.HumanMedian})
		}
		merged[i] = m
	}

	var unmatched []model.ModelResult
	for _, id := range s.arrival {
		if _, ok := s.index[id]; !ok {
			unmatched = append(unmatched, s.results[id])
		}
	}

	s.version++
	s.snapshot.Store(&Snapshot{
		Merged:    merged,
		Metrics:   reliability.Compute(pairs),
		Unmatched: unmatched,
		Version:   s.version,
	})
}

// Snapshot implements Store.Snapshot. Callers must not modify it.
func (s *ReconcileStore) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// MergedView implements Store.MergedView.
func (s *ReconcileStore) MergedView(ctx context.Context) []model.MergedRow {
	snap := s.snapshot.Load()
	out := make([]model.MergedRow, len(snap.Merged))
	copy(out, snap.Merged)
	return out
}

// Window implements Store.Window.
func (s *ReconcileStore) Window(ctx context.Context, offset, limit int) ([]model.MergedRow, int, error) {
	if limit < 1 || limit > s.maxWindow {
		return nil, 0, ErrInvalidLimit
	}
	if offset < 0 {
		return nil, 0, ErrInvalidOffset
	}

	snap := s.snapshot.Load()
	total := len(snap.Merged)
	if offset >= total {
		return []model.MergedRow{}, total, nil
	}
	end := min(offset+limit, total)
	out := make([]model.MergedRow, end-offset)
	copy(out, snap.Merged[offset:end])
	return out, total, nil
}

// Lookup implements Store.Lookup.
func (s *ReconcileStore) Lookup(ctx context.Context, id string) (model.MergedRow, error) {
	s.mu.Lock()
	pos, ok := s.index[id]
	snap := s.snapshot.Load()
	s.mu.Unlock()
	if !ok {
		return model.MergedRow{}, ErrNotFound
	}
	return snap.Merged[pos], nil
}

// Metrics implements Store.Metrics.
func (s *ReconcileStore) Metrics(ctx context.Context) reliability.Metrics {
	return s.snapshot.Load().Metrics
}

// Rows implements Store.Rows.
func (s *ReconcileStore) Rows(ctx context.Context) []model.OriginalRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OriginalRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// Unmatched implements Store.Unmatched.
func (s *ReconcileStore) Unmatched(ctx context.Context) []model.ModelResult {
	src := s.snapshot.Load().Unmatched
	out := make([]model.ModelResult, len(src))
	copy(out, src)
	return out
}

// ResultCount implements Store.ResultCount. Matched and unmatched ids both count.
func (s *ReconcileStore) ResultCount(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Count implements Store.Count.
func (s *ReconcileStore) Count(ctx context.Context) int {
	return len(s.snapshot.Load().Merged)
}
