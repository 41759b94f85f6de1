package mockapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/scoring"
)

// job holds the submitted items and the batches scored so far. Batches are
// scored once and replayed verbatim on resume.
type job struct {
	id        string
	items     []model.JobItem
	batchSize int

	mu      sync.Mutex
	batches [][]model.ModelResult
	dropped bool
}

func newJob(id string, items []model.JobItem, batchSize int) *job {
	return &job{id: id, items: items, batchSize: batchSize}
}

func (j *job) batchCount() int {
	return (len(j.items) + j.batchSize - 1) / j.batchSize
}

// completedAfter returns how many items are done once batch i has been sent.
func (j *job) completedAfter(i int) int {
	return min((i+1)*j.batchSize, len(j.items))
}

// batch returns the results of batch i, scoring it on first use.
func (j *job) batch(ctx context.Context, sc Scorer, i int) ([]model.ModelResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if i < len(j.batches) {
		return j.batches[i], nil
	}
	// Batches are produced in order; resuming never skips ahead of what was scored.
	for len(j.batches) <= i {
		n := len(j.batches)
		lo, hi := n*j.batchSize, j.completedAfter(n)
		results := make([]model.ModelResult, 0, hi-lo)
		for _, it := range j.items[lo:hi] {
			res, err := sc.Score(ctx, scoring.InputFromItem(it))
			if err != nil {
				return nil, fmt.Errorf("score %s: %w", it.ID, err)
			}
			results = append(results, res.ModelResult())
		}
		j.batches = append(j.batches, results)
	}
	return j.batches[i], nil
}

// shouldDrop reports whether the connection should be cut now. It fires at
// most once per job.
func (j *job) shouldDrop(sent, dropAfter int) bool {
	if dropAfter <= 0 || sent < dropAfter {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.dropped {
		return false
	}
	j.dropped = true
	return true
}
