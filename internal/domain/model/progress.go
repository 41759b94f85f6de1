package model

import "math"

const percentScale = 100

// Progress is the completion state of the active job.
type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// NewProgress derives the percentage as round(completed/total*100). The value
// only reaches 100 once completed >= total, so 996/1000 reports 99.
func NewProgress(completed, total int) Progress {
	if completed < 0 {
		completed = 0
	}
	if total < 0 {
		total = 0
	}
	p := Progress{Completed: completed, Total: total}
	if total == 0 {
		return p
	}

	pct := int(math.Round(float64(completed) / float64(total) * percentScale))
	switch {
	case completed >= total:
		pct = percentScale
	case pct >= percentScale:
		pct = percentScale - 1
	}
	p.Percentage = pct
	return p
}

// Done reports whether every item has been evaluated.
func (p Progress) Done() bool { return p.Total > 0 && p.Completed >= p.Total }
