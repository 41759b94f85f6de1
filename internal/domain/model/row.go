// Package model contains domain models passed between layers.
package model

// MaxHumanScores is the number of human score columns a row may carry.
const MaxHumanScores = 3

// Score bounds shared by human and model scores.
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// OriginalRow is one validated CSV record. Rows are immutable once loaded.
type OriginalRow struct {
	ID       string `json:"identifier"`
	Response string `json:"response"`
	Course   string `json:"course"`
	Prompt   string `json:"prompt"`
	// HumanScores is positional (score 1..3); nil marks a missing score.
	HumanScores []*float64 `json:"humanScores"`
}

// PresentHumanScores returns the non-missing human scores in column order.
func (r OriginalRow) PresentHumanScores() []float64 {
	out := make([]float64, 0, len(r.HumanScores))
	for _, s := range r.HumanScores {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// JobItem maps one row onto the evaluation API request payload.
type JobItem struct {
	ID           string `json:"identifier"`
	Course       string `json:"course"`
	Prompt       string `json:"prompt"`
	ResponseText string `json:"responseText"`
}

// JobItems builds the submission payload, one entry per row, in row order.
func JobItems(rows []OriginalRow) []JobItem {
	items := make([]JobItem, len(rows))
	for i, r := range rows {
		items[i] = JobItem{
			ID:           r.ID,
			Course:       r.Course,
			Prompt:       r.Prompt,
			ResponseText: r.Response,
		}
	}
	return items
}

// ModelResult is one evaluation produced by the remote API.
type ModelResult struct {
	ID               string   `json:"identifier"`
	Score            float64  `json:"score"`
	Confidence       *float64 `json:"confidence,omitempty"`
	ProcessingTimeMs *float64 `json:"processingTimeMs,omitempty"`
}

// MergedRow is an OriginalRow left-joined with its latest ModelResult.
type MergedRow struct {
	OriginalRow
	ModelScore       *float64 `json:"modelScore"`
	Confidence       *float64 `json:"confidence"`
	ProcessingTimeMs *float64 `json:"processingTimeMs"`
	HumanMedian      *float64 `json:"humanMedian"`
	AbsDeviation     *float64 `json:"absDeviation"`
}

// Processed reports whether a model result is attached.
func (m MergedRow) Processed() bool { return m.ModelScore != nil }

// Batch is one batch_complete payload.
type Batch struct {
	Results  []ModelResult `json:"results"`
	Progress ProgressCount `json:"progress"`
}

// ProgressCount is the raw progress snapshot carried on the wire.
type ProgressCount struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Float returns a pointer to v; handy for optional fields.
func Float(v float64) *float64 { return &v }
