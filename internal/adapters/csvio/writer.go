package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/okian/evalstream/internal/domain/model"
)

// MissingScore marks a row the model has not scored yet.
const MissingScore = "-1"

// ExportHeader is the column order written by WriteMerged.
var ExportHeader = []string{
	"identifier", "response", "course", "prompt",
	"human_score_1", "human_score_2", "human_score_3",
	"model_score", "confidence", "processing_time_ms",
	"human_median", "abs_deviation", "exported_at",
}

// WriteMerged writes every merged row followed by the unmatched results.
// Unscored rows carry MissingScore as their model score.
func WriteMerged(w io.Writer, rows []model.MergedRow, unmatched []model.ModelResult, opts ...Option) error {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	exportedAt := cfg.now().UTC().Format(time.RFC3339)

	cw := csv.NewWriter(w)
	cw.Comma = cfg.separator
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range rows {
		record := make([]string, 0, len(ExportHeader))
		record = append(record, r.ID, r.Response, r.Course, r.Prompt)
		for i := 0; i < model.MaxHumanScores; i++ {
			var s *float64
			if i < len(r.HumanScores) {
				s = r.HumanScores[i]
			}
			record = append(record, optional(s))
		}
		score := MissingScore
		if r.ModelScore != nil {
			score = number(*r.ModelScore)
		}
		record = append(record, score, optional(r.Confidence), optional(r.ProcessingTimeMs),
			optional(r.HumanMedian), optional(r.AbsDeviation), exportedAt)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %s: %w", r.ID, err)
		}
	}

	for _, u := range unmatched {
		record := []string{u.ID, "", "", "", "", "", "",
			number(u.Score), optional(u.Confidence), optional(u.ProcessingTimeMs), "", "", exportedAt}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write unmatched %s: %w", u.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func number(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return number(*v)
}
