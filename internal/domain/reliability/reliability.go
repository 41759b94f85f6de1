// Package reliability computes agreement statistics between model scores and
// human scores. Every function is pure.
package reliability

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Interpretation bands for ICC(3,1). Lower bounds are inclusive.
const (
	moderateCutoff = 0.5
	goodCutoff     = 0.75
	excellentCut   = 0.9

	// ReliableThreshold is strict: icc must exceed it.
	ReliableThreshold = 0.8
)

// Interpretation labels.
const (
	Poor        = "Poor"
	Moderate    = "Moderate"
	Good        = "Good"
	Excellent   = "Excellent"
	Unavailable = "Unavailable"
)

const minPairs = 2

// Pair is one valid comparison: a model score and the human median for the
// same item.
type Pair struct {
	ID    string
	Model float64
	Human float64
}

// Metrics is the derived reliability snapshot. Nil pointers mean "unknown".
type Metrics struct {
	ICC              *float64 `json:"icc"`
	Interpretation   string   `json:"interpretation"`
	MeanAbsDeviation *float64 `json:"meanAbsDeviation"`
	StdDeviation     *float64 `json:"stdDeviation"`
	Correlation      *float64 `json:"correlation"`
	Reliable         bool     `json:"reliable"`
	ValidPairs       int      `json:"validPairs"`
}

// Median returns the median of values. The second result is false when values
// is empty. The input slice is not modified.
func Median(values []float64) (float64, bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := n / 2
	if n%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// MedianOf is Median over optional scores; nil entries are skipped and a nil
// result means no score was present.
func MedianOf(scores []*float64) *float64 {
	present := make([]float64, 0, len(scores))
	for _, s := range scores {
		if s != nil {
			present = append(present, *s)
		}
	}
	m, ok := Median(present)
	if !ok {
		return nil
	}
	return &m
}

// ICC31 computes the two-way mixed, single-rater, consistency ICC between two
// raters. It fails when the arrays differ in length, hold fewer than two
// pairs, or the mean squares sum to zero. The result is clamped to [0, 1].
func ICC31(model, human []float64) (float64, bool) {
	n := len(model)
	if n < minPairs || len(human) != n {
		return 0, false
	}

	mean1 := mean(model)
	mean2 := mean(human)
	grand := (mean1 + mean2) / 2

	var ssb, ssw float64
	for i := 0; i < n; i++ {
		rowMean := (model[i] + human[i]) / 2
		d := rowMean - grand
		ssb += 2 * d * d

		dm := model[i] - rowMean
		dh := human[i] - rowMean
		ssw += dm*dm + dh*dh
	}

	msb := ssb / float64(n-1)
	msw := ssw / float64(n)
	den := msb + msw
	if den == 0 {
		return 0, false
	}

	return clamp01((msb - msw) / den), true
}

// Interpret maps an ICC value to its qualitative band.
func Interpret(icc float64) string {
	switch {
	case icc < moderateCutoff:
		return Poor
	case icc < goodCutoff:
		return Moderate
	case icc < excellentCut:
		return Good
	default:
		return Excellent
	}
}

// IsReliable reports whether icc clears the reliability verdict threshold.
func IsReliable(icc float64) bool { return icc > ReliableThreshold }

// StdDev is the sample standard deviation (n-1 denominator).
func StdDev(values []float64) (float64, bool) {
	if len(values) < minPairs {
		return 0, false
	}
	return finite(stat.StdDev(values, nil))
}

// Pearson returns the correlation coefficient of x and y. It fails for fewer
// than two pairs or when either side has zero variance.
func Pearson(x, y []float64) (float64, bool) {
	n := len(x)
	if n < minPairs || len(y) != n {
		return 0, false
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0, false
	}
	return finite(stat.Correlation(x, y, nil))
}

// Compute derives the full Metrics snapshot from valid comparison pairs.
func Compute(pairs []Pair) Metrics {
	m := Metrics{ValidPairs: len(pairs), Interpretation: Unavailable}
	if len(pairs) == 0 {
		return m
	}

	model := make([]float64, len(pairs))
	human := make([]float64, len(pairs))
	deviations := make([]float64, len(pairs))
	for i, p := range pairs {
		model[i] = p.Model
		human[i] = p.Human
		deviations[i] = math.Abs(p.Model - p.Human)
	}

	mad := mean(deviations)
	m.MeanAbsDeviation = &mad

	if sd, ok := StdDev(deviations); ok {
		m.StdDeviation = &sd
	}
	if r, ok := Pearson(model, human); ok {
		m.Correlation = &r
	}
	if icc, ok := ICC31(model, human); ok {
		m.ICC = &icc
		m.Interpretation = Interpret(icc)
		m.Reliable = IsReliable(icc)
	}
	return m
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func finite(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
