// Package repository holds the canonical uploaded rows and model results and
// projects them into the merged view and reliability metrics.
package repository

import (
	"context"

	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/reliability"
)

// LoadStats describes the outcome of LoadOriginalRows.
type LoadStats struct {
	Rows int `json:"rows"`
	// DuplicateIDs lists ids that appeared more than once. Results attach to
	// the first row carrying the id.
	DuplicateIDs []string `json:"duplicateIds,omitempty"`
}

// ApplyStats describes the outcome of one ApplyResultBatch call.
type ApplyStats struct {
	Applied   int `json:"applied"`
	Replaced  int `json:"replaced"`
	Unmatched int `json:"unmatched"`
	Invalid   int `json:"invalid"`
}

// Store provides read/write access to the reconciliation state.
type Store interface {
	// LoadOriginalRows replaces every row and clears all results.
	LoadOriginalRows(ctx context.Context, rows []model.OriginalRow) (LoadStats, error)

	// ApplyResultBatch inserts or overwrites results by id. A batch is applied
	// atomically and the projections are recomputed before it returns.
	ApplyResultBatch(ctx context.Context, results []model.ModelResult) (ApplyStats, error)

	// MergedView returns one MergedRow per uploaded row, in upload order.
	MergedView(ctx context.Context) []model.MergedRow

	// Window returns up to limit merged rows starting at offset, plus the
	// total row count.
	Window(ctx context.Context, offset, limit int) ([]model.MergedRow, int, error)

	// Lookup returns the merged row for id.
	// Returns ErrNotFound if no uploaded row has the id.
	Lookup(ctx context.Context, id string) (model.MergedRow, error)

	// Metrics returns the metrics for the latest applied state.
	Metrics(ctx context.Context) reliability.Metrics

	// Rows returns the uploaded rows in upload order.
	Rows(ctx context.Context) []model.OriginalRow

	// Unmatched returns results whose id matches no uploaded row.
	Unmatched(ctx context.Context) []model.ModelResult

	// Count returns the number of uploaded rows.
	Count(ctx context.Context) int

	// ResultCount returns the number of distinct result ids held.
	ResultCount(ctx context.Context) int

	// Snapshot returns the latest published projection.
	Snapshot() *Snapshot
}
