package api

import (
	"fmt"
	"net/http"

	"github.com/okian/evalstream/internal/adapters/csvio"
	"github.com/okian/evalstream/pkg/logger"
)

// handleReliability handles GET /api/v1/reliability.
func (s *Server) handleReliability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics(r.Context()))
}

// handleExport handles GET /api/v1/export and streams the merged view as CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows := s.deps.Merged(ctx)
	unmatched := s.deps.Unmatched(ctx)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="evaluation-results-%s.csv"`, requestTime()))
	if err := csvio.WriteMerged(w, rows, unmatched, csvio.WithSeparator(s.settings.Separator())); err != nil {
		s.logger.Error(ctx, "export failed", logger.Error(err))
	}
}
