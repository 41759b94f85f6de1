package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/evalstream/internal/adapters/settings"
	"github.com/okian/evalstream/internal/domain/types"
)

// handleGetSettings handles GET /api/v1/settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Get())
}

// handlePutSettings handles PUT /api/v1/settings. Omitted fields are kept.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req types.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	saved, err := s.settings.Set(r.Context(), req)
	switch {
	case errors.Is(err, settings.ErrInvalidEndpoint), errors.Is(err, settings.ErrInvalidSeparator):
		writeError(w, http.StatusBadRequest, "invalid_settings", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "settings_not_saved", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
