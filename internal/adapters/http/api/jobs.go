package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/okian/evalstream/internal/domain/types"
)

// handleStartJob handles POST /api/v1/jobs. The endpoint defaults to the
// saved settings.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req types.StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	endpoint := strings.TrimSpace(req.EndpointURL)
	if endpoint == "" {
		endpoint = s.settings.Get().EndpointURL
	}

	jobID, err := s.deps.Start(r.Context(), nil, endpoint)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.StartJobResponse{JobID: jobID, Total: s.deps.Session().Progress.Total})
}

// handleStopJob handles DELETE /api/v1/jobs/current.
func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	s.deps.Stop()
	writeJSON(w, http.StatusOK, s.deps.Session())
}

// handleReconnect handles POST /api/v1/jobs/current/reconnect.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Reconnect(); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Session())
}

// handleSession handles GET /api/v1/session.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Session())
}
