package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/okian/evalstream/internal/adapters/csvio"
	"github.com/okian/evalstream/internal/adapters/repository"
	"github.com/okian/evalstream/internal/domain/types"
	"github.com/okian/evalstream/pkg/logger"
)

type invalidRowsResponse struct {
	types.ErrorBody
	Issues    []csvio.Issue `json:"issues"`
	Truncated bool          `json:"truncated"`
}

// handleUploadRows handles POST /api/v1/rows. The CSV arrives either as a
// multipart "file" field or as the raw request body.
func (s *Server) handleUploadRows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	sep := s.settings.Separator()
	if v := r.URL.Query().Get("separator"); v != "" {
		parsed, err := csvio.ParseSeparator(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_separator", err)
			return
		}
		sep = parsed
	}

	body, closeBody, err := uploadReader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", err)
		return
	}
	defer closeBody()

	res, err := csvio.ReadRows(body, csvio.WithSeparator(sep))
	if errors.Is(err, csvio.ErrInvalidRows) {
		writeJSON(w, http.StatusUnprocessableEntity, invalidRowsResponse{
			ErrorBody: errorBody(http.StatusUnprocessableEntity, "invalid_rows", err),
			Issues:    res.Issues,
			Truncated: res.Truncated,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_csv", err)
		return
	}

	stats, err := s.deps.LoadRows(ctx, res.Rows)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.logger.Info(ctx, "rows uploaded", logger.Int("rows", stats.Rows), logger.Int("duplicates", len(stats.DuplicateIDs)))

	dupes := stats.DuplicateIDs
	if dupes == nil {
		dupes = []string{}
	}
	writeJSON(w, http.StatusOK, types.LoadRowsResponse{Rows: stats.Rows, DuplicateIDs: dupes})
}

func uploadReader(r *http.Request) (io.Reader, func(), error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return r.Body, func() {}, nil
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, fmt.Errorf("parse form: %w", err)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, ErrNoFile
	}
	return f, func() { _ = f.Close() }, nil
}

// handleListRows handles GET /api/v1/rows?offset=&limit=.
func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", err)
		return
	}
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil || limit == 0 {
		writeError(w, http.StatusBadRequest, "invalid_limit", ErrBadPageArgs)
		return
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	rows, total, err := s.deps.Window(r.Context(), offset, limit)
	switch {
	case errors.Is(err, repository.ErrInvalidLimit), errors.Is(err, repository.ErrInvalidOffset):
		writeError(w, http.StatusBadRequest, "invalid_window", err)
		return
	case err != nil:
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewPage(rows, offset, limit, total))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, ErrBadPageArgs
	}
	return v, nil
}

// handleGetRow handles GET /api/v1/rows/{id}.
func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	id := norm.NFC.String(strings.TrimSpace(chi.URLParam(r, "id")))
	row, err := s.deps.Lookup(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}
