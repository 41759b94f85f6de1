package api_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/evalstream/internal/adapters/http/api"
	"github.com/okian/evalstream/internal/adapters/repository"
	"github.com/okian/evalstream/internal/adapters/settings"
	"github.com/okian/evalstream/internal/domain/failure"
	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/internal/domain/reliability"
	"github.com/okian/evalstream/internal/domain/types"
	"github.com/okian/evalstream/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
}

// mockDeps backs the handlers with a real ReconcileStore and records job calls.
type mockDeps struct {
	mu        sync.Mutex
	store     *repository.ReconcileStore
	session   model.Session
	startErr  error
	endpoint  string
	stopped   bool
	reconnErr error
}

func newMockDeps() *mockDeps {
	return &mockDeps{store: repository.NewReconcileStore()}
}

func (m *mockDeps) LoadRows(ctx context.Context, rows []model.OriginalRow) (repository.LoadStats, error) {
	if m.session.Active {
		return repository.LoadStats{}, failure.New("load", failure.KindConflict, errors.New("a job is already running"))
	}
	return m.store.LoadOriginalRows(ctx, rows)
}

func (m *mockDeps) Start(ctx context.Context, _ []model.OriginalRow, endpoint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoint = endpoint
	if m.startErr != nil {
		return "", m.startErr
	}
	m.session = model.Session{JobID: "job-1", LastJobID: "job-1", Active: true,
		Progress: model.NewProgress(0, m.store.Count(ctx))}
	return "job-1", nil
}

func (m *mockDeps) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.session = model.Session{LastJobID: m.session.LastJobID}
}

func (m *mockDeps) Reconnect() error { return m.reconnErr }

func (m *mockDeps) Session() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *mockDeps) Window(ctx context.Context, offset, limit int) ([]model.MergedRow, int, error) {
	return m.store.Window(ctx, offset, limit)
}

func (m *mockDeps) Lookup(ctx context.Context, id string) (model.MergedRow, error) {
	row, err := m.store.Lookup(ctx, id)
	if err != nil {
		return row, failure.New("lookup", failure.KindNotFound, err)
	}
	return row, nil
}

func (m *mockDeps) Merged(ctx context.Context) []model.MergedRow { return m.store.MergedView(ctx) }

func (m *mockDeps) Unmatched(ctx context.Context) []model.ModelResult { return m.store.Unmatched(ctx) }

func (m *mockDeps) Metrics(ctx context.Context) reliability.Metrics { return m.store.Metrics(ctx) }

type mockStatsProvider struct{}

func (mockStatsProvider) GetStats() map[string]interface{} {
	return map[string]interface{}{"active": false, "rows": 0}
}

const sampleCSV = "identifier,response,course,prompt,score1,score2\n" +
	"a,first answer,Bio,Q1,7,9\n" +
	"b,second answer,Bio,Q1,8,\n" +
	"c,third answer,Bio,Q1,5,5\n"

func newTestServer(deps *mockDeps) (http.Handler, *settings.Store) {
	st, err := settings.Open(context.Background(), "", types.Settings{EndpointURL: "http://eval.local", Separator: ","})
	if err != nil {
		panic(err)
	}
	router := api.NewRouter([]string{"http://ui.local"})
	api.NewServer(deps, st, mockStatsProvider{}, api.WithMaxPageSize(2)).Register(context.Background(), router)
	return router, st
}

func do(h http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func TestServer_Routes(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newMockDeps()
		h, st := newTestServer(deps)

		Convey("The health endpoint serves Prometheus metrics", func() {
			w := do(h, http.MethodGet, "/healthz", nil, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "evalstream_")
		})

		Convey("The stats endpoint serves JSON", func() {
			w := do(h, http.MethodGet, "/stats", nil, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var stats map[string]any
			decode(w, &stats)
			So(stats["active"], ShouldEqual, false)
		})

		Convey("Unknown routes are 404 and wrong methods are 405", func() {
			So(do(h, http.MethodGet, "/leaderboard", nil, "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodPost, "/api/v1/session", nil, "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("CORS preflight is answered for allowed origins", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/rows", nil)
			req.Header.Set("Origin", "http://ui.local")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "http://ui.local")
		})

		Convey("Uploading a raw CSV body loads rows", func() {
			w := do(h, http.MethodPost, "/api/v1/rows", strings.NewReader(sampleCSV), "text/csv")
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp types.LoadRowsResponse
			decode(w, &resp)
			So(resp.Rows, ShouldEqual, 3)
			So(resp.DuplicateIDs, ShouldBeEmpty)

			Convey("Rows are paged and the limit is capped", func() {
				w := do(h, http.MethodGet, "/api/v1/rows?offset=1&limit=50", nil, "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var page types.Page[model.MergedRow]
				decode(w, &page)
				So(page.Total, ShouldEqual, 3)
				So(page.Limit, ShouldEqual, 2)
				So(page.Items, ShouldHaveLength, 2)
				So(page.Items[0].ID, ShouldEqual, "b")
			})

			Convey("Bad paging arguments are rejected", func() {
				So(do(h, http.MethodGet, "/api/v1/rows?offset=-1", nil, "").Code, ShouldEqual, http.StatusBadRequest)
				So(do(h, http.MethodGet, "/api/v1/rows?limit=abc", nil, "").Code, ShouldEqual, http.StatusBadRequest)
				So(do(h, http.MethodGet, "/api/v1/rows?limit=0", nil, "").Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("A single row is looked up by id", func() {
				_, err := deps.store.ApplyResultBatch(context.Background(), []model.ModelResult{{ID: "a", Score: 7.5}})
				So(err, ShouldBeNil)

				w := do(h, http.MethodGet, "/api/v1/rows/a", nil, "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var row model.MergedRow
				decode(w, &row)
				So(row.ID, ShouldEqual, "a")
				So(*row.ModelScore, ShouldEqual, 7.5)
				So(*row.HumanMedian, ShouldEqual, 8)

				So(do(h, http.MethodGet, "/api/v1/rows/zzz", nil, "").Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("Reliability reflects applied results", func() {
				_, err := deps.store.ApplyResultBatch(context.Background(), []model.ModelResult{
					{ID: "a", Score: 8}, {ID: "b", Score: 8.5}, {ID: "c", Score: 5},
				})
				So(err, ShouldBeNil)

				w := do(h, http.MethodGet, "/api/v1/reliability", nil, "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var m reliability.Metrics
				decode(w, &m)
				So(m.ValidPairs, ShouldEqual, 3)
				So(m.Reliable, ShouldBeTrue)
			})

			Convey("Export writes every row as CSV", func() {
				_, err := deps.store.ApplyResultBatch(context.Background(), []model.ModelResult{{ID: "a", Score: 8}})
				So(err, ShouldBeNil)

				w := do(h, http.MethodGet, "/api/v1/export", nil, "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "text/csv")
				So(w.Header().Get("Content-Disposition"), ShouldContainSubstring, "attachment")

				records, err := csv.NewReader(w.Body).ReadAll()
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 4)
				So(records[1][7], ShouldEqual, "8")
				So(records[2][7], ShouldEqual, "-1")
			})

			Convey("Starting a job uses the saved endpoint", func() {
				w := do(h, http.MethodPost, "/api/v1/jobs", nil, "")
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var resp types.StartJobResponse
				decode(w, &resp)
				So(resp.JobID, ShouldEqual, "job-1")
				So(resp.Total, ShouldEqual, 3)
				So(deps.endpoint, ShouldEqual, "http://eval.local")

				Convey("Uploading while it runs conflicts", func() {
					w := do(h, http.MethodPost, "/api/v1/rows", strings.NewReader(sampleCSV), "text/csv")
					So(w.Code, ShouldEqual, http.StatusConflict)
					var body types.ErrorBody
					decode(w, &body)
					So(body.Kind, ShouldEqual, "conflict")
					So(body.Recommendation, ShouldNotBeEmpty)
				})

				Convey("The session reports the job and stop clears it", func() {
					var sess model.Session
					decode(do(h, http.MethodGet, "/api/v1/session", nil, ""), &sess)
					So(sess.Active, ShouldBeTrue)

					w := do(h, http.MethodDelete, "/api/v1/jobs/current", nil, "")
					So(w.Code, ShouldEqual, http.StatusOK)
					decode(w, &sess)
					So(sess.Active, ShouldBeFalse)
					So(sess.LastJobID, ShouldEqual, "job-1")
					So(deps.stopped, ShouldBeTrue)
				})
			})
		})

		Convey("Uploading a multipart file with a custom separator works", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("file", "rows.csv")
			So(err, ShouldBeNil)
			_, _ = fw.Write([]byte(strings.ReplaceAll(sampleCSV, ",", ";")))
			So(mw.Close(), ShouldBeNil)

			w := do(h, http.MethodPost, "/api/v1/rows?separator=%3B", &buf, mw.FormDataContentType())
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.store.Count(context.Background()), ShouldEqual, 3)
		})

		Convey("Invalid rows are reported with their lines", func() {
			w := do(h, http.MethodPost, "/api/v1/rows",
				strings.NewReader("identifier,response,course,prompt,score1\nx,r,c,p,12\n"), "text/csv")
			So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			var body struct {
				Code   string `json:"code"`
				Issues []struct {
					Line int `json:"line"`
				} `json:"issues"`
			}
			decode(w, &body)
			So(body.Code, ShouldEqual, "invalid_rows")
			So(body.Issues, ShouldHaveLength, 1)
			So(body.Issues[0].Line, ShouldEqual, 2)
		})

		Convey("A CSV without required columns is a bad request", func() {
			w := do(h, http.MethodPost, "/api/v1/rows", strings.NewReader("foo,bar\n1,2\n"), "text/csv")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Start failures map to status codes", func() {
			deps.startErr = failure.New("service.start", failure.KindTransport, errors.New("connection refused"))
			w := do(h, http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"endpoint_url":"http://other"}`), "application/json")
			So(w.Code, ShouldEqual, http.StatusBadGateway)
			So(deps.endpoint, ShouldEqual, "http://other")

			deps.startErr = failure.New("service.start", failure.KindValidation, errors.New("no rows loaded"))
			So(do(h, http.MethodPost, "/api/v1/jobs", nil, "").Code, ShouldEqual, http.StatusBadRequest)

			So(do(h, http.MethodPost, "/api/v1/jobs", strings.NewReader("{"), "application/json").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Reconnect errors are classified", func() {
			deps.reconnErr = failure.New("service.reconnect", failure.KindNotFound, errors.New("no job to reconnect"))
			So(do(h, http.MethodPost, "/api/v1/jobs/current/reconnect", nil, "").Code, ShouldEqual, http.StatusNotFound)

			deps.reconnErr = nil
			So(do(h, http.MethodPost, "/api/v1/jobs/current/reconnect", nil, "").Code, ShouldEqual, http.StatusAccepted)
		})

		Convey("Settings can be read and updated", func() {
			var got types.Settings
			decode(do(h, http.MethodGet, "/api/v1/settings", nil, ""), &got)
			So(got.EndpointURL, ShouldEqual, "http://eval.local")

			w := do(h, http.MethodPut, "/api/v1/settings", strings.NewReader(`{"separator":";"}`), "application/json")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(st.Separator(), ShouldEqual, ';')

			w = do(h, http.MethodPut, "/api/v1/settings", strings.NewReader(`{"endpoint_url":"mailto:x"}`), "application/json")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
