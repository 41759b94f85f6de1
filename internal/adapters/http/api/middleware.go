package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/evalstream/pkg/metrics"
)

// MetricsMiddleware records request counters, latency and error classes for
// one named endpoint.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, float64(time.Since(start).Milliseconds()))

		if status >= http.StatusBadRequest {
			metrics.RecordHTTPError(endpoint, r.Method, errorType(status), errorSeverity(status))
		}
	}
}

// errorType buckets a status into the label used by http_errors_total.
func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_rows"
	case http.StatusBadGateway:
		return "upstream"
	case http.StatusGatewayTimeout:
		return "upstream_timeout"
	}
	if status >= http.StatusInternalServerError {
		return "server_error"
	}
	return "client_error"
}

// errorSeverity: upstream failures are the evaluator's problem, other 5xx are ours.
func errorSeverity(status int) string {
	switch {
	case status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		return "medium"
	case status >= http.StatusInternalServerError:
		return "high"
	default:
		return "low"
	}
}
