// Package evalapi talks to the remote evaluation API: job submission over
// plain JSON and result streaming over server-sent events.
package evalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/evalstream/internal/domain/failure"
	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/pkg/logger"
	"github.com/okian/evalstream/pkg/metrics"
)

const (
	defaultSubmitTimeout = 60 * time.Second
	defaultMaxEventSize  = 8 << 20
	maxErrorBody         = 4 << 10

	evaluatePath  = "/evaluate"
	requestIDHdr  = "X-Request-ID"
	contentTypeJS = "application/json"
)

// Option configures a Client.
type Option func(*Client)

// WithSubmitTimeout bounds the job submission request.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.submitTimeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its Timeout must be zero
// for streaming to work; submission uses a per-request deadline instead.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithMaxEventSize caps the size of a single stream event.
func WithMaxEventSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxEventSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client is bound to one evaluation endpoint. Build a new one to change it.
type Client struct {
	baseURL       string
	http          *http.Client
	submitTimeout time.Duration
	maxEventSize  int
	logger        logger.Logger
}

// NewClient validates baseURL and builds a Client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || base == "" || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, failure.New("evalapi.new", failure.KindValidation, fmt.Errorf("%w: %q", ErrInvalidEndpoint, baseURL))
	}

	c := &Client{
		baseURL:       base,
		http:          &http.Client{},
		submitTimeout: defaultSubmitTimeout,
		maxEventSize:  defaultMaxEventSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("evalapi")
	}
	return c, nil
}

// BaseURL returns the endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

type submitRequest struct {
	Items []model.JobItem `json:"items"`
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

// SubmitJob creates an evaluation job and returns its id.
func (c *Client) SubmitJob(ctx context.Context, items []model.JobItem) (string, error) {
	const op = "evalapi.submit"
	if len(items) == 0 {
		return "", failure.New(op, failure.KindValidation, ErrNoItems)
	}

	body, err := json.Marshal(submitRequest{Items: items})
	if err != nil {
		return "", failure.New(op, failure.KindValidation, fmt.Errorf("encode request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+evaluatePath, bytes.NewReader(body))
	if err != nil {
		return "", failure.New(op, failure.KindValidation, fmt.Errorf("create request: %w", err))
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", contentTypeJS)
	req.Header.Set("Accept", contentTypeJS)
	req.Header.Set(requestIDHdr, reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RecordJobSubmitLatency(time.Since(start).Seconds())
	if err != nil {
		kind := failure.KindTransport
		if ctx.Err() == context.DeadlineExceeded {
			kind = failure.KindTimeout
		}
		return "", failure.New(op, kind, fmt.Errorf("submit job: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		kind := failure.KindTransport
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = failure.KindValidation
		}
		return "", failure.New(op, kind, fmt.Errorf("%w: status %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", failure.New(op, failure.KindValidation, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", failure.New(op, failure.KindValidation, ErrMissingJobID)
	}

	c.logger.Info(ctx, "job submitted",
		logger.String("job", out.JobID),
		logger.Int("items", len(items)),
		logger.String("request_id", reqID),
		logger.Duration("latency", time.Since(start)),
	)
	return out.JobID, nil
}
