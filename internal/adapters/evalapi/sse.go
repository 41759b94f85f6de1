package evalapi

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	gosse "github.com/tmaxmax/go-sse"

	"github.com/okian/evalstream/internal/domain/failure"
	"github.com/okian/evalstream/internal/stream"
)

const (
	eventStreamType = "text/event-stream"
	defaultEvent    = "message"
)

// Transport returns the client as a stream.Transport.
func (c *Client) Transport() stream.Transport { return c }

// Stream opens the job's event stream and pumps decoded events into sink until
// the server closes it or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, r stream.Request, sink stream.Sink) error {
	const op = "evalapi.stream"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return failure.New(op, failure.KindValidation, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", eventStreamType)
	req.Header.Set("Cache-Control", "no-cache")
	if r.LastEventID != "" {
		req.Header.Set("Last-Event-ID", r.LastEventID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return failure.New(op, failure.KindTransport, fmt.Errorf("open stream: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		kind := failure.KindTransport
		if resp.StatusCode == http.StatusNotFound {
			kind = failure.KindNotFound
		}
		return failure.New(op, kind, fmt.Errorf("%w: status %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mt != eventStreamType {
		return failure.New(op, failure.KindTransport, fmt.Errorf("%w: %q", ErrNotEventStream, resp.Header.Get("Content-Type")))
	}

	sink.Opened()

	err = c.readEvents(resp.Body, sink)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return failure.New(op, failure.KindTransport, fmt.Errorf("read stream: %w", err))
	}
	return nil
}

// readEvents decodes the body with go-sse and forwards each event to sink.
// An event keeps an ID only when its id field moved the last event ID, so
// unnumbered events stay unnumbered.
func (c *Client) readEvents(body io.Reader, sink stream.Sink) error {
	tap := &heartbeatTap{r: body, sink: sink, lineStart: true}
	var lastID string
	for ev, err := range gosse.Read(tap, &gosse.ReadConfig{MaxEventSize: c.maxEventSize}) {
		if err != nil {
			return err
		}
		m := stream.Message{Event: ev.Type, Data: []byte(ev.Data)}
		if m.Event == "" {
			m.Event = defaultEvent
		}
		if ev.LastEventID != lastID {
			m.ID = ev.LastEventID
			lastID = ev.LastEventID
		}
		sink.Message(m)
	}
	return nil
}

// heartbeatTap reports comment lines as heartbeats while the bytes pass
// through to the parser, which drops comments.
type heartbeatTap struct {
	r         io.Reader
	sink      stream.Sink
	lineStart bool
}

func (t *heartbeatTap) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	for _, b := range p[:n] {
		switch {
		case b == '\r' || b == '\n':
			t.lineStart = true
		case b == ':' && t.lineStart:
			t.sink.Message(stream.Message{Heartbeat: true})
			t.lineStart = false
		default:
			t.lineStart = false
		}
	}
	return n, err
}
