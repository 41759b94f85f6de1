package stream

import (
	"context"

	"github.com/okian/evalstream/internal/domain/model"
)

// Event names carried on the stream.
const (
	EventBatchComplete = "batch_complete"
	EventProgress      = "progress"
	EventComplete      = "complete"
	EventError         = "error"
)

// Request describes one connection attempt.
type Request struct {
	JobID string
	URL   string
	// LastEventID is the id of the last delivered event, sent so the server
	// can resume after it.
	LastEventID string
}

// Message is one decoded server-sent event.
type Message struct {
	ID        string
	Event     string
	Data      []byte
	Heartbeat bool
}

// Sink receives transport signals for one attempt.
type Sink interface {
	// Opened reports that the server accepted the stream.
	Opened()
	// Message delivers one event. It may block while the client is busy.
	Message(m Message)
}

// Transport opens a stream and pumps it into sink until the stream ends, an
// error occurs, or ctx is cancelled. A nil return means the server closed the
// stream cleanly.
type Transport interface {
	Stream(ctx context.Context, req Request, sink Sink) error
}

// Handler receives stream callbacks. All methods run on the client's single
// dispatcher goroutine, in arrival order. Handlers must not call Disconnect
// synchronously.
type Handler interface {
	OnOpen(ctx context.Context)
	OnBatch(ctx context.Context, batch model.Batch)
	OnProgress(ctx context.Context, progress model.ProgressCount)
	OnComplete(ctx context.Context, message string)
	// OnError reports a failure. failure.IsTerminal tells whether the stream
	// is closing because of it.
	OnError(ctx context.Context, err error)
	// OnClose is the last callback of a run. err is nil after completion.
	OnClose(ctx context.Context, err error)
}

// NopHandler ignores every callback. Embed it to implement a subset.
type NopHandler struct{}

func (NopHandler) OnOpen(context.Context)                          {}
func (NopHandler) OnBatch(context.Context, model.Batch)            {}
func (NopHandler) OnProgress(context.Context, model.ProgressCount) {}
func (NopHandler) OnComplete(context.Context, string)              {}
func (NopHandler) OnError(context.Context, error)                  {}
func (NopHandler) OnClose(context.Context, error)                  {}
