// Package stream manages the long-lived server-push connection that carries
// evaluation results for one job.
//
// The Client is an explicit state machine:
//
//	Idle -> Connecting -> Connected <-> Reconnecting -> Closed
//
// Transport signals and timer fires are posted to a bounded inbox and handled
// one at a time by a single dispatcher goroutine, so handlers observe events in
// arrival order. Every connection attempt carries an epoch; signals from a
// superseded attempt are dropped.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/evalstream/internal/adapters/mq/queue"
	"github.com/okian/evalstream/internal/adapters/mq/worker"
	"github.com/okian/evalstream/internal/domain/dedupe"
	"github.com/okian/evalstream/internal/domain/failure"
	"github.com/okian/evalstream/internal/domain/model"
	"github.com/okian/evalstream/pkg/logger"
	"github.com/okian/evalstream/pkg/metrics"
)

const (
	warnInterval          = 10 * time.Second
	dispatcherStopTimeout = 5 * time.Second
)

type signalKind int

const (
	sigOpened signalKind = iota
	sigMessage
	sigFailed
	sigConnectTimeout
	sigRetry
	sigIdle
	sigClose
)

type signal struct {
	kind  signalKind
	run   uint64
	epoch uint64
	msg   Message
	err   error
}

// Status is a point-in-time view of the client.
type Status struct {
	State       State  `json:"state"`
	JobID       string `json:"jobId,omitempty"`
	URL         string `json:"url,omitempty"`
	Attempts    int    `json:"attempts"`
	Reconnects  int    `json:"reconnects"`
	LastEventID string `json:"lastEventId,omitempty"`
	LastError   error  `json:"-"`
	Completed   bool   `json:"completed"`

	// InboxDepth and InboxCapacity describe the current run's signal queue.
	InboxDepth    int `json:"inboxDepth"`
	InboxCapacity int `json:"inboxCapacity"`
	// Dispatched counts signals handled by the current run's dispatcher.
	Dispatched int64 `json:"dispatched"`
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDeduper replaces the replayed-event tracker.
func WithDeduper(d dedupe.Deduper) Option {
	return func(c *Client) {
		if d != nil {
			c.seen = d
		}
	}
}

// Client is the streaming session manager for one job at a time.
type Client struct {
	cfg       Config
	transport Transport
	handler   Handler
	logger    logger.Logger
	seen      dedupe.Deduper
	warnEvery rate.Sometimes

	// cbMu is held while handler callbacks run so Disconnect can wait for an
	// in-flight callback and suppress later ones.
	cbMu sync.Mutex

	mu          sync.Mutex
	state       State
	jobID       string
	url         string
	attempts    int
	reconnects  int
	lastErr     error
	lastEventID string
	completed   bool

	run       uint64
	epoch     uint64
	inbox      *queue.InMemoryQueue[signal]
	dispatcher *worker.InMemoryWorker[signal]
	runCancel  context.CancelFunc
	attempt   context.CancelFunc

	connectTimer *time.Timer
	retryTimer   *time.Timer
	idleTimer    *time.Timer
	closeTimer   *time.Timer
}

// NewClient validates cfg and builds an idle Client.
func NewClient(cfg Config, transport Transport, handler Handler, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if handler == nil {
		handler = NopHandler{}
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = DefaultDedupeSize
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		handler:   handler,
		warnEvery: rate.Sometimes{Interval: warnInterval},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("stream")
	}
	if c.seen == nil {
		c.seen = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	}
	return c, nil
}

// Connect opens the stream for jobID. It is valid from Idle and Closed.
func (c *Client) Connect(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return ErrNoJob
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active() {
		return ErrAlreadyConnected
	}

	c.jobID = jobID
	c.url = StreamURL(c.cfg.BaseURL, jobID)
	c.attempts = 0
	c.reconnects = 0
	c.lastErr = nil
	c.lastEventID = ""
	c.completed = false
	c.seen.Reset()

	c.startRunLocked()
	c.dialLocked(StateConnecting)
	c.logger.Info(context.Background(), "stream connecting",
		logger.String("job", jobID), logger.String("url", c.url))
	return nil
}

// Reconnect resets the attempt counter and dials immediately, skipping the
// reconnect delay. From Closed it starts a new run for the same job.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.jobID == "" || c.state == StateIdle:
		return ErrNotStarted
	case c.completed:
		return ErrAlreadyComplete
	}

	if c.state == StateClosed {
		c.startRunLocked()
	} else {
		c.abortAttemptLocked()
		stopTimer(&c.retryTimer)
	}

	c.attempts = 0
	c.reconnects++
	c.lastErr = nil
	metrics.RecordReconnectAttempt()
	c.dialLocked(StateConnecting)
	c.logger.Info(context.Background(), "manual reconnect", logger.String("job", c.jobID))
	return nil
}

// Disconnect tears the stream down. Every timer and the live connection are
// cancelled before it returns, and no handler callback for the torn-down run
// starts afterwards.
func (c *Client) Disconnect() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return
	}
	c.abortAttemptLocked()
	stopTimer(&c.retryTimer)
	stopTimer(&c.closeTimer)
	c.endRunLocked()
	c.run++
	c.setStateLocked(StateClosed)
}

// Status returns a snapshot of the client.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:       c.state,
		JobID:       c.jobID,
		URL:         c.url,
		Attempts:    c.attempts,
		Reconnects:  c.reconnects,
		LastEventID: c.lastEventID,
		LastError:   c.lastErr,
		Completed:   c.completed,
	}
	if c.inbox != nil {
		st.InboxDepth = c.inbox.Len()
		st.InboxCapacity = c.inbox.Cap()
	}
	if c.dispatcher != nil {
		st.Dispatched = c.dispatcher.Processed()
	}
	return st
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// startRunLocked creates the inbox and dispatcher for a new run.
func (c *Client) startRunLocked() {
	c.endRunLocked()
	c.run++

	inbox := queue.NewInMemoryQueue[signal](queue.WithCapacity(c.cfg.InboxSize))
	ctx, cancel := context.WithCancel(context.Background())
	w := worker.NewInMemoryWorker[signal](inbox, worker.HandlerFunc[signal](c.handle),
		worker.WithName("stream-dispatcher"), worker.WithLogger(c.logger))

	c.inbox = inbox
	c.dispatcher = w
	c.runCancel = cancel
	go func() {
		w.Run(ctx)
		cancel()
	}()
}

// endRunLocked closes the current inbox; the dispatcher exits once it drains
// the in-flight signal.
func (c *Client) endRunLocked() {
	if c.inbox != nil {
		_ = c.inbox.Close()
		c.inbox = nil
	}
	if c.dispatcher != nil {
		go c.awaitDispatcher(c.dispatcher)
		c.dispatcher = nil
	}
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
}

// awaitDispatcher waits for a retired dispatcher to stop. The in-flight
// handler may need c.mu, so this never runs under it.
func (c *Client) awaitDispatcher(w *worker.InMemoryWorker[signal]) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatcherStopTimeout)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		c.logger.Warn(ctx, "stream dispatcher did not stop", logger.Error(err))
		return
	}
	c.logger.Debug(ctx, "stream dispatcher stopped", logger.Any("signals", w.Processed()))
}

// dialLocked starts a connection attempt in state next.
func (c *Client) dialLocked(next State) {
	c.epoch++
	c.setStateLocked(next)

	ctx, cancel := context.WithCancel(context.Background())
	c.attempt = cancel

	run, epoch, inbox := c.run, c.epoch, c.inbox
	c.connectTimer = time.AfterFunc(c.cfg.ConnectTimeout, func() {
		post(ctx, inbox, signal{kind: sigConnectTimeout, run: run, epoch: epoch})
	})

	req := Request{JobID: c.jobID, URL: c.url, LastEventID: c.lastEventID}
	s := &sink{ctx: ctx, inbox: inbox, run: run, epoch: epoch}
	go func() {
		err := c.transport.Stream(ctx, req, s)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrStreamEnded
		}
		post(ctx, inbox, signal{kind: sigFailed, run: run, epoch: epoch, err: err})
	}()
}

// abortAttemptLocked cancels the live attempt and invalidates its signals.
func (c *Client) abortAttemptLocked() {
	if c.attempt != nil {
		c.attempt()
		c.attempt = nil
	}
	stopTimer(&c.connectTimer)
	stopTimer(&c.idleTimer)
	c.epoch++
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	metrics.UpdateStreamState(int(s))
}

// handle processes one inbox signal on the dispatcher goroutine.
func (c *Client) handle(ctx context.Context, sig signal) error {
	c.mu.Lock()
	if sig.run != c.run {
		c.mu.Unlock()
		return nil
	}

	var calls []func()
	switch sig.kind {
	case sigOpened:
		if sig.epoch == c.epoch && (c.state == StateConnecting || c.state == StateReconnecting) {
			c.markOpenLocked(ctx, &calls)
		}
	case sigMessage:
		if sig.epoch == c.epoch && c.state != StateClosed {
			c.onMessageLocked(ctx, sig.msg, &calls)
		}
	case sigFailed:
		if sig.epoch == c.epoch && c.state.Active() {
			c.failAttemptLocked(ctx, failure.New("stream", failure.KindTransport, sig.err), &calls)
		}
	case sigConnectTimeout:
		if sig.epoch == c.epoch {
			c.onConnectTimeoutLocked(ctx, &calls)
		}
	case sigRetry:
		if sig.epoch == c.epoch && c.state == StateReconnecting {
			c.logger.Info(ctx, "reconnecting", logger.Int("attempt", c.attempts), logger.String("job", c.jobID))
			c.dialLocked(StateReconnecting)
		}
	case sigIdle:
		if sig.epoch == c.epoch && c.state == StateConnected {
			c.onIdleLocked(ctx, &calls)
		}
	case sigClose:
		if c.state != StateClosed {
			c.closeLocked(ctx, nil, &calls)
		}
	}
	run := c.run
	c.mu.Unlock()

	c.dispatch(run, calls)
	return nil
}

// dispatch runs callbacks unless the run was torn down meanwhile.
func (c *Client) dispatch(run uint64, calls []func()) {
	if len(calls) == 0 {
		return
	}
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	for _, call := range calls {
		c.mu.Lock()
		current := c.run
		c.mu.Unlock()
		if current != run {
			return
		}
		call()
	}
}

func (c *Client) markOpenLocked(ctx context.Context, calls *[]func()) {
	stopTimer(&c.connectTimer)
	c.attempts = 0
	c.lastErr = nil
	c.setStateLocked(StateConnected)
	c.armIdleLocked()
	c.logger.Info(ctx, "stream connected", logger.String("job", c.jobID))
	*calls = append(*calls, func() { c.handler.OnOpen(ctx) })
}

func (c *Client) onMessageLocked(ctx context.Context, m Message, calls *[]func()) {
	if c.state != StateConnected {
		c.markOpenLocked(ctx, calls)
	}
	c.armIdleLocked()

	if m.Heartbeat {
		metrics.RecordHeartbeat()
		return
	}
	if m.ID != "" {
		if c.seen.SeenAndRecord(ctx, m.ID) {
			metrics.RecordReplayedEvent()
			c.logger.Debug(ctx, "skipping replayed event", logger.String("id", m.ID))
			return
		}
		c.lastEventID = m.ID
	}

	switch m.Event {
	case EventBatchComplete:
		var batch model.Batch
		if err := json.Unmarshal(m.Data, &batch); err != nil {
			c.parseErrorLocked(ctx, m, err, calls)
			return
		}
		*calls = append(*calls, func() { c.handler.OnBatch(ctx, batch) })

	case EventProgress:
		var p model.ProgressCount
		if err := json.Unmarshal(m.Data, &p); err != nil {
			c.parseErrorLocked(ctx, m, err, calls)
			return
		}
		*calls = append(*calls, func() { c.handler.OnProgress(ctx, p) })

	case EventComplete:
		msg := payloadMessage(m.Data)
		c.completed = true
		c.logger.Info(ctx, "job complete", logger.String("job", c.jobID))
		*calls = append(*calls, func() { c.handler.OnComplete(ctx, msg) })

		c.abortAttemptLocked()
		if c.cfg.CloseDelay <= 0 {
			c.closeLocked(ctx, nil, calls)
			return
		}
		run, inbox := c.run, c.inbox
		c.closeTimer = time.AfterFunc(c.cfg.CloseDelay, func() {
			post(context.Background(), inbox, signal{kind: sigClose, run: run})
		})

	case EventError:
		msg := payloadMessage(m.Data)
		if msg == "" {
			msg = "server reported a failure"
		}
		err := failure.New("stream", failure.KindJob, fmt.Errorf("%w: %s", ErrJobFailed, msg))
		c.closeLocked(ctx, err, calls)

	default:
		c.logger.Debug(ctx, "ignoring unknown event", logger.String("event", m.Event))
	}
}

func (c *Client) parseErrorLocked(ctx context.Context, m Message, err error, calls *[]func()) {
	metrics.RecordParseError()
	metrics.RecordStreamError(string(failure.KindParse))
	perr := failure.New("stream.decode", failure.KindParse, fmt.Errorf("%s event: %w", m.Event, err))
	c.warnEvery.Do(func() {
		c.logger.Warn(ctx, "malformed stream payload", logger.String("event", m.Event), logger.Error(err))
	})
	*calls = append(*calls, func() { c.handler.OnError(ctx, perr) })
}

// failAttemptLocked moves to Reconnecting, or closes once the automatic
// attempts are used up.
func (c *Client) failAttemptLocked(ctx context.Context, err error, calls *[]func()) {
	c.abortAttemptLocked()
	c.lastErr = err
	metrics.RecordStreamError(string(failure.KindOf(err)))

	if c.attempts >= c.cfg.MaxReconnectAttempts {
		cause := errors.Unwrap(err)
		if cause == nil {
			cause = err
		}
		exhausted := failure.New("stream", failure.KindReconnectExhausted,
			fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, c.attempts, cause))
		c.closeLocked(ctx, exhausted, calls)
		return
	}

	c.attempts++
	c.reconnects++
	metrics.RecordReconnectAttempt()
	c.setStateLocked(StateReconnecting)
	c.logger.Warn(ctx, "stream interrupted",
		logger.Int("attempt", c.attempts),
		logger.Int("max_attempts", c.cfg.MaxReconnectAttempts),
		logger.Duration("delay", c.cfg.ReconnectDelay),
		logger.Error(err),
	)

	run, epoch, inbox := c.run, c.epoch, c.inbox
	c.retryTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		post(context.Background(), inbox, signal{kind: sigRetry, run: run, epoch: epoch})
	})
	*calls = append(*calls, func() { c.handler.OnError(ctx, err) })
}

func (c *Client) onConnectTimeoutLocked(ctx context.Context, calls *[]func()) {
	err := failure.New("stream.connect", failure.KindTimeout,
		fmt.Errorf("%w after %s", ErrConnectTimeout, c.cfg.ConnectTimeout))
	switch c.state {
	case StateConnecting:
		metrics.RecordStreamError(string(failure.KindTimeout))
		c.closeLocked(ctx, err, calls)
	case StateReconnecting:
		c.failAttemptLocked(ctx, failure.New("stream.connect", failure.KindTransport, err), calls)
	}
}

func (c *Client) onIdleLocked(ctx context.Context, calls *[]func()) {
	err := failure.New("stream", failure.KindInactivity,
		fmt.Errorf("%w for %s", ErrInactive, c.cfg.InactivityTimeout))
	metrics.RecordStreamError(string(failure.KindInactivity))
	c.warnEvery.Do(func() {
		c.logger.Warn(ctx, "stream inactive", logger.String("job", c.jobID), logger.Duration("after", c.cfg.InactivityTimeout))
	})
	c.armIdleLocked()
	*calls = append(*calls, func() { c.handler.OnError(ctx, err) })
}

// closeLocked ends the run: the state becomes Closed and OnClose is the final
// callback.
func (c *Client) closeLocked(ctx context.Context, err error, calls *[]func()) {
	c.abortAttemptLocked()
	stopTimer(&c.retryTimer)
	stopTimer(&c.closeTimer)
	c.setStateLocked(StateClosed)
	if err != nil {
		c.lastErr = err
		c.logger.Error(ctx, "stream closed", logger.String("job", c.jobID), logger.Error(err))
		*calls = append(*calls, func() { c.handler.OnError(ctx, err) })
	} else {
		c.logger.Info(ctx, "stream closed", logger.String("job", c.jobID))
	}
	*calls = append(*calls, func() { c.handler.OnClose(ctx, err) })

	if c.inbox != nil {
		_ = c.inbox.Close()
		c.inbox = nil
	}
}

func (c *Client) armIdleLocked() {
	stopTimer(&c.idleTimer)
	if c.cfg.InactivityTimeout <= 0 {
		return
	}
	run, epoch, inbox := c.run, c.epoch, c.inbox
	c.idleTimer = time.AfterFunc(c.cfg.InactivityTimeout, func() {
		post(context.Background(), inbox, signal{kind: sigIdle, run: run, epoch: epoch})
	})
}

// sink forwards one attempt's transport signals to the inbox.
type sink struct {
	ctx   context.Context
	inbox *queue.InMemoryQueue[signal]
	run   uint64
	epoch uint64
}

func (s *sink) Opened() {
	post(s.ctx, s.inbox, signal{kind: sigOpened, run: s.run, epoch: s.epoch})
}

func (s *sink) Message(m Message) {
	post(s.ctx, s.inbox, signal{kind: sigMessage, run: s.run, epoch: s.epoch, msg: m})
}

func post(ctx context.Context, inbox *queue.InMemoryQueue[signal], sig signal) {
	if inbox == nil {
		return
	}
	inbox.Enqueue(ctx, sig)
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// payloadMessage extracts an optional human-readable message from a complete
// or error payload.
func payloadMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
