package netpro

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Configuration
// ============================================================================

// SSEConfig configures an SSEClient. The zero value is usable; defaults
// fill in anything unset.
type SSEConfig struct {
	// Headers are sent with every (re)connect request, in addition to the
	// Accept, Cache-Control, and Last-Event-ID headers the client owns.
	Headers http.Header

	// LastEventID seeds the resumption hint before the first connect.
	LastEventID string

	// AutoReconnect turns on the reconnect machinery.
	AutoReconnect bool

	// Reconnect shapes the backoff between attempts. A server retry hint
	// overrides its base delay.
	Reconnect ReconnectPolicy

	// MaxBufferSize caps the parser's unterminated-line buffer.
	MaxBufferSize int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (c *SSEConfig) defaults() {
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	c.Reconnect = c.Reconnect.withDefaults()
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ============================================================================
// SSEClient
// ============================================================================

// SSEClient consumes a Server-Sent-Events stream over a long-lived HTTP
// GET. It feeds every received chunk through an EventStreamParser,
// remembers the last event id across reconnects as the resumption hint,
// and reconnects automatically with exponential backoff, honoring
// server-directed retry hints.
type SSEClient struct {
	connCore
	config *SSEConfig

	// lastEventID, body, and cancelReq are guarded by connCore.mu.
	lastEventID string
	body        io.ReadCloser
	cancelReq   context.CancelFunc

	eventHandlers handlerList[Event]

	events    atomic.Uint64
	overflows atomic.Uint64
}

// NewSSE builds a client for the given endpoint. The client starts
// disconnected; nothing happens until Connect.
func NewSSE(rawURL string, config *SSEConfig) *SSEClient {
	cfg := SSEConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	c := &SSEClient{
		connCore: newConnCore(rawURL, cfg.AutoReconnect, cfg.Reconnect, cfg.Logger),
		config:   &cfg,
	}
	c.lastEventID = cfg.LastEventID
	return c
}

// OnEvent registers a handler for flushed events. Handlers run
// synchronously on the receive loop, in registration order, and must not
// call Connect or Disconnect; spawn a goroutine for that.
func (c *SSEClient) OnEvent(fn func(Event)) { c.eventHandlers.add(fn) }

// LastEventID returns the current resumption hint, the id of the most
// recently flushed event that carried one.
func (c *SSEClient) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// Connect opens the stream and starts the receive loop. It is an
// idempotent no-op when already connected and returns a ConnectionError
// wrapping ErrAlreadyConnecting while another lifecycle cycle is in
// flight. On an initial failure the error is returned and, with
// AutoReconnect on, recovery continues in the background. The given
// context bounds only the handshake; an established stream lives until
// Disconnect.
func (c *SSEClient) Connect(ctx context.Context) error {
	sessCtx, already, err := c.beginConnect()
	if already || err != nil {
		return err
	}
	if oerr := c.open(ctx, sessCtx); oerr != nil {
		delay, retry := c.failAndMaybeRetry(sessCtx, oerr, nil)
		if retry {
			go c.retryLoop(sessCtx, delay)
		}
		return oerr
	}
	return nil
}

// Disconnect closes the stream and cancels any pending reconnect. The
// client always ends up in StateDisconnected.
func (c *SSEClient) Disconnect() error {
	return c.disconnect(func() error {
		c.mu.Lock()
		body := c.body
		cancel := c.cancelReq
		c.body = nil
		c.cancelReq = nil
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if body != nil {
			_ = body.Close()
		}
		return nil
	})
}

// Stats returns a snapshot of the client's counters.
func (c *SSEClient) Stats() Stats {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	return Stats{
		State:          state,
		EventsReceived: c.events.Load(),
		Reconnects:     c.reconnects.Load(),
		ParseOverflows: c.overflows.Load(),
	}
}

// ── Connection machinery ─────────────────────────────────

// open issues the streaming GET and validates the response. reqCtx bounds
// the handshake; the stream itself is tied to the session so a caller's
// short-lived context cannot tear down an established connection.
func (c *SSEClient) open(reqCtx, sessCtx context.Context) error {
	connCtx, connCancel := context.WithCancel(sessCtx)
	stop := context.AfterFunc(reqCtx, connCancel)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.url, nil)
	if err != nil {
		stop()
		connCancel()
		return connErr("connect", c.url, err)
	}
	for k, vs := range c.config.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.mu.Lock()
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		stop()
		connCancel()
		return connErr("connect", c.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		stop()
		connCancel()
		return &InvalidResponseError{StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, perr := mime.ParseMediaType(ct); perr != nil || mt != "text/event-stream" {
		resp.Body.Close()
		stop()
		connCancel()
		return &InvalidResponseError{StatusCode: resp.StatusCode, ContentType: ct}
	}

	err = c.completeConnect(sessCtx, func() error {
		c.body = resp.Body
		c.cancelReq = connCancel
		return nil
	})
	if err != nil {
		resp.Body.Close()
		stop()
		connCancel()
		return err
	}
	// The handshake is done; detach the stream from the caller's context.
	stop()

	go c.readLoop(sessCtx, resp.Body)
	return nil
}

// readLoop feeds body chunks through the parser for the lifetime of one
// connection. A read error, end of stream included, takes the failure
// path, which may keep the same goroutine alive as the reconnect driver.
func (c *SSEClient) readLoop(sessCtx context.Context, body io.ReadCloser) {
	defer body.Close()
	parser := NewEventStreamParser(c.config.MaxBufferSize)
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			events, perr := parser.Feed(buf[:n])
			if perr != nil {
				c.overflows.Add(1)
				c.logger.Warn("event stream buffer overflow, partial data discarded",
					zap.String("url", c.url))
				c.emitError(perr)
			}
			for _, ev := range events {
				c.deliver(ev)
			}
		}
		if err != nil {
			delay, retry := c.failAndMaybeRetry(sessCtx, connErr("read", c.url, err), func() {
				if c.cancelReq != nil {
					c.cancelReq()
					c.cancelReq = nil
				}
				c.body = nil
			})
			if retry {
				c.retryLoop(sessCtx, delay)
			}
			return
		}
	}
}

// deliver applies an event's side effects and dispatches it. An id field
// moves the resumption hint; a retry field rebases the backoff.
func (c *SSEClient) deliver(ev Event) {
	c.mu.Lock()
	if ev.ID != "" {
		c.lastEventID = ev.ID
	}
	if ev.Retry > 0 {
		c.recon.setBase(ev.Retry)
	}
	c.mu.Unlock()
	if ev.Retry > 0 {
		c.logger.Debug("server retry hint", zap.Duration("delay", ev.Retry))
	}
	c.events.Add(1)

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	for _, h := range c.eventHandlers.snapshot() {
		h(ev)
	}
}

// retryLoop waits out backoff delays and reopens the stream until a
// connect succeeds, the budget is spent, or the session is cancelled.
func (c *SSEClient) retryLoop(sessCtx context.Context, delay time.Duration) {
	for {
		if !c.retryWait(sessCtx, delay) {
			return
		}
		err := c.open(sessCtx, sessCtx)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) && sessCtx.Err() != nil {
			return
		}
		var retry bool
		delay, retry = c.failAndMaybeRetry(sessCtx, err, nil)
		if !retry {
			return
		}
	}
}
