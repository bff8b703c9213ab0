package netpro

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Messages
// ============================================================================

// MessageType discriminates the two WebSocket payload kinds.
type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

func (t MessageType) wsType() websocket.MessageType {
	if t == MessageBinary {
		return websocket.MessageBinary
	}
	return websocket.MessageText
}

func messageTypeFromWS(t websocket.MessageType) MessageType {
	if t == websocket.MessageBinary {
		return MessageBinary
	}
	return MessageText
}

// Message is a single inbound or outbound WebSocket message. A Message is
// immutable once constructed; ownership passes to the transport on Send
// and to the handler on receipt.
type Message struct {
	Type MessageType
	Data []byte
}

// TextMessage builds a text message from s.
func TextMessage(s string) Message {
	return Message{Type: MessageText, Data: []byte(s)}
}

// BinaryMessage builds a binary message from b.
func BinaryMessage(b []byte) Message {
	return Message{Type: MessageBinary, Data: b}
}

// Text returns the payload as a string.
func (m Message) Text() string { return string(m.Data) }

// ============================================================================
// Close Codes
// ============================================================================

// CloseCode is an RFC 6455 close status code.
type CloseCode int

const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolError           CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseReserved                CloseCode = 1004
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalServerErr       CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseBadGateway              CloseCode = 1014
	CloseTLSHandshake            CloseCode = 1015
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal closure"
	case CloseGoingAway:
		return "going away"
	case CloseProtocolError:
		return "protocol error"
	case CloseUnsupportedData:
		return "unsupported data"
	case CloseReserved:
		return "reserved"
	case CloseNoStatusReceived:
		return "no status received"
	case CloseAbnormalClosure:
		return "abnormal closure"
	case CloseInvalidFramePayloadData:
		return "invalid frame payload data"
	case ClosePolicyViolation:
		return "policy violation"
	case CloseMessageTooBig:
		return "message too big"
	case CloseMandatoryExtension:
		return "mandatory extension"
	case CloseInternalServerErr:
		return "internal server error"
	case CloseServiceRestart:
		return "service restart"
	case CloseTryAgainLater:
		return "try again later"
	case CloseBadGateway:
		return "bad gateway"
	case CloseTLSHandshake:
		return "TLS handshake failure"
	default:
		return fmt.Sprintf("CloseCode(%d)", int(c))
	}
}

// ============================================================================
// Configuration
// ============================================================================

// WebSocketConfig configures a WebSocketClient. The zero value is usable;
// defaults fill in anything unset.
type WebSocketConfig struct {
	// Headers are sent with the upgrade request.
	Headers http.Header

	// Subprotocols to offer during the handshake.
	Subprotocols []string

	// PingInterval spaces the keepalive pings. Zero selects the default,
	// negative disables keepalive entirely.
	PingInterval time.Duration

	// PingTimeout bounds the wait for a pong before the connection is
	// declared dead.
	PingTimeout time.Duration

	// AutoReconnect turns on the reconnect machinery.
	AutoReconnect bool

	// Reconnect shapes the backoff between attempts.
	Reconnect ReconnectPolicy

	// QueueCapacity bounds the outbound queue used while not connected.
	// Zero selects the default, negative disables queueing.
	QueueCapacity int

	// MaxMessageSize raises the inbound message size limit when positive.
	MaxMessageSize int64

	// HTTPClient performs the upgrade request.
	HTTPClient *http.Client

	Logger *zap.Logger
}

func (c *WebSocketConfig) defaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 64
	}
	if c.QueueCapacity < 0 {
		c.QueueCapacity = 0
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
// WebSocketClient
// ============================================================================

// WebSocketClient is a bidirectional streaming client with keepalive,
// bounded outbound queueing while disconnected, and automatic reconnection
// with exponential backoff.
//
// Messages sent while not connected are queued up to QueueCapacity and
// drained in FIFO order the moment a connection is (re)established, before
// any newer send reaches the transport.
type WebSocketClient struct {
	connCore
	config *WebSocketConfig

	// conn and queue are guarded by connCore.mu.
	conn  *websocket.Conn
	queue []Message

	msgHandlers handlerList[Message]

	sent     atomic.Uint64
	received atomic.Uint64
}

// NewWebSocket builds a client for the given endpoint. http and https
// URLs are accepted and mapped to their WebSocket schemes. The client
// starts disconnected; nothing happens until Connect.
func NewWebSocket(rawURL string, config *WebSocketConfig) *WebSocketClient {
	cfg := WebSocketConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &WebSocketClient{
		connCore: newConnCore(normalizeWSURL(rawURL), cfg.AutoReconnect, cfg.Reconnect, cfg.Logger),
		config:   &cfg,
	}
}

// OnMessage registers a handler for inbound messages. Handlers run
// synchronously on the receive loop, in registration order, and must not
// call Connect or Disconnect; spawn a goroutine for that.
func (c *WebSocketClient) OnMessage(fn func(Message)) { c.msgHandlers.add(fn) }

// Connect opens the connection and starts the receive and keepalive
// loops. It is an idempotent no-op when already connected and returns a
// ConnectionError wrapping ErrAlreadyConnecting while another lifecycle
// cycle is in flight. On a handshake failure the error is returned and,
// with AutoReconnect on, recovery continues in the background.
func (c *WebSocketClient) Connect(ctx context.Context) error {
	sessCtx, already, err := c.beginConnect()
	if already || err != nil {
		return err
	}
	if derr := c.dial(ctx, sessCtx); derr != nil {
		cause := connErr("dial", c.url, derr)
		delay, retry := c.failAndMaybeRetry(sessCtx, cause, nil)
		if retry {
			go c.retryLoop(sessCtx, delay)
		}
		return cause
	}
	return nil
}

// Disconnect closes the connection with the given close code and reason
// and cancels any pending reconnect. The client always ends up in
// StateDisconnected; the outbound queue is cleared. A zero code closes
// with CloseNormalClosure.
func (c *WebSocketClient) Disconnect(code CloseCode, reason string) error {
	if code == 0 {
		code = CloseNormalClosure
	}
	return c.disconnect(func() error {
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.queue = nil
		c.mu.Unlock()
		if conn == nil {
			return nil
		}
		if err := conn.Close(websocket.StatusCode(code), reason); err != nil {
			return connErr("close", c.url, err)
		}
		return nil
	})
}

// Send writes the message immediately when connected. Otherwise it joins
// the bounded outbound queue and is delivered on the next (re)connect;
// a full queue fails fast with ErrQueueFull and evicts nothing. Transport
// errors on an established connection are recovered by the reconnect
// machinery, so the message is re-queued rather than lost, and the error
// reaches OnError handlers instead of the caller.
func (c *WebSocketClient) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		err := c.enqueueLocked(msg)
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	err := conn.Write(ctx, msg.Type.wsType(), msg.Data)
	if err == nil {
		c.sent.Add(1)
		return nil
	}
	if ctx.Err() != nil {
		// The caller's own context expired; that is their error, not a
		// transport failure.
		return connErr("write", c.url, err)
	}
	c.emitError(connErr("write", c.url, err))
	c.mu.Lock()
	qerr := c.enqueueLocked(msg)
	c.mu.Unlock()
	return qerr
}

// SendText sends a text message.
func (c *WebSocketClient) SendText(ctx context.Context, s string) error {
	return c.Send(ctx, TextMessage(s))
}

// SendBinary sends a binary message.
func (c *WebSocketClient) SendBinary(ctx context.Context, b []byte) error {
	return c.Send(ctx, BinaryMessage(b))
}

func (c *WebSocketClient) enqueueLocked(msg Message) error {
	if len(c.queue) >= c.config.QueueCapacity {
		return ErrQueueFull
	}
	c.queue = append(c.queue, msg)
	return nil
}

// Ping sends a protocol-level ping and waits for the pong.
func (c *WebSocketClient) Ping(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Ping(ctx); err != nil {
		return connErr("ping", c.url, err)
	}
	return nil
}

// Subprotocol returns the subprotocol negotiated during the handshake,
// empty when not connected or none was agreed.
func (c *WebSocketClient) Subprotocol() string {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ""
	}
	return conn.Subprotocol()
}

// QueueLen reports how many messages are waiting for the next connect.
func (c *WebSocketClient) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Stats returns a snapshot of the client's counters.
func (c *WebSocketClient) Stats() Stats {
	c.mu.Lock()
	state := c.state
	queued := len(c.queue)
	c.mu.Unlock()
	return Stats{
		State:            state,
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		Reconnects:       c.reconnects.Load(),
		Queued:           queued,
	}
}

// ── Connection machinery ─────────────────────────────────

func (c *WebSocketClient) dial(dialCtx, sessCtx context.Context) error {
	opts := &websocket.DialOptions{
		HTTPClient:   c.config.HTTPClient,
		HTTPHeader:   c.config.Headers,
		Subprotocols: c.config.Subprotocols,
	}
	conn, _, err := websocket.Dial(dialCtx, c.url, opts)
	if err != nil {
		return err
	}
	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}

	err = c.completeConnect(sessCtx, func() error {
		c.conn = conn
		for len(c.queue) > 0 {
			m := c.queue[0]
			if werr := conn.Write(sessCtx, m.Type.wsType(), m.Data); werr != nil {
				c.conn = nil
				return fmt.Errorf("drain queued message: %w", werr)
			}
			c.queue = c.queue[1:]
			c.sent.Add(1)
		}
		return nil
	})
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "")
		return err
	}

	go c.readLoop(sessCtx, conn)
	if c.config.PingInterval > 0 {
		go c.keepaliveLoop(sessCtx, conn)
	}
	return nil
}

// readLoop decodes inbound frames for the lifetime of one connection and
// hands a fatal read error to the failure path, which may keep the same
// goroutine alive as the reconnect driver.
func (c *WebSocketClient) readLoop(sessCtx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(sessCtx)
		if err != nil {
			delay, retry := c.failAndMaybeRetry(sessCtx, connErr("read", c.url, err), func() {
				if c.conn == conn {
					c.conn = nil
				}
			})
			_ = conn.Close(websocket.StatusGoingAway, "")
			if retry {
				c.retryLoop(sessCtx, delay)
			}
			return
		}
		c.received.Add(1)
		c.emitMessage(Message{Type: messageTypeFromWS(typ), Data: data})
	}
}

func (c *WebSocketClient) emitMessage(msg Message) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	for _, h := range c.msgHandlers.snapshot() {
		h(msg)
	}
}

// keepaliveLoop pings on a fixed interval. A missed pong counts as a dead
// connection: the transport is closed so the read loop observes the
// failure and drives recovery.
func (c *WebSocketClient) keepaliveLoop(sessCtx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sessCtx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(sessCtx, c.config.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if sessCtx.Err() != nil {
					return
				}
				c.logger.Warn("keepalive ping failed", zap.String("url", c.url), zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				return
			}
		}
	}
}

// retryLoop waits out backoff delays and redials until a connect succeeds,
// the budget is spent, or the session is cancelled.
func (c *WebSocketClient) retryLoop(sessCtx context.Context, delay time.Duration) {
	for {
		if !c.retryWait(sessCtx, delay) {
			return
		}
		err := c.dial(sessCtx, sessCtx)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) && sessCtx.Err() != nil {
			return
		}
		var retry bool
		delay, retry = c.failAndMaybeRetry(sessCtx, connErr("dial", c.url, err), nil)
		if !retry {
			return
		}
	}
}

// normalizeWSURL maps http(s) schemes onto their WebSocket equivalents so
// callers can pass either form.
func normalizeWSURL(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
