package netpro

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel Errors
// ============================================================================

var (
	// ErrQueueFull is returned by Send when the outbound queue is at
	// capacity. Queued messages are never evicted to make room.
	ErrQueueFull = errors.New("netpro: outbound queue full")

	// ErrReconnectLimit is reported through error handlers once the
	// reconnect attempt budget is exhausted. The client moves to
	// StateFailed and stays there until a fresh Connect.
	ErrReconnectLimit = errors.New("netpro: reconnect attempt limit reached")

	// ErrParseBufferOverflow is reported when a single event-stream line
	// grows past the parser's buffer limit. The buffered partial data is
	// discarded and the stream continues; the connection stays up.
	ErrParseBufferOverflow = errors.New("netpro: event stream line exceeds buffer limit")

	// ErrAlreadyConnecting is returned by Connect, wrapped in a
	// ConnectionError, while a connect, reconnect, or disconnect cycle
	// is still in flight.
	ErrAlreadyConnecting = errors.New("netpro: connection attempt already in progress")

	// ErrNotConnected is returned by operations that need an established
	// connection, such as Ping.
	ErrNotConnected = errors.New("netpro: not connected")
)

// ============================================================================
// Error Types
// ============================================================================

// ConnectionError reports a transport-level failure while establishing or
// maintaining a connection.
type ConnectionError struct {
	URL string
	Op  string // "connect", "dial", "read", "write", "ping", "close"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("netpro: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func connErr(op, url string, err error) *ConnectionError {
	return &ConnectionError{URL: url, Op: op, Err: err}
}

// InvalidResponseError reports an HTTP response that cannot carry an
// event stream: a non-200 status or a content type other than
// text/event-stream.
type InvalidResponseError struct {
	StatusCode  int
	ContentType string
}

func (e *InvalidResponseError) Error() string {
	if e.StatusCode != http.StatusOK {
		return fmt.Sprintf("netpro: event stream rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("netpro: unexpected content type %q for event stream", e.ContentType)
}

// APIError is returned by the HTTP convenience methods when a response
// carries a non-success status and the caller asked for a decoded body.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *APIError) Error() string {
	if len(e.Body) > 0 {
		return fmt.Sprintf("netpro: request failed: %s: %s", e.Status, truncate(e.Body, 200))
	}
	return fmt.Sprintf("netpro: request failed: %s", e.Status)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
