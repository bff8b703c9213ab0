package netpro

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState identifies a streaming client's position in its connection
// lifecycle. A client is in exactly one state at any time and transitions
// are serialized, never concurrent.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// StateChange describes one transition observed by an OnState handler.
// Err is non-nil only when To is StateFailed.
type StateChange struct {
	From ConnState
	To   ConnState
	Err  error
}

// validTransition reports whether the lifecycle permits moving between two
// states. StateFailed is escaped only by a fresh Connect, and an explicit
// Disconnect passes through StateDisconnecting from every live state.
func validTransition(from, to ConnState) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateReconnecting ||
			to == StateFailed || to == StateDisconnecting
	case StateConnected:
		return to == StateReconnecting || to == StateFailed || to == StateDisconnecting
	case StateDisconnecting:
		return to == StateDisconnected
	case StateReconnecting:
		return to == StateConnecting || to == StateFailed || to == StateDisconnecting
	case StateFailed:
		return to == StateConnecting
	default:
		return false
	}
}

// ============================================================================
// Handler Registration
// ============================================================================

// handlerList holds registered callbacks of one shape. Registration may
// happen at any time, including while connected; invocation order always
// matches registration order.
type handlerList[T any] struct {
	mu  sync.RWMutex
	fns []func(T)
}

func (l *handlerList[T]) add(fn func(T)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

func (l *handlerList[T]) snapshot() []func(T) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]func(T), len(l.fns))
	copy(out, l.fns)
	return out
}

// ============================================================================
// Connection Core
// ============================================================================

// connCore is the connection lifecycle shared by the streaming clients:
// current state, reconnect bookkeeping, session cancellation, and the
// state/error observer lists. Each client embeds one and drives its own
// transport around it.
//
// Locking discipline: mu guards the mutable fields and is never held while
// user callbacks run. dispatchMu serializes every callback batch for the
// client, so handlers of any kind never run concurrently with each other,
// and is always acquired before mu when both are needed. Handlers must not
// call the client's own Connect or Disconnect synchronously; spawn a
// goroutine for that.
type connCore struct {
	url    string
	logger *zap.Logger
	auto   bool
	recon  *reconnector

	mu       sync.Mutex
	state    ConnState
	lastErr  error
	closing  bool
	cancelFn context.CancelFunc

	dispatchMu sync.Mutex

	stateHandlers handlerList[StateChange]
	errHandlers   handlerList[error]

	reconnects atomic.Uint64
}

func newConnCore(url string, auto bool, policy ReconnectPolicy, logger *zap.Logger) connCore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return connCore{
		url:    url,
		logger: logger,
		auto:   auto,
		recon:  newReconnector(policy),
		state:  StateDisconnected,
	}
}

// URL returns the endpoint the client was built for.
func (c *connCore) URL() string { return c.url }

// State returns the current connection state.
func (c *connCore) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the client to StateFailed, nil in every
// other state.
func (c *connCore) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		return nil
	}
	return c.lastErr
}

// OnState registers a handler for connection state changes. Handlers run
// synchronously on the transitioning goroutine, in registration order,
// and must not call the client's own Connect or Disconnect; spawn a
// goroutine for that.
func (c *connCore) OnState(fn func(StateChange)) { c.stateHandlers.add(fn) }

// OnError registers a handler for transport and parse errors that are
// recovered internally rather than returned from a call. Handlers must
// not call the client's own Connect or Disconnect; spawn a goroutine for
// that.
func (c *connCore) OnError(fn func(error)) { c.errHandlers.add(fn) }

// transitionLocked flips the state while both dispatchMu and mu are held
// and reports the state it left. Invalid edges leave the machine untouched.
func (c *connCore) transitionLocked(to ConnState, err error) (ConnState, bool) {
	from := c.state
	if !validTransition(from, to) {
		c.logger.Warn("invalid state transition",
			zap.Stringer("from", from), zap.Stringer("to", to))
		return from, false
	}
	c.state = to
	if to == StateFailed {
		c.lastErr = err
	}
	return from, true
}

// emitStateChange runs the state handlers. Caller holds dispatchMu.
func (c *connCore) emitStateChange(change StateChange) {
	c.logger.Debug("state change",
		zap.Stringer("from", change.From), zap.Stringer("to", change.To))
	for _, h := range c.stateHandlers.snapshot() {
		h(change)
	}
}

// emitError notifies error handlers of a recovered error.
func (c *connCore) emitError(err error) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	for _, h := range c.errHandlers.snapshot() {
		h(err)
	}
}

// beginConnect validates a Connect call and enters StateConnecting.
// Returns already=true as the idempotent no-op when the client is
// connected, or a ConnectionError wrapping ErrAlreadyConnecting while
// another lifecycle cycle is in flight. On success the returned context
// spans the whole session, reconnects included, and is cancelled by
// Disconnect.
func (c *connCore) beginConnect() (sessCtx context.Context, already bool, err error) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil, true, nil
	case StateConnecting, StateReconnecting, StateDisconnecting:
		c.mu.Unlock()
		return nil, false, connErr("connect", c.url, ErrAlreadyConnecting)
	}
	from, _ := c.transitionLocked(StateConnecting, nil)
	c.lastErr = nil
	c.closing = false
	c.recon.reset()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFn = cancel
	c.mu.Unlock()

	c.emitStateChange(StateChange{From: from, To: StateConnecting})
	return ctx, false, nil
}

// completeConnect finalizes a successful transport handshake. install runs
// with both locks held so nothing can slip in between transport
// installation (including the queued-message drain) and the connected
// transition. Returns context.Canceled when a disconnect won the race.
func (c *connCore) completeConnect(sessCtx context.Context, install func() error) error {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	if c.closing || sessCtx.Err() != nil {
		c.mu.Unlock()
		return context.Canceled
	}
	if install != nil {
		if err := install(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	from, _ := c.transitionLocked(StateConnected, nil)
	c.recon.reset()
	c.mu.Unlock()

	c.logger.Info("connected", zap.String("url", c.url))
	c.emitStateChange(StateChange{From: from, To: StateConnected})
	return nil
}

// failAndMaybeRetry handles a transport-level failure: it notifies error
// handlers with the cause, then moves to StateReconnecting and returns the
// backoff delay for the next attempt, or moves to StateFailed when
// reconnection is off or the attempt budget is spent. detach runs under mu
// so the caller can drop its dead transport atomically. A no-op when a
// disconnect already won.
func (c *connCore) failAndMaybeRetry(sessCtx context.Context, cause error, detach func()) (time.Duration, bool) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	if c.closing || sessCtx.Err() != nil {
		c.mu.Unlock()
		return 0, false
	}
	if detach != nil {
		detach()
	}
	var (
		delay    time.Duration
		to       ConnState
		terminal error
	)
	if !c.auto || c.recon.exhausted() {
		to = StateFailed
		terminal = cause
		if c.auto {
			terminal = ErrReconnectLimit
		}
	} else {
		delay = c.recon.next()
		to = StateReconnecting
	}
	from, _ := c.transitionLocked(to, terminal)
	attempt := c.recon.attempt
	c.mu.Unlock()

	errHandlers := c.errHandlers.snapshot()
	for _, h := range errHandlers {
		h(cause)
	}
	if terminal != nil && terminal != cause {
		for _, h := range errHandlers {
			h(terminal)
		}
	}
	c.emitStateChange(StateChange{From: from, To: to, Err: terminal})
	if to == StateReconnecting {
		c.logger.Info("scheduling reconnect",
			zap.String("url", c.url), zap.Int("attempt", attempt), zap.Duration("delay", delay))
	} else {
		c.logger.Warn("connection failed", zap.String("url", c.url), zap.Error(terminal))
	}
	return delay, to == StateReconnecting
}

// retryWait sleeps out one backoff delay, then re-enters StateConnecting.
// Returns false when the session was cancelled while waiting, which is how
// a disconnect during backoff wins over the pending reconnect.
func (c *connCore) retryWait(sessCtx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-sessCtx.Done():
		return false
	case <-timer.C:
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	if c.closing || sessCtx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	from, ok := c.transitionLocked(StateConnecting, nil)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.reconnects.Add(1)
	c.emitStateChange(StateChange{From: from, To: StateConnecting})
	return true
}

// disconnect drives the explicit teardown: StateDisconnecting, transport
// close via closeFn, session cancellation, StateDisconnected. It always
// wins over a pending reconnect and is a no-op when the client is already
// disconnected or failed.
func (c *connCore) disconnect(closeFn func() error) error {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateFailed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	cancel := c.cancelFn
	c.cancelFn = nil
	from, _ := c.transitionLocked(StateDisconnecting, nil)
	c.mu.Unlock()
	c.emitStateChange(StateChange{From: from, To: StateDisconnecting})

	var closeErr error
	if closeFn != nil {
		closeErr = closeFn()
	}
	if cancel != nil {
		cancel()
	}

	c.mu.Lock()
	c.transitionLocked(StateDisconnected, nil)
	c.mu.Unlock()
	c.emitStateChange(StateChange{From: StateDisconnecting, To: StateDisconnected})
	c.logger.Info("disconnected", zap.String("url", c.url))
	return closeErr
}
