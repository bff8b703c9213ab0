package netpro

import "time"

// ============================================================================
// Reconnect Policy
// ============================================================================

// Defaults applied by ReconnectPolicy.withDefaults.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxAttempts  = 10
)

// ReconnectPolicy controls automatic reconnection for the streaming
// clients. The delay before attempt n+1 is the attempt-n delay times
// Multiplier, clamped to [InitialDelay, MaxDelay]; a successful connection
// resets the sequence.
type ReconnectPolicy struct {
	// InitialDelay is the wait before the first reconnect attempt.
	InitialDelay time.Duration

	// MaxDelay caps the growth of the backoff delay.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Values
	// below 1 fall back to the default.
	Multiplier float64

	// MaxAttempts bounds consecutive failed attempts before the client
	// gives up and moves to StateFailed. Zero falls back to
	// DefaultMaxAttempts; negative means unlimited.
	MaxAttempts int
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// unlimited reports whether the attempt budget is unbounded.
func (p ReconnectPolicy) unlimited() bool { return p.MaxAttempts < 0 }

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks the attempt counter and the current backoff delay for
// one client. It is not safe for concurrent use; the owning client
// serializes access behind its own mutex.
type reconnector struct {
	policy  ReconnectPolicy
	base    time.Duration // current base delay, server retry hints move it
	delay   time.Duration // delay the next attempt will wait
	attempt int
}

func newReconnector(p ReconnectPolicy) *reconnector {
	p = p.withDefaults()
	return &reconnector{policy: p, base: p.InitialDelay, delay: p.InitialDelay}
}

// exhausted reports whether the attempt budget has been used up.
func (r *reconnector) exhausted() bool {
	return !r.policy.unlimited() && r.attempt >= r.policy.MaxAttempts
}

// next returns the delay for the upcoming attempt, counts the attempt, and
// advances the delay for the one after it. The sequence is monotonically
// non-decreasing and never exceeds MaxDelay.
func (r *reconnector) next() time.Duration {
	d := r.delay
	r.attempt++
	grown := time.Duration(float64(r.delay) * r.policy.Multiplier)
	if grown > r.policy.MaxDelay {
		grown = r.policy.MaxDelay
	}
	if grown < r.base {
		grown = r.base
	}
	r.delay = grown
	return d
}

// reset restores the initial delay and clears the attempt counter. Called
// after every successful connection.
func (r *reconnector) reset() {
	r.attempt = 0
	r.delay = r.base
}

// setBase installs a new base delay, used when an SSE server sends a retry
// hint. Hints only arrive over a live connection, after the sequence has
// been reset, so the next delay restarts from the new base; the growth
// formula and MaxDelay clamp apply unchanged from there.
func (r *reconnector) setBase(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	r.base = d
	r.delay = d
}
