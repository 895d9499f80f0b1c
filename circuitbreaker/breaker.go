// Package circuitbreaker implements the three-state (CLOSED/OPEN/HALF_OPEN)
// guard shared by Broker and DBProxy: atomic consecutive-failure and
// consecutive-success counters plus an atomic "state changed at" timestamp,
// generalized from a binary ban into a full three-state machine per target.
package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// State is one of the three circuit states.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds the thresholds of defaults.
type Config struct {
	FailureThreshold int           // consecutive failures to trip CLOSED -> OPEN
	Timeout          time.Duration // time OPEN must elapse before a HALF_OPEN probe
	SuccessThreshold int           // consecutive HALF_OPEN successes to close
}

// DefaultConfig matches stated defaults.
var DefaultConfig = Config{
	FailureThreshold: 5,
	Timeout:          60 * time.Second,
	SuccessThreshold: 3,
}

// Breaker guards a single downstream target. Safe for concurrent use.
type Breaker struct {
	target string
	cfg    Config

	state             atomic.Int32
	consecutiveFails  atomic.Int32
	consecutiveOK     atomic.Int32
	stateChangedAtUTC atomic.Int64 // UnixNano
}

// New returns a Breaker for target in the CLOSED state.
func New(target string, cfg Config) *Breaker {
	b := &Breaker{target: target, cfg: cfg}
	b.state.Store(int32(Closed))
	b.stateChangedAtUTC.Store(time.Now().UnixNano())
	return b
}

// Target returns the name this breaker guards.
func (b *Breaker) Target() string { return b.target }

// State returns the breaker's current state, promoting OPEN to HALF_OPEN if
// the configured timeout has elapsed since it tripped.
func (b *Breaker) State() State {
	current := State(b.state.Load())
	if current != Open {
		return current
	}
	changedAt := time.Unix(0, b.stateChangedAtUTC.Load())
	if time.Since(changedAt) < b.cfg.Timeout {
		return Open
	}
	// Attempt the CAS from Open to HalfOpen; only one caller performs the
	// transition and resets the success counter. Once HALF_OPEN, Allow
	// admits every call until RegisterSuccess or RegisterFailure moves the
	// breaker on.
	if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
		b.stateChangedAtUTC.Store(time.Now().UnixNano())
		b.consecutiveOK.Store(0)
	}
	return State(b.state.Load())
}

// Allow reports whether a call to the target may proceed right now. It has
// the side effect of promoting OPEN to HALF_OPEN once the timeout elapses.
func (b *Breaker) Allow() bool {
	return b.State() != Open
}

func (b *Breaker) trip() {
	if b.state.Swap(int32(Open)) != int32(Open) {
		b.stateChangedAtUTC.Store(time.Now().UnixNano())
	}
	b.consecutiveFails.Store(0)
	b.consecutiveOK.Store(0)
}

func (b *Breaker) close() {
	if b.state.Swap(int32(Closed)) != int32(Closed) {
		b.stateChangedAtUTC.Store(time.Now().UnixNano())
	}
	b.consecutiveFails.Store(0)
	b.consecutiveOK.Store(0)
}

// RegisterFailure records a failed call. In CLOSED, it resets the success
// counter and trips to OPEN once FailureThreshold consecutive failures are
// reached. In HALF_OPEN, any failure re-opens the circuit immediately.
func (b *Breaker) RegisterFailure() {
	switch State(b.state.Load()) {
	case HalfOpen:
		b.trip()
	case Open:
		// Failures registered while tripped are ignored.
	default: // Closed
		fails := b.consecutiveFails.Add(1)
		b.consecutiveOK.Store(0)
		if int(fails) >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// RegisterSuccess records a successful call. In CLOSED, it resets the
// failure counter. In HALF_OPEN, it counts toward SuccessThreshold and
// closes the circuit once reached.
func (b *Breaker) RegisterSuccess() {
	switch State(b.state.Load()) {
	case HalfOpen:
		ok := b.consecutiveOK.Add(1)
		if int(ok) >= b.cfg.SuccessThreshold {
			b.close()
		}
	case Closed:
		b.consecutiveFails.Store(0)
	}
}

// Snapshot is a point-in-time, read-only view of a breaker's counters, used
// by the /status observability endpoint.
type Snapshot struct {
	Target           string    `json:"target"`
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	ConsecutiveOK    int       `json:"consecutiveOk"`
	StateChangedAt   time.Time `json:"stateChangedAt"`
}

// Snapshot returns the breaker's current counters.
func (b *Breaker) Snapshot() Snapshot {
	return Snapshot{
		Target:           b.target,
		State:            b.State().String(),
		ConsecutiveFails: int(b.consecutiveFails.Load()),
		ConsecutiveOK:    int(b.consecutiveOK.Load()),
		StateChangedAt:   time.Unix(0, b.stateChangedAtUTC.Load()),
	}
}
