package circuitbreaker

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

// TestCircuitBreakerLaw: after failureThreshold
// consecutive failures, the breaker trips OPEN and rejects calls until
// timeoutSeconds elapse, then moves to HALF_OPEN and admits probe calls,
// and returns to CLOSED only after successThreshold consecutive successes.
func TestCircuitBreakerLaw(t *testing.T) {
	c := qt.New(t)
	cfg := Config{FailureThreshold: 3, Timeout: 50 * time.Millisecond, SuccessThreshold: 2}
	b := New("central", cfg)

	c.Assert(b.Allow(), qt.IsTrue)
	b.RegisterFailure()
	b.RegisterFailure()
	c.Assert(b.State(), qt.Equals, Closed)
	b.RegisterFailure()
	c.Assert(b.State(), qt.Equals, Open)
	c.Assert(b.Allow(), qt.IsFalse)

	time.Sleep(60 * time.Millisecond)
	c.Assert(b.State(), qt.Equals, HalfOpen)
	c.Assert(b.Allow(), qt.IsTrue)

	b.RegisterSuccess()
	c.Assert(b.State(), qt.Equals, HalfOpen)
	b.RegisterSuccess()
	c.Assert(b.State(), qt.Equals, Closed)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	c := qt.New(t)
	cfg := Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond, SuccessThreshold: 1}
	b := New("replica", cfg)

	b.RegisterFailure()
	c.Assert(b.State(), qt.Equals, Open)
	time.Sleep(20 * time.Millisecond)
	c.Assert(b.State(), qt.Equals, HalfOpen)

	b.RegisterFailure()
	c.Assert(b.State(), qt.Equals, Open)
}

func TestCircuitBreakerClosedSuccessResetsFailureCounter(t *testing.T) {
	c := qt.New(t)
	cfg := Config{FailureThreshold: 2, Timeout: time.Second, SuccessThreshold: 1}
	b := New("central", cfg)

	b.RegisterFailure()
	b.RegisterSuccess()
	b.RegisterFailure()
	c.Assert(b.State(), qt.Equals, Closed)
}

func TestRegistryReturnsSameBreakerPerTarget(t *testing.T) {
	c := qt.New(t)
	r := NewRegistry(DefaultConfig)
	a := r.Get("primary")
	b := r.Get("primary")
	c.Assert(a, qt.Equals, b)
	other := r.Get("replica")
	c.Assert(other, qt.Not(qt.Equals), a)
}
