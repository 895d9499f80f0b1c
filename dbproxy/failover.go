package dbproxy

import (
	"sync"
	"time"

	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/verrors"
)

// Prober probes a FAILED target for recovery with a lightweight PING
// rather than a probabilistic retry-on-every-request scheme.
type Prober func(target string) bool

// FailoverHandler maintains per-target ConnectionInfo and decides which
// target a caller should use.
type FailoverHandler struct {
	recoveryTimeout time.Duration
	prober          Prober
	breakers        *circuitbreaker.Registry

	mu    sync.Mutex
	conns map[string]*ConnectionInfo
}

// NewFailoverHandler returns a FailoverHandler. prober defaults to always
// succeed if nil.
func NewFailoverHandler(recoveryTimeout time.Duration, breakers *circuitbreaker.Registry, prober Prober) *FailoverHandler {
	if prober == nil {
		prober = func(string) bool { return true }
	}
	return &FailoverHandler{
		recoveryTimeout: recoveryTimeout,
		prober:          prober,
		breakers:        breakers,
		conns:           make(map[string]*ConnectionInfo),
	}
}

func (f *FailoverHandler) infoLocked(target string) *ConnectionInfo {
	ci, ok := f.conns[target]
	if !ok {
		ci = &ConnectionInfo{NodeID: target, State: StateActive, LastActivity: time.Now().UTC()}
		f.conns[target] = ci
	}
	return ci
}

// RegisterFailure marks target FAILED and registers a failure with its
// circuit breaker.
func (f *FailoverHandler) RegisterFailure(target string) {
	f.mu.Lock()
	ci := f.infoLocked(target)
	ci.State = StateFailed
	ci.LastActivity = time.Now().UTC()
	f.mu.Unlock()
	f.breakers.Get(target).RegisterFailure()
}

// RegisterSuccess marks target ACTIVE, logging a recovery if it was
// previously FAILED.
func (f *FailoverHandler) RegisterSuccess(target string) {
	f.mu.Lock()
	ci := f.infoLocked(target)
	wasFailed := ci.State == StateFailed
	ci.State = StateActive
	ci.LastActivity = time.Now().UTC()
	f.mu.Unlock()
	f.breakers.Get(target).RegisterSuccess()
	if wasFailed {
		log.Infow("dbproxy target recovered", "target", target)
	}
}

// GetConnection implements getConnection: ACTIVE targets are
// returned directly; FAILED targets past recoveryTimeout get one probe
// attempt; otherwise the caller falls back to alternative.
func (f *FailoverHandler) GetConnection(target, alternative string) (string, error) {
	f.mu.Lock()
	ci := f.infoLocked(target)
	state := ci.State
	lastActivity := ci.LastActivity
	f.mu.Unlock()

	if state == StateActive {
		return target, nil
	}

	if time.Since(lastActivity) >= f.recoveryTimeout {
		if f.prober(target) {
			f.RegisterSuccess(target)
			return target, nil
		}
		f.mu.Lock()
		f.infoLocked(target).LastActivity = time.Now().UTC()
		f.mu.Unlock()
	}

	if alternative == "" {
		return "", verrors.NewDBConnection(target, "no alternative target available")
	}
	return alternative, nil
}

// Snapshot returns a point-in-time copy of every tracked ConnectionInfo.
func (f *FailoverHandler) Snapshot() []ConnectionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ConnectionInfo, 0, len(f.conns))
	for _, ci := range f.conns {
		out = append(out, *ci)
	}
	return out
}
