// Package tests wires real HTTP servers for every component together and
// exercises three end-to-end scenarios across them. Unlike the
// package-level unit tests, these drive the actual rpc.Client/Router
// transport each component uses in production.
package tests

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/electoral-net/votepipeline/center"
	"github.com/electoral-net/votepipeline/central"
	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/db"
	"github.com/electoral-net/votepipeline/db/inmemory"
	"github.com/electoral-net/votepipeline/dbproxy"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/station"
	"github.com/electoral-net/votepipeline/verrors"
	"github.com/electoral-net/votepipeline/vote"
)

const requestTimeout = 5 * time.Second

type harness struct {
	dbproxyTS *httptest.Server
	centralTS *httptest.Server
	centerTS  *httptest.Server
	stationTS *httptest.Server

	centralSrv *central.Server
	receiver   *center.Receiver
	agent      *station.Agent
}

// newHarness wires StationAgent -> CenterReceiver -> CentralServer ->
// DBProxy as four independent HTTP servers on loopback: the direct
// (non-broker) happy-path topology.
func newHarness(t *testing.T) *harness {
	t.Helper()
	c := qt.New(t)

	backend, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	primary := dbproxy.NewKVPrimary(backend)
	replicaBackend, err := inmemory.New(db.Options{})
	c.Assert(err, qt.IsNil)
	replica := dbproxy.NewKVReplica(replicaBackend)
	proxy := dbproxy.New(dbproxy.Config{RecoveryTimeout: time.Minute, Breaker: circuitbreaker.DefaultConfig}, primary, replica, nil)
	dbproxyTS := httptest.NewServer(proxy.Router(requestTimeout))

	dbClient := rpc.NewClient(dbproxyTS.URL, requestTimeout)
	centralStore, err := recordstore.Open("central-e2e", t.TempDir())
	c.Assert(err, qt.IsNil)
	centralSrv, err := central.New(central.Config{}, centralStore, central.NewDBProxyClient(dbClient))
	c.Assert(err, qt.IsNil)
	centralTS := httptest.NewServer(centralSrv.Router(requestTimeout))

	centralClient := rpc.NewClient(centralTS.URL, requestTimeout)
	centerStore, err := recordstore.Open("center-e2e", t.TempDir())
	c.Assert(err, qt.IsNil)
	receiver, err := center.New(center.Config{SweepInterval: time.Hour}, centerStore, center.NewCentralClient(centralClient))
	c.Assert(err, qt.IsNil)

	var stationTS *httptest.Server
	stationClient := func(string) *rpc.Client {
		return rpc.NewClient(stationTS.URL, requestTimeout)
	}
	centerTS := httptest.NewServer(receiver.Router(requestTimeout, stationClient))

	stationDispatchClient := rpc.NewClient(centerTS.URL, requestTimeout)
	stationStore, err := recordstore.Open("station-e2e", t.TempDir())
	c.Assert(err, qt.IsNil)
	agent := station.New(station.Config{StationID: "Station01", SweepInterval: time.Hour}, stationStore, stationDispatchClient)
	stationTS = httptest.NewServer(agent.Router(requestTimeout))

	h := &harness{
		dbproxyTS:  dbproxyTS,
		centralTS:  centralTS,
		centerTS:   centerTS,
		stationTS:  stationTS,
		centralSrv: centralSrv,
		receiver:   receiver,
		agent:      agent,
	}
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	h.dbproxyTS.Close()
	h.centralTS.Close()
	h.centerTS.Close()
	h.stationTS.Close()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// TestHappyPathDirect verifies the plain single-vote happy path: a single
// submission lands exactly once at CentralServer, with its candidate
// counter incremented once.
func TestHappyPathDirect(t *testing.T) {
	c := qt.New(t)
	h := newHarness(t)

	voteID, err := h.agent.Submit("C001", "V1")
	c.Assert(err, qt.IsNil)

	ctx := t.Context()
	c.Assert(h.agent.Dispatch(ctx, voteID), qt.IsNil)

	ok := waitFor(t, 2*time.Second, func() bool {
		counts := h.receiver.CandidateCounts()
		return counts["C001"] == 1
	})
	c.Assert(ok, qt.IsTrue)

	ok = waitFor(t, 2*time.Second, func() bool {
		st, found := h.centralSrv.State(voteID)
		return found && st == "PROCESSED"
	})
	c.Assert(ok, qt.IsTrue)

	status, found, err := h.agent.Status(voteID)
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.IsTrue)
	c.Assert(status.State, qt.Equals, "CONFIRMED")
}

// TestDuplicateVoteID verifies that replaying the same voteId is rejected
// by the receiver, and the station marks it CONFIRMED locally without
// inflating the candidate counter.
func TestDuplicateVoteID(t *testing.T) {
	c := qt.New(t)
	h := newHarness(t)
	ctx := t.Context()

	voteID, err := h.agent.Submit("C001", "V1")
	c.Assert(err, qt.IsNil)
	c.Assert(h.agent.Dispatch(ctx, voteID), qt.IsNil)

	ok := waitFor(t, 2*time.Second, func() bool {
		counts := h.receiver.CandidateCounts()
		return counts["C001"] == 1
	})
	c.Assert(ok, qt.IsTrue)

	// Replay: the same voteId reaches the receiver again over the
	// station's wire path, and the receiver treats it as
	// AlreadyProcessedVote: a DuplicateVote error plus a PROCESSED ack.
	replay := vote.Vote{VoteID: voteID, CandidateID: "C001", StationOrigin: "Station01", Timestamp: time.Now().UTC()}
	err = rpc.NewClient(h.centerTS.URL, requestTimeout).Call(ctx, http.MethodPost, "/votes", replay, nil, rpc.WithVoterID("V1"))
	var dup *verrors.DuplicateVoteError
	c.Assert(errors.As(err, &dup), qt.IsTrue)

	status, found, err := h.agent.Status(voteID)
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.IsTrue)
	c.Assert(status.State, qt.Equals, "CONFIRMED")

	counts := h.receiver.CandidateCounts()
	c.Assert(counts["C001"], qt.Equals, 1)
}

// TestDuplicateVoterID verifies that a second submission under the same
// voterId is rejected with ERROR, and the candidate counter is unaffected.
func TestDuplicateVoterID(t *testing.T) {
	c := qt.New(t)
	h := newHarness(t)
	ctx := t.Context()

	voteID1, err := h.agent.Submit("C001", "V1")
	c.Assert(err, qt.IsNil)
	c.Assert(h.agent.Dispatch(ctx, voteID1), qt.IsNil)

	ok := waitFor(t, 2*time.Second, func() bool {
		counts := h.receiver.CandidateCounts()
		return counts["C001"] == 1
	})
	c.Assert(ok, qt.IsTrue)

	voteID2, err := h.agent.Submit("C002", "V1")
	c.Assert(err, qt.IsNil)
	c.Assert(h.agent.Dispatch(ctx, voteID2), qt.IsNil)

	status, found, err := h.agent.Status(voteID2)
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.IsTrue)
	// The receiver acked ERROR for the rejected voterId; the station's
	// OnAck keeps it PENDING for a retry that will only ever repeat the
	// same rejection.
	c.Assert(status.State, qt.Equals, "PENDING")

	counts := h.receiver.CandidateCounts()
	c.Assert(counts["C001"], qt.Equals, 1)
	c.Assert(counts["C002"], qt.Equals, 0)
}
