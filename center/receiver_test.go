package center

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/vote"
)

type fakeForwarder struct {
	mu       sync.Mutex
	fail     bool
	received []vote.Vote
}

func (f *fakeForwarder) Process(_ context.Context, v vote.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("forced failure")
	}
	f.received = append(f.received, v)
	return nil
}

type ackCollector struct {
	mu    sync.Mutex
	acked []string
}

func (a *ackCollector) cb(voteID string, state vote.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, voteID+":"+string(state))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestReceiveVoteAcceptsNewVote(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("center-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	forwarder := &fakeForwarder{}
	r, err := New(Config{SweepInterval: time.Hour}, store, forwarder)
	c.Assert(err, qt.IsNil)

	acks := &ackCollector{}
	v := vote.Vote{VoteID: "v1", CandidateID: "CAND_A", StationOrigin: "s1", Timestamp: time.Now(), VoterID: "voter-1"}
	outcome, err := r.ReceiveVote(context.Background(), v, acks.cb)
	c.Assert(err, qt.IsNil)
	c.Assert(outcome, qt.Equals, Accepted)

	waitFor(t, func() bool { return r.CandidateCounts()["CAND_A"] == 1 })
}

func TestReceiveVoteRejectsDuplicateVoteID(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("center-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	forwarder := &fakeForwarder{}
	r, err := New(Config{SweepInterval: time.Hour}, store, forwarder)
	c.Assert(err, qt.IsNil)

	acks := &ackCollector{}
	v := vote.Vote{VoteID: "v2", CandidateID: "CAND_A", VoterID: "voter-2", Timestamp: time.Now()}
	_, err = r.ReceiveVote(context.Background(), v, acks.cb)
	c.Assert(err, qt.IsNil)
	waitFor(t, func() bool { return r.CandidateCounts()["CAND_A"] == 1 })

	outcome, err := r.ReceiveVote(context.Background(), v, acks.cb)
	c.Assert(err, qt.IsNotNil)
	c.Assert(outcome, qt.Equals, AlreadyProcessedVote)
}

func TestReceiveVoteRejectsDuplicateVoterID(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("center-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	forwarder := &fakeForwarder{}
	r, err := New(Config{SweepInterval: time.Hour}, store, forwarder)
	c.Assert(err, qt.IsNil)

	acks := &ackCollector{}
	first := vote.Vote{VoteID: "v3", CandidateID: "CAND_A", VoterID: "voter-3", Timestamp: time.Now()}
	_, err = r.ReceiveVote(context.Background(), first, acks.cb)
	c.Assert(err, qt.IsNil)
	waitFor(t, func() bool { return r.CandidateCounts()["CAND_A"] == 1 })

	second := vote.Vote{VoteID: "v4", CandidateID: "CAND_B", VoterID: "voter-3", Timestamp: time.Now()}
	outcome, err := r.ReceiveVote(context.Background(), second, acks.cb)
	c.Assert(err, qt.IsNotNil)
	c.Assert(outcome, qt.Equals, RejectedVoter)
}

func TestSweepReprocessesStuckReceivedVotes(t *testing.T) {
	c := qt.New(t)
	store, err := recordstore.Open("center-test", t.TempDir())
	c.Assert(err, qt.IsNil)
	forwarder := &fakeForwarder{}
	r, err := New(Config{SweepInterval: time.Hour}, store, forwarder)
	c.Assert(err, qt.IsNil)

	// Simulate a vote that was RECEIVED but never made it to PROCESSED.
	c.Assert(r.save("v5", storedVote{CandidateID: "CAND_C", VoterID: "voter-5", Timestamp: time.Now(), State: vote.StateReceived}), qt.IsNil)
	r.mu.Lock()
	r.receivedSet["v5"] = struct{}{}
	r.mu.Unlock()

	acks := &ackCollector{}
	r.Sweep(acks.cb)
	waitFor(t, func() bool { return r.CandidateCounts()["CAND_C"] == 1 })
}
