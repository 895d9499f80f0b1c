package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/vote"
)

type fakeCenter struct {
	mu        sync.Mutex
	fail      bool
	processed []vote.Vote
}

func (f *fakeCenter) Process(_ context.Context, v vote.Vote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("forced failure")
	}
	f.processed = append(f.processed, v)
	return nil
}

func newTestBroker(t *testing.T, center Center) *Broker {
	store, err := recordstore.Open("broker-test", t.TempDir())
	qt.Assert(t, err, qt.IsNil)
	b, err := New(Config{Capacity: 4, Breaker: circuitbreaker.DefaultConfig}, store, center)
	qt.Assert(t, err, qt.IsNil)
	return b
}

func TestDequeueOrdersByPriorityThenTimestamp(t *testing.T) {
	c := qt.New(t)
	b := newTestBroker(t, &fakeCenter{})

	c.Assert(b.Enqueue("v-low", "CAND", "", vote.PriorityLow), qt.IsNil)
	c.Assert(b.Enqueue("v-critical", "CAND", "", vote.PriorityCritical), qt.IsNil)
	c.Assert(b.Enqueue("v-normal", "CAND", "", vote.PriorityNormal), qt.IsNil)

	first, ok := b.Dequeue()
	c.Assert(ok, qt.IsTrue)
	c.Assert(first.VoteID, qt.Equals, "v-critical")

	second, ok := b.Dequeue()
	c.Assert(ok, qt.IsTrue)
	c.Assert(second.VoteID, qt.Equals, "v-normal")

	third, ok := b.Dequeue()
	c.Assert(ok, qt.IsTrue)
	c.Assert(third.VoteID, qt.Equals, "v-low")
}

func TestEnqueueRejectsWhenAtCapacity(t *testing.T) {
	c := qt.New(t)
	b := newTestBroker(t, &fakeCenter{})

	for i := 0; i < 4; i++ {
		c.Assert(b.Enqueue(string(rune('a'+i)), "CAND", "", vote.PriorityNormal), qt.IsNil)
	}
	err := b.Enqueue("overflow", "CAND", "", vote.PriorityNormal)
	c.Assert(err, qt.IsNotNil)
}

func TestEnqueueExistingVoteIDReplacesPriority(t *testing.T) {
	c := qt.New(t)
	b := newTestBroker(t, &fakeCenter{})

	c.Assert(b.Enqueue("v1", "CAND", "", vote.PriorityLow), qt.IsNil)
	c.Assert(b.Enqueue("v2", "CAND", "", vote.PriorityNormal), qt.IsNil)
	c.Assert(b.Enqueue("v1", "CAND", "", vote.PriorityCritical), qt.IsNil)

	primary, _ := b.Depths()
	c.Assert(primary, qt.Equals, 2)

	first, ok := b.Dequeue()
	c.Assert(ok, qt.IsTrue)
	c.Assert(first.VoteID, qt.Equals, "v1")
	c.Assert(first.Priority, qt.Equals, vote.PriorityCritical)
}

func TestBackoffScheduleCapsAtFiveMinutes(t *testing.T) {
	c := qt.New(t)
	c.Assert(backoffSchedule(0), qt.Equals, 30*time.Second)
	c.Assert(backoffSchedule(1), qt.Equals, 60*time.Second)
	c.Assert(backoffSchedule(2), qt.Equals, 120*time.Second)
	c.Assert(backoffSchedule(3), qt.Equals, 240*time.Second)
	c.Assert(backoffSchedule(4), qt.Equals, 300*time.Second)
	c.Assert(backoffSchedule(10), qt.Equals, 300*time.Second)
}

func TestDispatchSuccessForgetsPersistedRecord(t *testing.T) {
	c := qt.New(t)
	center := &fakeCenter{}
	b := newTestBroker(t, center)

	c.Assert(b.Enqueue("v1", "CAND", "voter-1", vote.PriorityNormal), qt.IsNil)
	ok := b.Dispatch(context.Background())
	c.Assert(ok, qt.IsTrue)

	center.mu.Lock()
	processed := append([]vote.Vote(nil), center.processed...)
	center.mu.Unlock()
	c.Assert(processed, qt.HasLen, 1)
	// The voterId metadata rides through the queue so the center can still
	// run its per-voter duplicate suppression.
	c.Assert(processed[0].VoterID, qt.Equals, "voter-1")
}

// A vote reloaded from the persistence journal after a restart keeps its
// voterId, so a post-restart dispatch still carries the metadata.
func TestRestartPreservesVoterID(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	store, err := recordstore.Open("broker-voter", dir)
	c.Assert(err, qt.IsNil)
	b, err := New(Config{Capacity: 4, Breaker: circuitbreaker.DefaultConfig}, store, &fakeCenter{})
	c.Assert(err, qt.IsNil)
	c.Assert(b.Enqueue("v1", "CAND", "voter-9", vote.PriorityNormal), qt.IsNil)
	c.Assert(store.Close(), qt.IsNil)

	reopened, err := recordstore.Open("broker-voter", dir)
	c.Assert(err, qt.IsNil)
	restarted, err := New(Config{Capacity: 4, Breaker: circuitbreaker.DefaultConfig}, reopened, &fakeCenter{})
	c.Assert(err, qt.IsNil)

	first, ok := restarted.Dequeue()
	c.Assert(ok, qt.IsTrue)
	c.Assert(first.VoterID, qt.Equals, "voter-9")
}

// Votes enqueued but never dequeued before a broker restart are recovered
// from the persistence journal on the next start, at priority HIGH.
func TestRestartReloadsPersistedVotes(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	store, err := recordstore.Open("broker-restart", dir)
	c.Assert(err, qt.IsNil)
	b, err := New(Config{Capacity: 4, Breaker: circuitbreaker.DefaultConfig}, store, &fakeCenter{})
	c.Assert(err, qt.IsNil)
	c.Assert(b.Enqueue("v-critical", "CAND", "", vote.PriorityCritical), qt.IsNil)
	c.Assert(b.Enqueue("v-high", "CAND", "", vote.PriorityHigh), qt.IsNil)
	c.Assert(b.Enqueue("v-normal", "CAND", "", vote.PriorityNormal), qt.IsNil)
	c.Assert(store.Close(), qt.IsNil)

	reopened, err := recordstore.Open("broker-restart", dir)
	c.Assert(err, qt.IsNil)
	restarted, err := New(Config{Capacity: 4, Breaker: circuitbreaker.DefaultConfig}, reopened, &fakeCenter{})
	c.Assert(err, qt.IsNil)

	primary, retry := restarted.Depths()
	c.Assert(primary, qt.Equals, 3)
	c.Assert(retry, qt.Equals, 0)

	first, ok := restarted.Dequeue()
	c.Assert(ok, qt.IsTrue)
	c.Assert(first.VoteID, qt.Equals, "v-critical")
}

func TestDispatchFailureEnqueuesRetry(t *testing.T) {
	c := qt.New(t)
	center := &fakeCenter{fail: true}
	b := newTestBroker(t, center)

	c.Assert(b.Enqueue("v1", "CAND", "voter-1", vote.PriorityNormal), qt.IsNil)
	b.Dispatch(context.Background())

	_, retryDepth := b.Depths()
	c.Assert(retryDepth, qt.Equals, 1)
}
