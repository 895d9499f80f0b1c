package dbproxy

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/db"
	"github.com/electoral-net/votepipeline/db/inmemory"
)

type stubReplica struct {
	failConfirm bool
	confirmed   []TransactionInfo
	data        map[string][]byte
}

func newStubReplica() *stubReplica { return &stubReplica{data: make(map[string][]byte)} }

func (s *stubReplica) ExecuteWrite(_ context.Context, q QueryParams) (TransactionInfo, error) {
	s.data[q.Params[0]] = []byte(q.Params[1])
	return TransactionInfo{Key: q.Params[0], Data: []byte(q.Params[1]), State: "COMMITTED"}, nil
}

func (s *stubReplica) ExecuteRead(_ context.Context, q QueryParams) (QueryResult, error) {
	v, ok := s.data[q.Params[0]]
	if !ok {
		return QueryResult{}, errors.New("not found")
	}
	return QueryResult{Successful: true, Value: v}, nil
}

func (s *stubReplica) ConfirmReplication(_ context.Context, tx TransactionInfo) error {
	if s.failConfirm {
		return errors.New("replication unreachable")
	}
	s.confirmed = append(s.confirmed, tx)
	s.data[tx.Key] = tx.Data
	return nil
}

func newTestProxy(t *testing.T, replica *stubReplica) *Proxy {
	backend, err := inmemory.New(db.Options{})
	qt.Assert(t, err, qt.IsNil)
	primary := NewKVPrimary(backend)
	return New(Config{RecoveryTimeout: time.Minute, Breaker: circuitbreaker.DefaultConfig}, primary, replica, nil)
}

// failingPrimary always fails writes, modeling a Primary that is down.
type failingPrimary struct{}

func (failingPrimary) ExecuteWrite(context.Context, QueryParams) (TransactionInfo, error) {
	return TransactionInfo{}, errors.New("primary unreachable")
}

func (failingPrimary) ExecuteRead(context.Context, QueryParams) (QueryResult, error) {
	return QueryResult{}, errors.New("primary unreachable")
}

func (failingPrimary) ConfirmReplication(context.Context, TransactionInfo) error { return nil }

// With Primary down, a read still succeeds by routing to a healthy
// Replica, while a write fails.
func TestVerifyVoteStateSucceedsViaReplicaWhenPrimaryDown(t *testing.T) {
	c := qt.New(t)
	replica := newStubReplica()
	replica.data["vote_v1"] = []byte(`{"voteId":"v1"}`)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour, SuccessThreshold: 1})
	failover := NewFailoverHandler(time.Hour, breakers, nil)
	p := &Proxy{
		router:   NewQueryRouter(failingPrimary{}, replica, breakers, failover),
		failover: failover,
		cache:    NewCacheService(),
	}

	ok, err := p.VerifyVoteState(context.Background(), "v1")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	err = p.SaveVote(context.Background(), "v2", "CAND", time.Now(), "hash")
	c.Assert(err, qt.IsNotNil)

	// The routed traffic drives the failover handler's view of each target.
	states := make(map[string]string)
	for _, ci := range p.failover.Snapshot() {
		states[ci.NodeID] = ci.State.String()
	}
	c.Assert(states["primary"], qt.Equals, "FAILED")
	c.Assert(states["replica"], qt.Equals, "ACTIVE")
}

func TestSaveVoteWritesThroughAndCaches(t *testing.T) {
	c := qt.New(t)
	replica := newStubReplica()
	p := newTestProxy(t, replica)

	err := p.SaveVote(context.Background(), "v1", "CAND_A", time.Now(), "hash-1")
	c.Assert(err, qt.IsNil)
	c.Assert(replica.confirmed, qt.HasLen, 1)

	ok, err := p.VerifyVoteState(context.Background(), "v1")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestSaveVoteSucceedsLocallyWhenReplicationFails(t *testing.T) {
	c := qt.New(t)
	replica := newStubReplica()
	replica.failConfirm = true
	p := newTestProxy(t, replica)

	err := p.SaveVote(context.Background(), "v1", "CAND_A", time.Now(), "hash-1")
	c.Assert(err, qt.IsNil)
	c.Assert(replica.confirmed, qt.HasLen, 0)
}

func TestCacheServiceSetGetInvalidate(t *testing.T) {
	c := qt.New(t)
	cache := NewCacheService()
	cache.Set("candidates_all", []byte("42"), time.Minute)

	v, ok := cache.Get("candidates_all")
	c.Assert(ok, qt.IsTrue)
	c.Assert(string(v), qt.Equals, "42")

	cache.Invalidate("candidates_*")
	_, ok = cache.Get("candidates_all")
	c.Assert(ok, qt.IsFalse)
}

func TestFailoverHandlerReturnsAlternativeWhenFailed(t *testing.T) {
	c := qt.New(t)
	replica := newStubReplica()
	p := newTestProxy(t, replica)

	p.failover.RegisterFailure("primary")
	target, err := p.failover.GetConnection("primary", "replica")
	c.Assert(err, qt.IsNil)
	c.Assert(target, qt.Equals, "replica")
}
