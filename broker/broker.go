package broker

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/electoral-net/votepipeline/circuitbreaker"
	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/verrors"
	"github.com/electoral-net/votepipeline/vote"
)

// DefaultCapacity is the primary queue's default maximum size.
const DefaultCapacity = 10000

// Config configures a Broker.
type Config struct {
	Capacity       int
	MoverInterval  time.Duration // how often the retry mover runs, default 5s
	DispatchTarget string        // circuit breaker key for the downstream center
	Breaker        circuitbreaker.Config
}

// Center is the downstream target a Broker dispatches to.
type Center interface {
	Process(ctx context.Context, v vote.Vote) error
}

// Broker is VoteBroker.
type Broker struct {
	cfg      Config
	store    *recordstore.Store
	center   Center
	breakers *circuitbreaker.Registry

	mu       sync.Mutex
	primary  primaryQueue
	retry    retryQueue
	byVoteID map[string]*item // primary-queue membership, for enqueue's remove-and-reinsert rule
}

// New returns a Broker backed by store, reloading any persisted voteIds
// into the primary queue at priority HIGH.
func New(cfg Config, store *recordstore.Store, center Center) (*Broker, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MoverInterval <= 0 {
		cfg.MoverInterval = 5 * time.Second
	}
	if cfg.DispatchTarget == "" {
		cfg.DispatchTarget = "center"
	}
	b := &Broker{
		cfg:      cfg,
		store:    store,
		center:   center,
		breakers: circuitbreaker.NewRegistry(cfg.Breaker),
		byVoteID: make(map[string]*item),
	}
	heap.Init(&b.primary)
	heap.Init(&b.retry)
	if err := b.reloadPersisted(); err != nil {
		return nil, err
	}
	return b, nil
}

// persist writes a queue entry in its on-disk shape:
// voteId|candidateId|timestamp|attemptCount|voterId. Readers tolerate a
// missing voterId column.
func (b *Broker) persist(v vote.PendingVote) error {
	if err := b.store.Append(v.VoteID, v.CandidateID, v.Timestamp.UTC().Format(time.RFC3339Nano), fmt.Sprintf("%d", v.AttemptCount), v.VoterID); err != nil {
		return verrors.NewStorage("persist queued vote", err)
	}
	return nil
}

func (b *Broker) forget(voteID string) {
	// An empty-fields Append marks the record removed; Scan on reload skips
	// entries whose latest fields are empty.
	_ = b.store.Append(voteID)
	b.store.Audit("DEQUEUE", voteID, "delivered")
}

func (b *Broker) reloadPersisted() error {
	var reloaded int
	err := b.store.Scan(func(voteID string, fields []string) bool {
		if len(fields) == 0 || fields[0] == "" {
			return true
		}
		ts, _ := time.Parse(time.RFC3339Nano, fields[1])
		voterID := ""
		if len(fields) >= 4 {
			voterID = fields[3]
		}
		pv := vote.PendingVote{
			Vote: vote.Vote{
				VoteID:      voteID,
				CandidateID: fields[0],
				Timestamp:   ts,
				VoterID:     voterID,
			},
			Priority:   vote.PriorityHigh,
			EnqueuedAt: time.Now().UTC(),
		}
		b.pushPrimaryLocked(pv)
		reloaded++
		return true
	})
	if err != nil {
		return verrors.NewStorage("reload persisted queue", err)
	}
	if reloaded > 0 {
		log.Infow("broker reloaded persisted votes", "count", reloaded)
	}
	return nil
}

func (b *Broker) pushPrimaryLocked(v vote.PendingVote) {
	it := &item{vote: v}
	heap.Push(&b.primary, it)
	b.byVoteID[v.VoteID] = it
}

// Enqueue adds voteID to the primary queue: a voteId already present is
// removed and re-inserted with the new priority. voterID travels with the
// queued vote so the downstream center keeps its per-voter duplicate
// suppression when the broker topology is in use.
func (b *Broker) Enqueue(voteID, candidateID, voterID string, priority vote.Priority) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.byVoteID[voteID]; ok {
		heap.Remove(&b.primary, existing.index)
		delete(b.byVoteID, voteID)
	} else if len(b.primary) >= b.cfg.Capacity {
		return verrors.NewQueueFull(b.cfg.Capacity)
	}

	v := vote.PendingVote{
		Vote:       vote.Vote{VoteID: voteID, CandidateID: candidateID, Timestamp: time.Now().UTC(), VoterID: voterID},
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}
	b.pushPrimaryLocked(v)
	if err := b.persist(v); err != nil {
		return err
	}
	return nil
}

// Dequeue returns the next item from primary, or ok=false if empty.
func (b *Broker) Dequeue() (vote.PendingVote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.primary) == 0 {
		return vote.PendingVote{}, false
	}
	it := heap.Pop(&b.primary).(*item)
	delete(b.byVoteID, it.vote.VoteID)
	return it.vote, true
}

// EnqueueRetry queues voteID onto the retry queue: the item becomes
// eligible at enqueuedAt + backoff(attempt).
func (b *Broker) EnqueueRetry(voteID, candidateID, voterID string, priority vote.Priority, previousAttempts int) {
	attempt := previousAttempts + 1
	now := time.Now().UTC()
	v := vote.PendingVote{
		Vote:         vote.Vote{VoteID: voteID, CandidateID: candidateID, Timestamp: now, VoterID: voterID},
		Priority:     priority,
		AttemptCount: attempt,
		EnqueuedAt:   now,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	heap.Push(&b.retry, &retryItem{vote: v, readyAt: now.Add(backoffSchedule(attempt - 1))})
}

// moveEligibleRetries inserts every retry item whose readyAt has elapsed
// into primary at priority HIGH.
func (b *Broker) moveEligibleRetries() {
	now := time.Now().UTC()
	b.mu.Lock()
	var moved int
	for len(b.retry) > 0 && !b.retry[0].readyAt.After(now) {
		ri := heap.Pop(&b.retry).(*retryItem)
		ri.vote.Priority = vote.PriorityHigh
		b.pushPrimaryLocked(ri.vote)
		moved++
	}
	b.mu.Unlock()
	if moved > 0 {
		log.Infow("broker moved eligible retries into primary", "count", moved)
	}
}

// Depths reports the current size of each internal queue.
func (b *Broker) Depths() (primary, retry int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.primary), len(b.retry)
}

// Dispatch pulls one item from primary and attempts delivery to center,
// honoring the downstream circuit breaker. On success it removes the
// persistence record; on failure it re-queues via EnqueueRetry.
func (b *Broker) Dispatch(ctx context.Context) bool {
	v, ok := b.Dequeue()
	if !ok {
		return false
	}

	br := b.breakers.Get(b.cfg.DispatchTarget)
	if !br.Allow() {
		log.Warnw("broker circuit open, re-queuing for retry", "target", b.cfg.DispatchTarget, "voteId", v.VoteID)
		b.EnqueueRetry(v.VoteID, v.CandidateID, v.VoterID, v.Priority, v.AttemptCount)
		return true
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := b.center.Process(callCtx, v.Vote)
	if err != nil {
		var dup *verrors.DuplicateVoteError
		if errors.As(err, &dup) {
			// The center already holds this vote; delivery is complete as
			// far as the broker is concerned.
			br.RegisterSuccess()
			b.forget(v.VoteID)
			log.Infow("broker dispatched duplicate, dropping persisted record", "voteId", v.VoteID, "reason", dup.Reason)
			return true
		}
		br.RegisterFailure()
		log.Warnw("broker dispatch failed", "voteId", v.VoteID, "error", err.Error())
		b.EnqueueRetry(v.VoteID, v.CandidateID, v.VoterID, v.Priority, v.AttemptCount)
		return true
	}
	br.RegisterSuccess()
	b.forget(v.VoteID)
	return true
}

// Start launches the dispatcher loop and retry mover; both stop when ctx
// is cancelled.
func (b *Broker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if !b.Dispatch(ctx) {
					select {
					case <-ctx.Done():
						return
					case <-time.After(100 * time.Millisecond):
					}
				}
			}
		}
	}()

	ticker := time.NewTicker(b.cfg.MoverInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.moveEligibleRetries()
			}
		}
	}()
}
