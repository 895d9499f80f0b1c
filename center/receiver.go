// Package center implements CenterReceiver: it accepts votes
// from stations, guarantees uniqueness by vote-id and by voter-id, forwards
// accepted votes to processing (CentralServer), and acknowledges back to the
// station through a callback.
package center

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/verrors"
	"github.com/electoral-net/votepipeline/vote"
)

// Outcome is the structured result of receiveVote, replacing a single
// exception-for-control-flow path: callers that
// need the wire-level DuplicateVote error still get it, but internal logic
// branches on this variant instead of inspecting an error type.
type Outcome int

const (
	// Accepted means the vote was new and RECEIVED was acknowledged.
	Accepted Outcome = iota
	// AlreadyProcessedVote means voteId had already been seen.
	AlreadyProcessedVote
	// RejectedVoter means voterId had already voted.
	RejectedVoter
)

// Callback acknowledges a state transition back to the originating station.
type Callback func(voteID string, state vote.State)

// Forwarder hands an accepted vote to CentralServer for processing.
type Forwarder interface {
	Process(ctx context.Context, v vote.Vote) error
}

// Config configures a Receiver.
type Config struct {
	SweepInterval time.Duration // default 60s
}

// Receiver is CenterReceiver.
type Receiver struct {
	cfg       Config
	store     *recordstore.Store
	forwarder Forwarder

	mu             sync.RWMutex
	receivedSet    map[string]struct{}
	voterRegistry  map[string]struct{}
	candidateCount map[string]int
}

// New returns a Receiver, rebuilding receivedSet and voterRegistry by
// scanning store.
func New(cfg Config, store *recordstore.Store, forwarder Forwarder) (*Receiver, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	r := &Receiver{
		cfg:            cfg,
		store:          store,
		forwarder:      forwarder,
		receivedSet:    make(map[string]struct{}),
		voterRegistry:  make(map[string]struct{}),
		candidateCount: make(map[string]int),
	}
	if err := r.rebuild(); err != nil {
		return nil, err
	}
	return r, nil
}

type storedVote struct {
	CandidateID string
	VoterID     string
	Timestamp   time.Time
	State       vote.State
}

func decodeStored(fields []string) (storedVote, error) {
	if len(fields) < 4 {
		return storedVote{}, fmt.Errorf("center: corrupt received record")
	}
	ts, _ := time.Parse(time.RFC3339Nano, fields[2])
	return storedVote{
		CandidateID: fields[0],
		VoterID:     fields[1],
		Timestamp:   ts,
		State:       vote.State(fields[3]),
	}, nil
}

func (r *Receiver) rebuild() error {
	var processed int
	err := r.store.Scan(func(voteID string, fields []string) bool {
		sv, decodeErr := decodeStored(fields)
		if decodeErr != nil {
			return true
		}
		r.receivedSet[voteID] = struct{}{}
		if sv.VoterID != "" && sv.VoterID != "UNKNOWN" {
			r.voterRegistry[sv.VoterID] = struct{}{}
		}
		if sv.State == vote.StateProcessed {
			r.candidateCount[sv.CandidateID]++
			processed++
		}
		return true
	})
	if err != nil {
		return verrors.NewStorage("rebuild receiver state", err)
	}
	log.Infow("center receiver state rebuilt", "votes", len(r.receivedSet), "voters", len(r.voterRegistry), "processed", processed)
	return nil
}

func (r *Receiver) save(voteID string, sv storedVote) error {
	if err := r.store.Append(voteID,
		sv.CandidateID,
		sv.VoterID,
		sv.Timestamp.UTC().Format(time.RFC3339Nano),
		string(sv.State),
	); err != nil {
		return verrors.NewStorage("write received vote", err)
	}
	r.store.Audit("SET_STATE", voteID, string(sv.State))
	return nil
}

// ReceiveVote implements receiveVote operation.
func (r *Receiver) ReceiveVote(ctx context.Context, v vote.Vote, cb Callback) (Outcome, error) {
	voterID := v.VoterID
	if voterID == "" {
		voterID = "UNKNOWN"
	}

	r.mu.RLock()
	_, voteSeen := r.receivedSet[v.VoteID]
	_, voterSeen := r.voterRegistry[voterID]
	r.mu.RUnlock()

	if voteSeen {
		cb(v.VoteID, vote.StateProcessed)
		return AlreadyProcessedVote, verrors.NewDuplicateVote(v.VoteID, "vote id already received")
	}
	if voterSeen && voterID != "UNKNOWN" {
		cb(v.VoteID, vote.StateError)
		return RejectedVoter, verrors.NewDuplicateVote(v.VoteID, "voter id already voted")
	}

	r.mu.Lock()
	// Re-check under the writer lock: another goroutine may have raced us
	// between the read-lock check above and acquiring the writer lock.
	if _, ok := r.receivedSet[v.VoteID]; ok {
		r.mu.Unlock()
		cb(v.VoteID, vote.StateProcessed)
		return AlreadyProcessedVote, verrors.NewDuplicateVote(v.VoteID, "vote id already received")
	}
	if _, ok := r.voterRegistry[voterID]; ok && voterID != "UNKNOWN" {
		r.mu.Unlock()
		cb(v.VoteID, vote.StateError)
		return RejectedVoter, verrors.NewDuplicateVote(v.VoteID, "voter id already voted")
	}
	// Claim the voteId before releasing the lock so a replay arriving while
	// the background task is still running cannot be accepted twice.
	r.receivedSet[v.VoteID] = struct{}{}
	r.mu.Unlock()

	sv := storedVote{CandidateID: v.CandidateID, VoterID: voterID, Timestamp: v.Timestamp, State: vote.StateReceived}
	if err := r.save(v.VoteID, sv); err != nil {
		r.mu.Lock()
		delete(r.receivedSet, v.VoteID)
		r.mu.Unlock()
		return Accepted, err
	}
	cb(v.VoteID, vote.StateReceived)

	go r.process(v, voterID, cb)
	return Accepted, nil
}

func (r *Receiver) process(v vote.Vote, voterID string, cb Callback) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.forwarder.Process(ctx, v); err != nil {
		var dup *verrors.DuplicateVoteError
		if !errors.As(err, &dup) {
			log.Warnw("center processing failed, leaving vote RECEIVED for sweeper", "voteId", v.VoteID, "error", err.Error())
			return
		}
		// Central already holds this vote (a sweeper re-run after a lost
		// confirmation); finish the local transition instead of retrying
		// forever.
		log.Infow("central reported duplicate, completing local state", "voteId", v.VoteID, "reason", dup.Reason)
	}

	// Persist the transition first: the counter and registries only advance
	// once PROCESSED is durable, so a sweeper re-run after a failed save
	// cannot double-count.
	sv := storedVote{CandidateID: v.CandidateID, VoterID: voterID, Timestamp: v.Timestamp, State: vote.StateProcessed}
	if err := r.save(v.VoteID, sv); err != nil {
		log.Warnw("center failed to persist PROCESSED state, leaving vote RECEIVED for sweeper", "voteId", v.VoteID, "error", err.Error())
		return
	}

	r.mu.Lock()
	r.candidateCount[v.CandidateID]++
	r.receivedSet[v.VoteID] = struct{}{}
	if voterID != "UNKNOWN" {
		r.voterRegistry[voterID] = struct{}{}
	}
	r.mu.Unlock()

	cb(v.VoteID, vote.StateProcessed)
}

// Sweep re-runs the processing task for every record still RECEIVED.
func (r *Receiver) Sweep(cb Callback) {
	type pending struct {
		voteID string
		v      vote.Vote
		voter  string
	}
	var stuck []pending
	_ = r.store.Scan(func(voteID string, fields []string) bool {
		sv, err := decodeStored(fields)
		if err != nil || sv.State != vote.StateReceived {
			return true
		}
		stuck = append(stuck, pending{
			voteID: voteID,
			v:      vote.Vote{VoteID: voteID, CandidateID: sv.CandidateID, Timestamp: sv.Timestamp},
			voter:  sv.VoterID,
		})
		return true
	})
	for _, p := range stuck {
		r.process(p.v, p.voter, cb)
	}
	if len(stuck) > 0 {
		log.Infow("center sweep reprocessed stuck votes", "count", len(stuck))
	}
}

// Start launches the periodic sweeper; it stops when ctx is cancelled.
func (r *Receiver) Start(ctx context.Context, cb Callback) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(cb)
			}
		}
	}()
}

// CandidateCounts returns a snapshot of processed vote counts per candidate.
func (r *Receiver) CandidateCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.candidateCount))
	for k, v := range r.candidateCount {
		out[k] = v
	}
	return out
}
