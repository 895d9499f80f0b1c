// Package station implements StationAgent: it accepts a
// voter's ballot, persists it transiently, dispatches it reliably to the
// receiver (directly, or via the broker), and surfaces confirmation.
package station

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/recordstore"
	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/verrors"
	"github.com/electoral-net/votepipeline/vote"
)

// Config configures an Agent.
type Config struct {
	StationID     string
	SweepInterval time.Duration // default 30s
}

// Agent is StationAgent.
type Agent struct {
	cfg    Config
	store  *recordstore.Store
	client *rpc.Client // points at the receiver, or the broker if enabled

	writerMu sync.Mutex // store-wide writer lock for the read-modify-write of Submit
}

// New returns an Agent backed by store, dispatching through client.
func New(cfg Config, store *recordstore.Store, client *rpc.Client) *Agent {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Agent{cfg: cfg, store: store, client: client}
}

// record is the on-disk shape of a transient vote:
// voteId|candidateId|stationOrigin|timestamp|state|voterId.
type record struct {
	CandidateID string
	Timestamp   time.Time
	State       vote.State
	VoterID     string
}

func (a *Agent) load(voteID string) (record, bool, error) {
	fields, ok, err := a.store.Get(voteID)
	if err != nil {
		return record{}, false, verrors.NewStorage("read transient vote", err)
	}
	if !ok {
		return record{}, false, nil
	}
	// fields: [candidateId, stationOrigin, timestamp, state, voterId?]
	if len(fields) < 4 {
		return record{}, false, verrors.NewStorage(fmt.Sprintf("corrupt transient record for %s", voteID), nil)
	}
	ts, _ := time.Parse(time.RFC3339Nano, fields[2])
	voterID := ""
	if len(fields) >= 5 {
		voterID = fields[4]
	}
	return record{
		CandidateID: fields[0],
		Timestamp:   ts,
		State:       vote.State(fields[3]),
		VoterID:     voterID,
	}, true, nil
}

func (a *Agent) save(voteID string, r record) error {
	if err := a.store.Append(voteID,
		r.CandidateID,
		a.cfg.StationID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		string(r.State),
		r.VoterID,
	); err != nil {
		return verrors.NewStorage("write transient vote", err)
	}
	a.store.Audit("SET_STATE", voteID, string(r.State))
	return nil
}

// Submit assigns a fresh voteId, writes a PENDING transient record, and
// returns the voteId.
func (a *Agent) Submit(candidateID, voterID string) (string, error) {
	voteID := uuid.NewString()

	a.writerMu.Lock()
	defer a.writerMu.Unlock()

	r := record{
		CandidateID: candidateID,
		Timestamp:   time.Now().UTC(),
		State:       vote.StatePending,
		VoterID:     voterID,
	}
	if err := a.save(voteID, r); err != nil {
		return "", err
	}
	log.Infow("vote submitted", "station", a.cfg.StationID, "voteId", voteID, "candidateId", candidateID)
	return voteID, nil
}

// Dispatch sends the vote to the receiver (or broker), carrying voterId as
// call metadata. A record that is no longer PENDING is not sent again. A
// DuplicateVote response for an already-seen voteId is treated as success
// (CONFIRMED); one rejecting the voterId leaves the record as the
// receiver's ERROR callback set it (PENDING). Any other failure leaves the
// record PENDING for the next retry sweep.
func (a *Agent) Dispatch(ctx context.Context, voteID string) error {
	r, ok, err := a.load(voteID)
	if err != nil {
		return err
	}
	if !ok {
		return verrors.NewStorage(fmt.Sprintf("unknown voteId %s", voteID), nil)
	}
	if r.State != vote.StatePending {
		return nil
	}

	v := vote.Vote{
		VoteID:        voteID,
		CandidateID:   r.CandidateID,
		StationOrigin: a.cfg.StationID,
		Timestamp:     r.Timestamp,
		VoterID:       r.VoterID,
	}

	err = a.client.Call(ctx, http.MethodPost, "/votes", v, nil, rpc.WithVoterID(r.VoterID))
	if err == nil {
		return nil
	}

	var dup *verrors.DuplicateVoteError
	if asDuplicate(err, &dup) {
		// The receiver's inbound callback already ran synchronously within
		// this call and applied the right transition: PROCESSED (and thus
		// CONFIRMED here) for a voteId already seen, ERROR (and thus kept
		// PENDING) for a voterId that already voted. Only the former is a
		// "duplicate means success" case; rejecting the latter here too
		// would override the callback's ERROR verdict with a false
		// CONFIRMED.
		if strings.Contains(dup.Reason, "voter") {
			log.Warnw("vote rejected, voter already voted", "voteId", voteID, "reason", dup.Reason)
			return nil
		}
		log.Infow("vote already processed upstream, confirming locally", "voteId", voteID)
		return a.markConfirmed(voteID, r)
	}

	log.Warnw("dispatch failed, leaving vote pending", "voteId", voteID, "error", err.Error())
	return nil
}

func asDuplicate(err error, target **verrors.DuplicateVoteError) bool {
	d, ok := err.(*verrors.DuplicateVoteError)
	if ok {
		*target = d
	}
	return ok
}

func (a *Agent) markConfirmed(voteID string, r record) error {
	a.writerMu.Lock()
	defer a.writerMu.Unlock()
	r.State = vote.StateConfirmed
	return a.save(voteID, r)
}

func (a *Agent) markPending(voteID string, r record) error {
	a.writerMu.Lock()
	defer a.writerMu.Unlock()
	r.State = vote.StatePending
	return a.save(voteID, r)
}

// OnAck is the inbound callback StationCallback.confirmReceipt: on
// PROCESSED, mark CONFIRMED; on ERROR, keep PENDING for later retry; any
// other state only updates the record.
func (a *Agent) OnAck(voteID string, state vote.State) error {
	r, ok, err := a.load(voteID)
	if err != nil {
		return err
	}
	if !ok {
		return verrors.NewStorage(fmt.Sprintf("ack for unknown voteId %s", voteID), nil)
	}
	switch state {
	case vote.StateProcessed:
		return a.markConfirmed(voteID, r)
	case vote.StateError:
		return a.markPending(voteID, r)
	default:
		a.writerMu.Lock()
		defer a.writerMu.Unlock()
		r.State = state
		return a.save(voteID, r)
	}
}

// RetrySweep scans the transient store for PENDING records and re-dispatches
// each. It runs every SweepInterval.
func (a *Agent) RetrySweep(ctx context.Context) {
	var pending []string
	_ = a.store.Scan(func(voteID string, fields []string) bool {
		if len(fields) >= 4 && vote.State(fields[3]) == vote.StatePending {
			pending = append(pending, voteID)
		}
		return true
	})
	for _, voteID := range pending {
		if err := a.Dispatch(ctx, voteID); err != nil {
			log.Warnw("retry sweep dispatch failed", "voteId", voteID, "error", err.Error())
		}
	}
	if len(pending) > 0 {
		log.Infow("retry sweep complete", "station", a.cfg.StationID, "pending", len(pending))
	}
}

// Start launches the periodic retry sweep; it stops when ctx is cancelled.
func (a *Agent) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.RetrySweep(ctx)
			}
		}
	}()
	log.Infow("station agent started", "station", a.cfg.StationID, "sweepInterval", a.cfg.SweepInterval.String())
}

// VoteStatus is the read-only view of a local vote returned by the status
// endpoint.
type VoteStatus struct {
	VoteID      string `json:"voteId"`
	CandidateID string `json:"candidateId"`
	State       string `json:"state"`
}

// StateCounts returns how many local votes sit in each state.
func (a *Agent) StateCounts() map[string]int {
	counts := make(map[string]int)
	_ = a.store.Scan(func(_ string, fields []string) bool {
		if len(fields) >= 4 {
			counts[fields[3]]++
		}
		return true
	})
	return counts
}

// Status returns the current local state of voteID.
func (a *Agent) Status(voteID string) (VoteStatus, bool, error) {
	r, ok, err := a.load(voteID)
	if err != nil || !ok {
		return VoteStatus{}, ok, err
	}
	return VoteStatus{VoteID: voteID, CandidateID: r.CandidateID, State: string(r.State)}, true, nil
}
