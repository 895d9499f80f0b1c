package broker

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/vote"
)

// Router returns the HTTP surface of a broker: stations enqueue votes here
// instead of calling the center directly.
func (b *Broker) Router(requestTimeout time.Duration) *chi.Mux {
	r := rpc.NewRouter("broker", requestTimeout)
	r.Post("/votes", b.handleEnqueue)
	r.Get("/votes/next", b.handleNext)
	r.Get("/status", b.handleStatus)
	return r
}

func (b *Broker) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		vote.Vote
		Priority string `json:"priority"`
	}
	if err := rpc.DecodeJSON(r, &req); err != nil {
		rpc.WriteError(w, err)
		return
	}
	priority := vote.PriorityNormal
	if req.Priority != "" {
		p, err := vote.ParsePriority(req.Priority)
		if err != nil {
			rpc.WriteError(w, rpc.ErrMalformedBody)
			return
		}
		priority = p
	}
	// The voterId metadata must survive the queue hop: the center's
	// per-voter duplicate suppression runs on what the broker forwards.
	voterID := r.Header.Get(rpc.MetaVoterID)
	if err := b.Enqueue(req.VoteID, req.CandidateID, voterID, priority); err != nil {
		rpc.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleNext serves nextPendingVote: the next primary-queue item, or a JSON
// null when the queue is empty.
func (b *Broker) handleNext(w http.ResponseWriter, r *http.Request) {
	v, ok := b.Dequeue()
	if !ok {
		rpc.WriteJSON(w, http.StatusOK, nil)
		return
	}
	rpc.WriteJSON(w, http.StatusOK, v)
}

type statusResponse struct {
	PrimaryDepth int              `json:"primaryDepth"`
	RetryDepth   int              `json:"retryDepth"`
	Breakers     []map[string]any `json:"breakers"`
}

func (b *Broker) handleStatus(w http.ResponseWriter, r *http.Request) {
	primary, retry := b.Depths()
	snapshots := b.breakers.Snapshots()
	breakers := make([]map[string]any, 0, len(snapshots))
	for _, s := range snapshots {
		breakers = append(breakers, map[string]any{
			"target":           s.Target,
			"state":            s.State,
			"consecutiveFails": s.ConsecutiveFails,
			"consecutiveOk":    s.ConsecutiveOK,
		})
	}
	rpc.WriteJSON(w, http.StatusOK, statusResponse{PrimaryDepth: primary, RetryDepth: retry, Breakers: breakers})
}
