package station

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/vote"
)

// Router returns the HTTP surface of a station: submitting a ballot and
// receiving the upstream ack callback.
func (a *Agent) Router(requestTimeout time.Duration) *chi.Mux {
	r := rpc.NewRouter("station", requestTimeout)
	r.Post("/ballots", a.handleSubmit)
	r.Post("/callback/{voteId}", a.handleCallback)
	r.Get("/votes/{voteId}", a.handleStatus)
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		rpc.WriteJSON(w, http.StatusOK, a.StateCounts())
	})
	return r
}

type submitRequest struct {
	CandidateID string `json:"candidateId"`
}

type submitResponse struct {
	VoteID string `json:"voteId"`
}

func (a *Agent) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := rpc.DecodeJSON(r, &req); err != nil {
		rpc.WriteError(w, err)
		return
	}
	voterID := rpc.VoterID(r)
	voteID, err := a.Submit(req.CandidateID, voterID)
	if err != nil {
		rpc.WriteError(w, err)
		return
	}
	// Detached from the request context: the dispatch outlives this
	// handler, and failures are retried by the sweeper.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Dispatch(ctx, voteID)
	}()
	rpc.WriteJSON(w, http.StatusAccepted, submitResponse{VoteID: voteID})
}

type callbackRequest struct {
	State string `json:"state"`
}

func (a *Agent) handleCallback(w http.ResponseWriter, r *http.Request) {
	voteID := chi.URLParam(r, "voteId")
	var req callbackRequest
	if err := rpc.DecodeJSON(r, &req); err != nil {
		rpc.WriteError(w, err)
		return
	}
	if err := a.OnAck(voteID, vote.State(req.State)); err != nil {
		rpc.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	voteID := chi.URLParam(r, "voteId")
	status, ok, err := a.Status(voteID)
	if err != nil {
		rpc.WriteError(w, err)
		return
	}
	if !ok {
		rpc.WriteError(w, rpc.ErrNotFound)
		return
	}
	rpc.WriteJSON(w, http.StatusOK, status)
}
