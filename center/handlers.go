package center

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/electoral-net/votepipeline/log"
	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/vote"
)

// stationCallback builds a Callback that posts the ack back to the
// station's /callback/{voteId} endpoint, matching StationCallback's
// confirmReceipt contract.
func stationCallback(client *rpc.Client) Callback {
	return func(voteID string, state vote.State) {
		body := struct {
			State string `json:"state"`
		}{State: string(state)}
		if err := client.Call(context.Background(), http.MethodPost, "/callback/"+voteID, body, nil); err != nil {
			log.Warnw("station callback failed", "voteId", voteID, "state", string(state), "error", err.Error())
		}
	}
}

// Router returns the HTTP surface of a center: receiving a vote from a
// station.
func (r *Receiver) Router(requestTimeout time.Duration, stationClients func(stationID string) *rpc.Client) *chi.Mux {
	router := rpc.NewRouter("center", requestTimeout)
	router.Post("/votes", func(w http.ResponseWriter, req *http.Request) {
		var v vote.Vote
		if err := rpc.DecodeJSON(req, &v); err != nil {
			rpc.WriteError(w, err)
			return
		}
		v.VoterID = rpc.VoterID(req)

		client := stationClients(v.StationOrigin)
		cb := stationCallback(client)

		_, err := r.ReceiveVote(req.Context(), v, cb)
		if err != nil {
			rpc.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	router.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		rpc.WriteJSON(w, http.StatusOK, r.CandidateCounts())
	})
	return router
}
