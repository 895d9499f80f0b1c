package central

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/vote"
)

// Router returns the HTTP surface of a CentralServer: votes consolidated
// from stations (directly or via broker) land on /votes.
func (s *Server) Router(requestTimeout time.Duration) *chi.Mux {
	r := rpc.NewRouter("central", requestTimeout)
	r.Post("/votes", func(w http.ResponseWriter, req *http.Request) {
		var v vote.Vote
		if err := rpc.DecodeJSON(req, &v); err != nil {
			rpc.WriteError(w, err)
			return
		}
		v.VoterID = rpc.VoterID(req)
		if err := s.Process(req.Context(), v); err != nil {
			rpc.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/votes/{voteId}", func(w http.ResponseWriter, req *http.Request) {
		voteID := chi.URLParam(req, "voteId")
		state, ok := s.State(voteID)
		if !ok {
			rpc.WriteError(w, rpc.ErrNotFound)
			return
		}
		rpc.WriteJSON(w, http.StatusOK, map[string]string{"voteId": voteID, "state": string(state)})
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		rpc.WriteJSON(w, http.StatusOK, s.StateCounts())
	})
	return r
}
