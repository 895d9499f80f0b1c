package dbproxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/electoral-net/votepipeline/rpc"
)

// Router returns the HTTP surface of a DBProxy gateway.
func (p *Proxy) Router(requestTimeout time.Duration) *chi.Mux {
	r := rpc.NewRouter("dbproxy", requestTimeout)

	r.Post("/votes", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			VoteID      string    `json:"voteId"`
			CandidateID string    `json:"candidateId"`
			Timestamp   time.Time `json:"timestamp"`
			Hash        string    `json:"hash"`
		}
		if err := rpc.DecodeJSON(req, &body); err != nil {
			rpc.WriteError(w, err)
			return
		}
		if err := p.SaveVote(req.Context(), body.VoteID, body.CandidateID, body.Timestamp, body.Hash); err != nil {
			rpc.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Get("/votes/{voteId}", func(w http.ResponseWriter, req *http.Request) {
		ok, err := p.VerifyVoteState(req.Context(), chi.URLParam(req, "voteId"))
		if err != nil {
			rpc.WriteError(w, err)
			return
		}
		rpc.WriteJSON(w, http.StatusOK, map[string]bool{"exists": ok})
	})

	r.Post("/candidates", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			CandidateIDs []string `json:"candidateIds"`
		}
		if err := rpc.DecodeJSON(req, &body); err != nil {
			rpc.WriteError(w, err)
			return
		}
		if err := p.SaveCandidates(req.Context(), body.CandidateIDs); err != nil {
			rpc.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Get("/candidates", func(w http.ResponseWriter, req *http.Request) {
		ids := req.URL.Query()["id"]
		out, err := p.GetCandidates(req.Context(), ids)
		if err != nil {
			rpc.WriteError(w, err)
			return
		}
		rpc.WriteJSON(w, http.StatusOK, map[string][]string{"candidateIds": out})
	})

	r.Post("/candidates/trigger", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			CandidateID string `json:"candidateId"`
		}
		if err := rpc.DecodeJSON(req, &body); err != nil {
			rpc.WriteError(w, err)
			return
		}
		p.RegisterUpdateTrigger(body.CandidateID)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Get("/results", func(w http.ResponseWriter, req *http.Request) {
		ids := req.URL.Query()["id"]
		out, err := p.GetUpdatedResults(req.Context(), ids)
		if err != nil {
			rpc.WriteError(w, err)
			return
		}
		rpc.WriteJSON(w, http.StatusOK, map[string][]string{"candidateIds": out})
	})

	r.Get("/turnout", func(w http.ResponseWriter, req *http.Request) {
		registered, _ := strconv.Atoi(req.URL.Query().Get("registeredVoters"))
		pct, err := p.GetTurnoutPercentage(req.Context(), registered)
		if err != nil {
			rpc.WriteError(w, err)
			return
		}
		rpc.WriteJSON(w, http.StatusOK, map[string]float64{"turnoutPercentage": pct})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		rpc.WriteJSON(w, http.StatusOK, p.failover.Snapshot())
	})

	return r
}
