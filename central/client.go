package central

import (
	"context"
	"net/http"
	"time"

	"github.com/electoral-net/votepipeline/rpc"
)

// DBProxyClient adapts an rpc.Client into the DBProxy interface, letting a
// standalone central server persist anonymized votes through a remote
// DBProxy gateway.
type DBProxyClient struct {
	client *rpc.Client
}

// NewDBProxyClient wraps client as a DBProxy.
func NewDBProxyClient(client *rpc.Client) *DBProxyClient {
	return &DBProxyClient{client: client}
}

type saveVoteRequest struct {
	VoteID      string    `json:"voteId"`
	CandidateID string    `json:"candidateId"`
	Timestamp   time.Time `json:"timestamp"`
	Hash        string    `json:"hash"`
}

// SaveVote implements DBProxy.
func (c *DBProxyClient) SaveVote(ctx context.Context, voteID, candidateID string, timestamp time.Time, hash string) error {
	body := saveVoteRequest{VoteID: voteID, CandidateID: candidateID, Timestamp: timestamp, Hash: hash}
	return c.client.Call(ctx, http.MethodPost, "/votes", body, nil)
}
