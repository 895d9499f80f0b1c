package broker

import (
	"context"
	"net/http"

	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/vote"
)

// CenterClient adapts an rpc.Client into the Center interface, letting a
// standalone broker process dispatch over HTTP to a center instance.
type CenterClient struct {
	client *rpc.Client
}

// NewCenterClient wraps client as a Center.
func NewCenterClient(client *rpc.Client) *CenterClient {
	return &CenterClient{client: client}
}

// Process implements Center.
func (c *CenterClient) Process(ctx context.Context, v vote.Vote) error {
	return c.client.Call(ctx, http.MethodPost, "/votes", v, nil, rpc.WithVoterID(v.VoterID))
}
