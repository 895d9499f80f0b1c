package center

import (
	"context"
	"net/http"

	"github.com/electoral-net/votepipeline/rpc"
	"github.com/electoral-net/votepipeline/vote"
)

// CentralClient adapts an rpc.Client into the Forwarder interface, letting a
// standalone center process hand accepted votes to a remote CentralServer.
type CentralClient struct {
	client *rpc.Client
}

// NewCentralClient wraps client as a Forwarder.
func NewCentralClient(client *rpc.Client) *CentralClient {
	return &CentralClient{client: client}
}

// Process implements Forwarder.
func (c *CentralClient) Process(ctx context.Context, v vote.Vote) error {
	return c.client.Call(ctx, http.MethodPost, "/votes", v, nil, rpc.WithVoterID(v.VoterID))
}
