package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/electoral-net/votepipeline/verrors"
)

// Client is a small timeout-aware JSON/HTTP client shared by every
// component when calling a downstream peer. Every call carries a
// per-request timeout, and an expired context converts to a transport
// failure that callers count against their circuit breaker.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client with the given default per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// CallOption customizes a single Call.
type CallOption func(*http.Request)

// WithVoterID attaches the voterId call metadata.
func WithVoterID(voterID string) CallOption {
	return func(r *http.Request) {
		if voterID != "" {
			r.Header.Set(MetaVoterID, voterID)
		}
	}
}

// Call performs method on path with body marshaled as JSON, decoding a
// successful (2xx) response into out. A non-2xx response is decoded as an
// Error and translated into the matching verrors kind so callers can branch
// with errors.As exactly as they would on a local failure.
func (c *Client) Call(ctx context.Context, method, path string, body, out any, opts ...CallOption) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rpc: marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var wireErr Error
		if decodeErr := json.NewDecoder(resp.Body).Decode(&wireErr); decodeErr != nil {
			return verrors.NewStorage(fmt.Sprintf("unreadable error response from %s", path), decodeErr)
		}
		return translateWireError(&wireErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rpc: decode response from %s: %w", path, err)
	}
	return nil
}

func translateWireError(e *Error) error {
	switch e.Code {
	case ErrDuplicateVote.Code:
		return verrors.NewDuplicateVote("", e.Message)
	case ErrQueueFull.Code:
		return verrors.NewQueueFull(0)
	case ErrCircuitOpen.Code:
		return verrors.NewCircuitOpen(e.Message)
	case ErrQueryTimeout.Code:
		return verrors.NewQueryTimeout(e.Message)
	case ErrDBConnection.Code:
		return verrors.NewDBConnection("", e.Message)
	default:
		return verrors.NewStorage(e.Message, nil)
	}
}
