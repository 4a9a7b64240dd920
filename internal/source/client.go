// Package source pulls blocks from the upstream chain, decodes their
// token-protocol envelopes into the actions C6 expects, and detects
// reorgs by comparing upstream and local block hashes height by height
// back to a block both agree on.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is a JSON-RPC 2.0 HTTP client for the upstream chain node,
// authenticated with HTTP Basic Auth per §6.3's RPC_USER/RPC_PASS.
type Client struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
}

// NewClient builds a Client targeting endpoint, authenticating with user
// and pass if either is non-empty.
func NewClient(endpoint, user, pass string) *Client {
	return &Client{
		endpoint: endpoint,
		user:     user,
		pass:     pass,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with a JSON-RPC error
// object. It is never transient: retrying the same request verbatim
// would produce the same error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// TransientUpstreamError wraps a network-level failure calling the
// upstream RPC: the connection, not the request, was the problem, and a
// retry with backoff is expected to eventually succeed.
type TransientUpstreamError struct{ err error }

func (e *TransientUpstreamError) Error() string { return "source: transient upstream error: " + e.err.Error() }
func (e *TransientUpstreamError) Unwrap() error  { return e.err }

// Call invokes method once, with no retry. Retry is layered on top by
// CallWithRetry for callers on the polling path.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	req := request{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.pass != "" {
		httpReq.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransientUpstreamError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientUpstreamError{err: fmt.Errorf("read response: %w", err)}
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// CallWithRetry retries method against transient upstream failures with
// exponential backoff until ctx is cancelled, per §7.3.
func (c *Client) CallWithRetry(ctx context.Context, method string, params, result any) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0 // no overall deadline; only ctx ends the retries
	bo := backoff.WithContext(eb, ctx)
	return backoff.Retry(func() error {
		err := c.Call(ctx, method, params, result)
		if err == nil {
			return nil
		}
		var transient *TransientUpstreamError
		if errors.As(err, &transient) {
			return err
		}
		return backoff.Permanent(err)
	}, bo)
}
