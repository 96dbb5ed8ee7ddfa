// Package runner drives a single remote async MCP job from submission
// through polling to result retrieval and artifact download.
//
// It is the Go translation of the daemon's underlying async-call script:
// a minimal JSON-RPC 2.0 client over HTTP, a lazily-adopted MCP session
// id, and the submit → poll → fetch → download pipeline spec.md names.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is a JSON-RPC 2.0 client for one MCP endpoint, lazily adopting a
// session id on the first request. Not safe for concurrent CallTool calls
// against different jobs sharing one Client; callers create one Client per
// job.
type Client struct {
	Endpoint string
	Headers  map[string]string

	httpClient  *http.Client
	sessionID   string
	initialized bool
}

// NewClient returns a Client for endpoint. headers is copied so later
// mutation (session id adoption) never reaches the caller's map.
func NewClient(endpoint string, headers map[string]string, httpClient *http.Client) *Client {
	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		h[k] = v
	}
	if _, ok := h["Content-Type"]; !ok {
		h["Content-Type"] = "application/json"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{Endpoint: endpoint, Headers: h, httpClient: httpClient}
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// Initialize performs the MCP "initialize" handshake if it hasn't already
// run, adopting whatever session id the server returns in the
// Mcp-Session-Id response header (falling back to the id this client
// generated, if the server echoes none back).
func (c *Client) Initialize(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	initialSessionID := uuid.NewString()
	headers := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		headers[k] = v
	}
	headers["Mcp-Session-Id"] = initialSessionID

	payload := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "mcp-queue-daemon", "version": "1.0.0"},
		},
	}

	resp, err := c.doRequest(ctx, payload, headers)
	if err != nil {
		return fmt.Errorf("runner: initialize: %w", err)
	}
	defer resp.Body.Close()

	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = initialSessionID
	}
	c.sessionID = sessionID
	c.Headers["Mcp-Session-Id"] = sessionID
	c.initialized = true
	return nil
}

// SessionID returns the adopted MCP session id, empty until Initialize
// has run.
func (c *Client) SessionID() string {
	return c.sessionID
}

// CallTool invokes the MCP "tools/call" method for toolName with arguments,
// auto-initializing the session first if needed, and returns the decoded
// "result" field as a generic map.
func (c *Client) CallTool(ctx context.Context, toolName string, arguments map[string]any) (map[string]any, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	payload := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "tools/call",
		Params: map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}

	resp, err := c.doRequest(ctx, payload, c.Headers)
	if err != nil {
		return nil, fmt.Errorf("runner: call %s: %w", toolName, err)
	}
	defer resp.Body.Close()

	var rpcResp jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("runner: call %s: decode response: %w", toolName, err)
	}
	if len(rpcResp.Error) > 0 && string(rpcResp.Error) != "null" {
		return nil, fmt.Errorf("runner: call %s: json-rpc error: %s", toolName, rpcResp.Error)
	}

	var result map[string]any
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
			return nil, fmt.Errorf("runner: call %s: decode result: %w", toolName, err)
		}
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, payload jsonrpcRequest, headers map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.Endpoint)
	}
	return resp, nil
}
