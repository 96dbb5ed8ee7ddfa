package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonrpcFixture is a minimal stand-in for a real MCP endpoint: it answers
// "initialize" with a session id header and "tools/call" by echoing the
// requested tool name and arguments back in its result, recording every
// request it sees so tests can assert on headers and method names.
type jsonrpcFixture struct {
	sessionIDToReturn string
	requests          []jsonrpcRequest
	headers           []http.Header
}

func (f *jsonrpcFixture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.requests = append(f.requests, req)
		f.headers = append(f.headers, r.Header.Clone())

		if f.sessionIDToReturn != "" {
			w.Header().Set("Mcp-Session-Id", f.sessionIDToReturn)
		}
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "initialize":
			json.NewEncoder(w).Encode(jsonrpcResponse{ //nolint:errcheck
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  json.RawMessage(`{"protocolVersion":"2024-11-05"}`),
			})
		case "tools/call":
			params := req.Params.(map[string]any)
			result, _ := json.Marshal(map[string]any{ //nolint:errcheck
				"tool": params["name"],
				"echo": params["arguments"],
			})
			json.NewEncoder(w).Encode(jsonrpcResponse{ //nolint:errcheck
				JSONRPC: "2.0",
				ID:      req.ID,
				Result:  result,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func TestClientInitializeAdoptsServerSessionID(t *testing.T) {
	t.Parallel()

	fixture := &jsonrpcFixture{sessionIDToReturn: "server-assigned-session"}
	srv := httptest.NewServer(fixture.handler())
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client())
	require.NoError(t, c.Initialize(context.Background()))

	assert.Equal(t, "server-assigned-session", c.SessionID())
	require.Len(t, fixture.requests, 1)
	assert.Equal(t, "initialize", fixture.requests[0].Method)
}

func TestClientInitializeFallsBackToGeneratedSessionIDWhenServerOmitsHeader(t *testing.T) {
	t.Parallel()

	fixture := &jsonrpcFixture{} // no Mcp-Session-Id header in the response
	srv := httptest.NewServer(fixture.handler())
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client())
	require.NoError(t, c.Initialize(context.Background()))

	assert.NotEmpty(t, c.SessionID())
}

func TestClientCallToolAutoInitializesOnce(t *testing.T) {
	t.Parallel()

	fixture := &jsonrpcFixture{sessionIDToReturn: "sess-1"}
	srv := httptest.NewServer(fixture.handler())
	defer srv.Close()

	c := NewClient(srv.URL, map[string]string{"Authorization": "Bearer token"}, srv.Client())

	result, err := c.CallTool(context.Background(), "submit_job", map[string]any{"duration": 1})
	require.NoError(t, err)
	assert.Equal(t, "submit_job", result["tool"])

	// A second call reuses the already-adopted session and does not
	// initialize again.
	_, err = c.CallTool(context.Background(), "check_status", map[string]any{})
	require.NoError(t, err)

	require.Len(t, fixture.requests, 3) // initialize, submit_job, check_status
	assert.Equal(t, "initialize", fixture.requests[0].Method)
	assert.Equal(t, "tools/call", fixture.requests[1].Method)
	assert.Equal(t, "tools/call", fixture.requests[2].Method)

	// The adopted session id and the caller's own header both ride along
	// on the tools/call request.
	assert.Equal(t, "sess-1", fixture.headers[1].Get("Mcp-Session-Id"))
	assert.Equal(t, "Bearer token", fixture.headers[1].Get("Authorization"))
}

func TestClientCallToolSurfacesJSONRPCError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Method == "initialize" {
			json.NewEncoder(w).Encode(jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(jsonrpcResponse{ //nolint:errcheck
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   json.RawMessage(`{"code":-32000,"message":"tool failed"}`),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client())
	_, err := c.CallTool(context.Background(), "submit_job", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool failed")
}

func TestClientSurfacesNonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, srv.Client())
	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
