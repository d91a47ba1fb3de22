package downstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/gateway"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/transport"
)

// fakeRuntime is a minimal in-memory runtime.WorkloadRuntime, mirroring
// pkg/gateway's own test double, for exercising the downstream adapters
// without a Docker daemon.
type fakeRuntime struct{ startCalls int }

func (f *fakeRuntime) Start(_ context.Context, cfg runtime.WorkloadConfig) (*runtime.WorkloadStatus, error) {
	f.startCalls++
	return &runtime.WorkloadStatus{ID: "container-1", Name: cfg.Name, Stack: cfg.Stack, State: runtime.WorkloadStateRunning}, nil
}
func (f *fakeRuntime) Stop(context.Context, runtime.WorkloadID) error   { return nil }
func (f *fakeRuntime) Remove(context.Context, runtime.WorkloadID) error { return nil }
func (f *fakeRuntime) Status(_ context.Context, id runtime.WorkloadID) (*runtime.WorkloadStatus, error) {
	return &runtime.WorkloadStatus{ID: id, State: runtime.WorkloadStateRunning}, nil
}
func (f *fakeRuntime) Exists(context.Context, string) (bool, runtime.WorkloadID, error) {
	return false, "", nil
}
func (f *fakeRuntime) List(context.Context, runtime.WorkloadFilter) ([]runtime.WorkloadStatus, error) {
	return nil, nil
}
func (f *fakeRuntime) GetHostPort(context.Context, runtime.WorkloadID, int) (int, error) { return 0, nil }
func (f *fakeRuntime) EnsureNetwork(context.Context, string, runtime.NetworkOptions) error {
	return nil
}
func (f *fakeRuntime) ListNetworks(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeRuntime) RemoveNetwork(context.Context, string) error            { return nil }
func (f *fakeRuntime) EnsureImage(context.Context, string) error              { return nil }
func (f *fakeRuntime) Exec(context.Context, runtime.WorkloadID, string) (string, error) {
	return "", nil
}
func (f *fakeRuntime) Ping(context.Context) error { return nil }
func (f *fakeRuntime) Close() error                { return nil }

var _ runtime.WorkloadRuntime = (*fakeRuntime)(nil)

// fakeStore is a minimal in-memory gateway.ConfigStore for one active
// server, mirroring pkg/gateway's own test double.
type fakeStore struct{ cfg *config.ServerConfig }

func (f *fakeStore) ActiveServers(context.Context) ([]*config.ServerConfig, error) {
	return []*config.ServerConfig{f.cfg}, nil
}
func (f *fakeStore) ServerByID(_ context.Context, id string) (*config.ServerConfig, error) {
	if id == f.cfg.ID {
		return f.cfg, nil
	}
	return nil, nil
}
func (f *fakeStore) IsToolEnabled(context.Context, string, string) (bool, error) { return true, nil }

var _ gateway.ConfigStore = (*fakeStore)(nil)

// upstreamStub is a minimal JSON-RPC-over-HTTP upstream, mirroring
// pkg/gateway's own test double.
func upstreamStub(t *testing.T, handlers map[string]func(jsonrpc.Request) jsonrpc.Response) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		h, ok := handlers[req.Method]
		if !ok {
			json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, "no handler"))
			return
		}
		resp := h(req)
		if req.ID == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func echoUpstreamHandlers() map[string]func(jsonrpc.Request) jsonrpc.Response {
	return map[string]func(jsonrpc.Request) jsonrpc.Response{
		"initialize": func(req jsonrpc.Request) jsonrpc.Response {
			return jsonrpc.NewSuccessResponse(req.ID, map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]string{"name": "echo", "version": "1"},
				"capabilities":    map[string]any{"tools": map[string]any{}},
			})
		},
		"tools/list": func(req jsonrpc.Request) jsonrpc.Response {
			return jsonrpc.NewSuccessResponse(req.ID, map[string]any{
				"tools": []map[string]any{{"name": "add", "inputSchema": map[string]any{}}},
			})
		},
		"tools/call": func(req jsonrpc.Request) jsonrpc.Response {
			return jsonrpc.NewSuccessResponse(req.ID, map[string]any{
				"content": []map[string]string{{"type": "text", "text": "ok"}},
			})
		},
	}
}

// newTestRouter builds a Router backed by one httptest upstream, returning
// a cleanup func the caller must defer.
func newTestRouter(t *testing.T) (*gateway.Router, func()) {
	t.Helper()
	srv := upstreamStub(t, echoUpstreamHandlers())

	store := &fakeStore{cfg: &config.ServerConfig{
		ID:            "aaaaaaaa",
		Name:          "echo",
		StartCommand:  "echo-server",
		TransportKind: config.TransportHTTP,
		TransportConfig: &config.TransportConfig{
			Endpoint: srv.URL,
		},
		IsActive: true,
	}}
	registry := transport.NewRegistry(nil, logging.NewDiscardLogger())
	sessions := gateway.NewSessionManager("demo", &fakeRuntime{}, registry, nil, logging.NewDiscardLogger())
	router := gateway.NewRouter(store, sessions, logging.NewDiscardLogger())
	return router, srv.Close
}

func rawID(n int) *json.RawMessage {
	b, _ := json.Marshal(n)
	raw := json.RawMessage(b)
	return &raw
}
