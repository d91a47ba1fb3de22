package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/transport"
)

// upstreamStub is a minimal JSON-RPC-over-HTTP upstream for exercising the
// Session creation sequence against a real Transport implementation.
func upstreamStub(t *testing.T, handlers map[string]func(req jsonrpc.Request) jsonrpc.Response) *httptest.Server {
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

func testServerConfig(endpoint string) *config.ServerConfig {
	return &config.ServerConfig{
		ID:            "aaaaaaaa",
		Name:          "echo",
		StartCommand:  "echo-server",
		TransportKind: config.TransportHTTP,
		TransportConfig: &config.TransportConfig{
			Endpoint: endpoint,
		},
		IsActive: true,
	}
}

func TestSession_StartDiscoversCatalogAndDispatches(t *testing.T) {
	srv := upstreamStub(t, map[string]func(jsonrpc.Request) jsonrpc.Response{
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
				"content": []map[string]string{{"type": "text", "text": "3"}},
			})
		},
	})
	defer srv.Close()

	rt := newFakeRuntime()
	registry := transport.NewRegistry(nil, logging.NewDiscardLogger())
	session := NewSession(testServerConfig(srv.URL), "demo", rt, registry, logging.NewDiscardLogger())

	require.NoError(t, session.Start(t.Context()))
	require.Equal(t, 1, rt.startCalls)

	tools := session.Tools()
	require.Len(t, tools, 1)
	require.Equal(t, "add", tools[0].ToolName)
	require.True(t, session.HasTool("add"))

	result, err := session.CallTool(t.Context(), "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, "3", result.Content[0].Text)
}

func TestSession_StartRollsBackOnInitializeFailure(t *testing.T) {
	srv := upstreamStub(t, map[string]func(jsonrpc.Request) jsonrpc.Response{
		"initialize": func(req jsonrpc.Request) jsonrpc.Response {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InternalError, "boom")
		},
	})
	defer srv.Close()

	rt := newFakeRuntime()
	registry := transport.NewRegistry(nil, logging.NewDiscardLogger())
	session := NewSession(testServerConfig(srv.URL), "demo", rt, registry, logging.NewDiscardLogger())

	err := session.Start(t.Context())
	require.Error(t, err)
	require.Equal(t, 1, rt.stopCalls)
	require.Equal(t, 1, rt.removeCalls)

	_, ok := registry.Get("aaaaaaaa")
	require.False(t, ok)
}

func TestSession_AttachFailsWhenContainerNotRunning(t *testing.T) {
	rt := newFakeRuntime()
	registry := transport.NewRegistry(nil, logging.NewDiscardLogger())
	session := NewSession(testServerConfig("http://unused"), "demo", rt, registry, logging.NewDiscardLogger())

	err := session.Attach(t.Context())
	require.Error(t, err)
	require.Equal(t, 0, rt.startCalls)
}

func TestSession_AttachNeverStartsOrRemovesContainer(t *testing.T) {
	srv := upstreamStub(t, map[string]func(jsonrpc.Request) jsonrpc.Response{
		"initialize": func(req jsonrpc.Request) jsonrpc.Response {
			return jsonrpc.NewSuccessResponse(req.ID, map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]string{"name": "echo", "version": "1"},
				"capabilities":    map[string]any{"tools": map[string]any{}},
			})
		},
		"tools/list": func(req jsonrpc.Request) jsonrpc.Response {
			return jsonrpc.NewSuccessResponse(req.ID, map[string]any{"tools": []map[string]any{}})
		},
	})
	defer srv.Close()

	rt := newFakeRuntime()
	rt.existsFlag = true
	rt.existsID = "container-already-running"
	registry := transport.NewRegistry(nil, logging.NewDiscardLogger())
	session := NewSession(testServerConfig(srv.URL), "demo", rt, registry, logging.NewDiscardLogger())

	require.NoError(t, session.Attach(t.Context()))
	require.Equal(t, 0, rt.startCalls)

	require.NoError(t, session.Close(t.Context()))
	require.Equal(t, 0, rt.stopCalls)
	require.Equal(t, 0, rt.removeCalls)
}

func TestContainerCommand_CombinesInstallAndStart(t *testing.T) {
	cfg := &config.ServerConfig{InstallCommand: "pip install x", StartCommand: "python server.py"}
	cmd := containerCommand(cfg)
	require.Equal(t, []string{"/bin/sh", "-c", "pip install x && python server.py"}, cmd)

	cfg2 := &config.ServerConfig{StartCommand: "python server.py"}
	require.Equal(t, []string{"/bin/sh", "-c", "python server.py"}, containerCommand(cfg2))
}

func TestSplitPrefixed(t *testing.T) {
	id, rest, ok := SplitPrefixed("aaaaaaaa_list_files")
	require.True(t, ok)
	require.Equal(t, "aaaaaaaa", id)
	require.Equal(t, "list_files", rest)

	_, _, ok = SplitPrefixed("noUnderscore")
	require.False(t, ok)
}
