package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/transport"
)

func routerFixture(t *testing.T) (*Router, *fakeStore, *fakeRuntime, func()) {
	t.Helper()
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
				"tools": []map[string]any{
					{"name": "add", "inputSchema": map[string]any{}},
					{"name": "sub", "inputSchema": map[string]any{}},
				},
			})
		},
		"tools/call": func(req jsonrpc.Request) jsonrpc.Response {
			return jsonrpc.NewSuccessResponse(req.ID, map[string]any{
				"content": []map[string]string{{"type": "text", "text": "ok"}},
			})
		},
	})

	store := newFakeStore()
	cfg := testServerConfig(srv.URL)
	store.addServer(cfg)

	rt := newFakeRuntime()
	registry := transport.NewRegistry(nil, logging.NewDiscardLogger())
	mgr := NewSessionManager("demo", rt, registry, nil, logging.NewDiscardLogger())
	router := NewRouter(store, mgr, logging.NewDiscardLogger())

	return router, store, rt, srv.Close
}

func TestRouter_ListToolsMergesNamespacesAndAddsInternalTools(t *testing.T) {
	router, _, _, closeSrv := routerFixture(t)
	defer closeSrv()

	tools, err := router.ListTools(t.Context())
	require.NoError(t, err)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	require.Contains(t, names, "aaaaaaaa_add")
	require.Contains(t, names, "aaaaaaaa_sub")
	require.Contains(t, names, internalToolListServers)
	require.Contains(t, names, internalToolRefreshCatalog)
}

func TestRouter_ListToolsDropsDisabledTools(t *testing.T) {
	router, store, _, closeSrv := routerFixture(t)
	defer closeSrv()
	store.setToolEnabled("aaaaaaaa", "sub", false)

	tools, err := router.ListTools(t.Context())
	require.NoError(t, err)

	for _, tool := range tools {
		require.NotEqual(t, "aaaaaaaa_sub", tool.Name)
	}
}

func TestRouter_CallToolDispatchesToUpstream(t *testing.T) {
	router, _, _, closeSrv := routerFixture(t)
	defer closeSrv()

	result, err := router.CallTool(t.Context(), "aaaaaaaa_add", map[string]any{"a": 1})
	require.NoError(t, err)
	require.Equal(t, "ok", result.Content[0].Text)
}

func TestRouter_CallToolUnknownServerFails(t *testing.T) {
	router, _, _, closeSrv := routerFixture(t)
	defer closeSrv()

	_, err := router.CallTool(t.Context(), "zzzzzzzz_add", nil)
	require.Error(t, err)
}

func TestRouter_CallToolDisabledToolFails(t *testing.T) {
	router, store, _, closeSrv := routerFixture(t)
	defer closeSrv()
	store.setToolEnabled("aaaaaaaa", "sub", false)

	_, err := router.CallTool(t.Context(), "aaaaaaaa_sub", nil)
	require.Error(t, err)
}

func TestRouter_RefreshCatalogToolDisconnectsSessions(t *testing.T) {
	router, _, rt, closeSrv := routerFixture(t)
	defer closeSrv()

	_, err := router.ListTools(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, rt.startCalls)

	_, err = router.CallTool(t.Context(), internalToolRefreshCatalog, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rt.stopCalls)

	_, err = router.ListTools(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, rt.startCalls)
}

func TestRouter_HandleRequestEnforcesStateMachine(t *testing.T) {
	router, _, _, closeSrv := routerFixture(t)
	defer closeSrv()

	cs := NewClientSession()
	id := rawID(1)

	resp := router.HandleRequest(t.Context(), cs, jsonrpc.Request{JSONRPC: "2.0", ID: id, Method: "tools/list"})
	require.NotNil(t, resp.Error)
	require.Equal(t, jsonrpc.InvalidRequest, resp.Error.Code)

	initResp := router.HandleRequest(t.Context(), cs, jsonrpc.Request{JSONRPC: "2.0", ID: id, Method: "initialize"})
	require.Nil(t, initResp.Error)

	listResp := router.HandleRequest(t.Context(), cs, jsonrpc.Request{JSONRPC: "2.0", ID: id, Method: "tools/list"})
	require.Nil(t, listResp.Error)
}

func rawID(n int) *json.RawMessage {
	b, _ := json.Marshal(n)
	raw := json.RawMessage(b)
	return &raw
}
