package downstream

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
)

func doJSONRPC(t *testing.T, h http.Handler, sessionID string, req jsonrpc.Request) (*httptest.ResponseRecorder, jsonrpc.Response) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	if sessionID != "" {
		httpReq.Header.Set(sessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httpReq)

	var resp jsonrpc.Response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHTTPHandler_InitializeMintsSession(t *testing.T) {
	router, closeSrv := newTestRouter(t)
	defer closeSrv()
	h := NewHTTPHandler(router, nil)

	initReq, err := jsonrpc.NewRequest(rawID(1), "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "test-client", "version": "1"},
		"capabilities":    map[string]any{},
	})
	require.NoError(t, err)

	rec, resp := doJSONRPC(t, h, "", initReq)
	require.Nil(t, resp.Error)
	require.NotEmpty(t, rec.Header().Get(sessionHeader))
}

func TestHTTPHandler_RequestWithoutSessionHeaderFails(t *testing.T) {
	router, closeSrv := newTestRouter(t)
	defer closeSrv()
	h := NewHTTPHandler(router, nil)

	listReq, err := jsonrpc.NewRequest(rawID(1), "tools/list", nil)
	require.NoError(t, err)

	_, resp := doJSONRPC(t, h, "", listReq)
	require.NotNil(t, resp.Error)
	require.Equal(t, jsonrpc.InvalidRequest, resp.Error.Code)
}

func TestHTTPHandler_FullHandshakeThenToolsList(t *testing.T) {
	router, closeSrv := newTestRouter(t)
	defer closeSrv()
	h := NewHTTPHandler(router, nil)

	initReq, err := jsonrpc.NewRequest(rawID(1), "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "test-client", "version": "1"},
		"capabilities":    map[string]any{},
	})
	require.NoError(t, err)
	rec, _ := doJSONRPC(t, h, "", initReq)
	sessionID := rec.Header().Get(sessionHeader)
	require.NotEmpty(t, sessionID)

	listReq, err := jsonrpc.NewRequest(rawID(2), "tools/list", nil)
	require.NoError(t, err)
	_, listResp := doJSONRPC(t, h, sessionID, listReq)
	require.Nil(t, listResp.Error)
	require.Contains(t, string(listResp.Result), "aaaaaaaa_add")
}

func TestHTTPHandler_UnknownSessionIDFails(t *testing.T) {
	router, closeSrv := newTestRouter(t)
	defer closeSrv()
	h := NewHTTPHandler(router, nil)

	listReq, err := jsonrpc.NewRequest(rawID(1), "tools/list", nil)
	require.NoError(t, err)
	_, resp := doJSONRPC(t, h, "does-not-exist", listReq)
	require.NotNil(t, resp.Error)
}

func TestHTTPHandler_GetMethodNotAllowed(t *testing.T) {
	router, closeSrv := newTestRouter(t)
	defer closeSrv()
	h := NewHTTPHandler(router, nil)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPHandler_DeleteClosesSession(t *testing.T) {
	router, closeSrv := newTestRouter(t)
	defer closeSrv()
	h := NewHTTPHandler(router, nil)

	initReq, err := jsonrpc.NewRequest(rawID(1), "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "test-client", "version": "1"},
		"capabilities":    map[string]any{},
	})
	require.NoError(t, err)
	rec, _ := doJSONRPC(t, h, "", initReq)
	sessionID := rec.Header().Get(sessionHeader)

	delReq := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	delReq.Header.Set(sessionHeader, sessionID)
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, delReq)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	listReq, err := jsonrpc.NewRequest(rawID(2), "tools/list", nil)
	require.NoError(t, err)
	_, listResp := doJSONRPC(t, h, sessionID, listReq)
	require.NotNil(t, listResp.Error)
}
