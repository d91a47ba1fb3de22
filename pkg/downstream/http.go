package downstream

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gateway"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/mcpproto"
)

// sessionHeader carries the downstream session id once initialize has
// established one, the same role the teacher's SSESession query-string id
// plays for its SSE transport, adapted to a request header since this
// adapter has no persistent stream to key a session off of.
const sessionHeader = "Mcp-Session-Id"

// HTTPHandler exposes a Router over HTTP at a single POST endpoint,
// matching spec.md §6's `serve http` mode. Each call's session is tracked
// by an opaque id minted on initialize and echoed back in sessionHeader.
type HTTPHandler struct {
	router *gateway.Router
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*gateway.ClientSession
}

// NewHTTPHandler builds an HTTPHandler wrapping router.
func NewHTTPHandler(router *gateway.Router, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &HTTPHandler{
		router:   router,
		logger:   logging.WithComponent(logger, "downstream_http"),
		sessions: make(map[string]*gateway.ClientSession),
	}
}

// ServeHTTP implements http.Handler. POST carries JSON-RPC requests and
// DELETE closes the session named by the Mcp-Session-Id header; every other
// method is rejected. The MCP protocol version in scope (2024-11-05)
// requires no GET/SSE leg for this gateway's downstream surface.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		h.CloseSession(r.Header.Get(sessionHeader))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, mcpproto.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.write(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "failed to read request body"))
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.write(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" {
		h.write(w, jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidRequest, "invalid JSON-RPC version"))
		return
	}

	cs, sessionID, isNew := h.sessionFor(r, req.Method)
	if cs == nil {
		h.write(w, jsonrpc.NewErrorResponse(req.ID, jsonrpc.InvalidRequest, "missing or unknown "+sessionHeader))
		return
	}

	resp := h.router.HandleRequest(r.Context(), cs, req)
	if isNew {
		w.Header().Set(sessionHeader, sessionID)
	}
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.write(w, resp)
}

// sessionFor resolves the ClientSession for a request: reuses an existing
// one by header, or mints a new one when method is "initialize" and no
// header was sent.
func (h *HTTPHandler) sessionFor(r *http.Request, method string) (*gateway.ClientSession, string, bool) {
	if id := r.Header.Get(sessionHeader); id != "" {
		h.mu.RLock()
		cs, ok := h.sessions[id]
		h.mu.RUnlock()
		if ok {
			return cs, id, false
		}
		return nil, "", false
	}

	if method != "initialize" {
		return nil, "", false
	}

	id := newSessionID()
	cs := gateway.NewClientSession()
	h.mu.Lock()
	h.sessions[id] = cs
	h.mu.Unlock()
	return cs, id, true
}

// CloseSession tears down one downstream session, e.g. on a DELETE to the
// MCP endpoint signaling client shutdown.
func (h *HTTPHandler) CloseSession(id string) {
	h.mu.Lock()
	cs, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		cs.Close()
	}
}

func (h *HTTPHandler) write(w http.ResponseWriter, resp jsonrpc.Response) {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

func newSessionID() string {
	return uuid.New().String()
}
