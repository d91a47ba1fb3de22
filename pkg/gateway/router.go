package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/mcpproto"
)

// internalToolListServers and internalToolRefreshCatalog are the fixed
// gateway-internal tools the Router adds to every merged catalog
// (spec.md §4.5). They are not namespaced since they belong to the gateway
// itself, not an upstream.
const (
	internalToolListServers    = "_gateway_list_servers"
	internalToolRefreshCatalog = "_gateway_refresh_catalog"
)

// ConfigStore is the slice of pkg/store the Router needs: the set of
// currently active servers and the enable-flag for a given tool.
type ConfigStore interface {
	ActiveServers(ctx context.Context) ([]*config.ServerConfig, error)
	ServerByID(ctx context.Context, id string) (*config.ServerConfig, error)
	IsToolEnabled(ctx context.Context, serverID, toolName string) (bool, error)
}

// Router presents the union of every active upstream's catalog, namespaced
// by an 8-character server id, and dispatches calls to the right Session.
type Router struct {
	store    ConfigStore
	sessions *SessionManager
	logger   *slog.Logger

	failedServers sync.Map // server_id -> struct{}, servers that failed catalog listing this round
}

// NewRouter builds a Router over store and sessions.
func NewRouter(store ConfigStore, sessions *SessionManager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Router{store: store, sessions: sessions, logger: logging.WithComponent(logger, "router")}
}

// ListTools assembles the merged, namespaced, enable-filtered tool catalog
// plus the gateway-internal tools.
func (r *Router) ListTools(ctx context.Context) ([]mcpproto.Tool, error) {
	servers, err := r.store.ActiveServers(ctx)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "listing active servers", err)
	}

	var tools []mcpproto.Tool
	for _, cfg := range servers {
		session, err := r.sessions.GetOrCreate(ctx, cfg)
		if err != nil {
			r.logger.Warn("session unavailable during catalog assembly", "server_id", cfg.ID, "error", err)
			r.failedServers.Store(cfg.ID, struct{}{})
			continue
		}
		r.failedServers.Delete(cfg.ID)

		for _, t := range session.Tools() {
			enabled, err := r.store.IsToolEnabled(ctx, cfg.ID, t.ToolName)
			if err != nil {
				enabled = t.IsEnabled
			}
			if !enabled {
				continue
			}
			tools = append(tools, mcpproto.Tool{
				Name:        cfg.ID + "_" + t.ToolName,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}

	tools = append(tools, internalTools()...)
	return tools, nil
}

// ListResources assembles the merged, namespaced resource catalog.
func (r *Router) ListResources(ctx context.Context) ([]mcpproto.Resource, error) {
	servers, err := r.store.ActiveServers(ctx)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "listing active servers", err)
	}

	var resources []mcpproto.Resource
	for _, cfg := range servers {
		session, err := r.sessions.GetOrCreate(ctx, cfg)
		if err != nil {
			r.logger.Warn("session unavailable during catalog assembly", "server_id", cfg.ID, "error", err)
			continue
		}
		for _, res := range session.Resources() {
			resources = append(resources, mcpproto.Resource{
				URI:         cfg.ID + "://" + res.URI,
				Name:        res.Name,
				Description: res.Description,
				MimeType:    res.MimeType,
			})
		}
	}
	return resources, nil
}

// ListPrompts assembles the merged, namespaced prompt catalog.
func (r *Router) ListPrompts(ctx context.Context) ([]mcpproto.Prompt, error) {
	servers, err := r.store.ActiveServers(ctx)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "listing active servers", err)
	}

	var prompts []mcpproto.Prompt
	for _, cfg := range servers {
		session, err := r.sessions.GetOrCreate(ctx, cfg)
		if err != nil {
			r.logger.Warn("session unavailable during catalog assembly", "server_id", cfg.ID, "error", err)
			continue
		}
		for _, p := range session.Prompts() {
			prompts = append(prompts, mcpproto.Prompt{
				Name:        cfg.ID + "_" + p.Name,
				Description: p.Description,
				Arguments:   p.Arguments,
			})
		}
	}
	return prompts, nil
}

// resolveServer splits a namespaced name/URI prefix and looks up the active
// server it names.
func (r *Router) resolveServer(ctx context.Context, serverID string) (*config.ServerConfig, error) {
	cfg, err := r.store.ServerByID(ctx, serverID)
	if err != nil || cfg == nil || !cfg.IsActive {
		return nil, gatewayerr.New(gatewayerr.KindUnknownServer, "unknown or inactive server: "+serverID)
	}
	return cfg, nil
}

// CallTool dispatches a tools/call for a namespaced name "<server_id>_<tool>".
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) (mcpproto.ToolCallResult, error) {
	if name == internalToolListServers || name == internalToolRefreshCatalog {
		return r.callInternalTool(ctx, name, args)
	}

	serverID, toolName, ok := SplitPrefixed(name)
	if !ok {
		return mcpproto.ToolCallResult{}, gatewayerr.New(gatewayerr.KindUnknownTool, "malformed tool name: "+name)
	}

	cfg, err := r.resolveServer(ctx, serverID)
	if err != nil {
		return mcpproto.ToolCallResult{}, err
	}

	session, err := r.sessions.GetOrCreate(ctx, cfg)
	if err != nil {
		return mcpproto.ToolCallResult{}, err
	}

	enabled, err := r.store.IsToolEnabled(ctx, serverID, toolName)
	if err != nil || !enabled || !session.HasTool(toolName) {
		return mcpproto.ToolCallResult{}, gatewayerr.New(gatewayerr.KindUnknownTool, "unknown or disabled tool: "+name)
	}

	return session.CallTool(ctx, toolName, args)
}

// ReadResource dispatches a resources/read for a namespaced URI
// "<server_id>://original_uri", forwarding the original URI unprefixed.
func (r *Router) ReadResource(ctx context.Context, uri string) (mcpproto.ResourceReadResult, error) {
	const sep = "://"
	idx := indexOf(uri, sep)
	if idx < 0 {
		return mcpproto.ResourceReadResult{}, gatewayerr.New(gatewayerr.KindUnknownResource, "malformed resource uri: "+uri)
	}
	serverID, original := uri[:idx], uri[idx+len(sep):]

	cfg, err := r.resolveServer(ctx, serverID)
	if err != nil {
		return mcpproto.ResourceReadResult{}, err
	}
	session, err := r.sessions.GetOrCreate(ctx, cfg)
	if err != nil {
		return mcpproto.ResourceReadResult{}, err
	}
	return session.ReadResource(ctx, original)
}

// GetPrompt dispatches a prompts/get for a namespaced name "<server_id>_<prompt>".
func (r *Router) GetPrompt(ctx context.Context, name string, args map[string]string) (mcpproto.PromptGetResult, error) {
	serverID, promptName, ok := SplitPrefixed(name)
	if !ok {
		return mcpproto.PromptGetResult{}, gatewayerr.New(gatewayerr.KindUnknownPrompt, "malformed prompt name: "+name)
	}

	cfg, err := r.resolveServer(ctx, serverID)
	if err != nil {
		return mcpproto.PromptGetResult{}, err
	}
	session, err := r.sessions.GetOrCreate(ctx, cfg)
	if err != nil {
		return mcpproto.PromptGetResult{}, err
	}
	return session.GetPrompt(ctx, promptName, args)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func internalTools() []mcpproto.Tool {
	return []mcpproto.Tool{
		{
			Name:        internalToolListServers,
			Description: "List every configured upstream MCP server and its current status.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        internalToolRefreshCatalog,
			Description: "Disconnect all upstream sessions so the next request rediscovers their catalogs.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		},
	}
}

func (r *Router) callInternalTool(ctx context.Context, name string, _ map[string]any) (mcpproto.ToolCallResult, error) {
	switch name {
	case internalToolListServers:
		servers, err := r.store.ActiveServers(ctx)
		if err != nil {
			return mcpproto.ToolCallResult{}, gatewayerr.Wrap(gatewayerr.KindInternal, "listing servers", err)
		}
		type serverStatus struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		}
		statuses := make([]serverStatus, 0, len(servers))
		for _, cfg := range servers {
			_, failed := r.failedServers.Load(cfg.ID)
			statuses = append(statuses, serverStatus{ID: cfg.ID, Name: cfg.Name, Healthy: !failed})
		}
		b, _ := json.Marshal(statuses)
		return mcpproto.ToolCallResult{Content: []mcpproto.Content{mcpproto.NewTextContent(string(b))}}, nil

	case internalToolRefreshCatalog:
		servers, err := r.store.ActiveServers(ctx)
		if err != nil {
			return mcpproto.ToolCallResult{}, gatewayerr.Wrap(gatewayerr.KindInternal, "listing servers", err)
		}
		for _, cfg := range servers {
			_ = r.sessions.Disconnect(ctx, cfg.ID)
		}
		return mcpproto.ToolCallResult{Content: []mcpproto.Content{mcpproto.NewTextContent("catalog will refresh on next request")}}, nil

	default:
		return mcpproto.ToolCallResult{}, gatewayerr.New(gatewayerr.KindUnknownTool, "unknown gateway tool: "+name)
	}
}

// clientState is the gateway-level MCP session state machine one downstream
// connection moves through (spec.md §4.5).
type clientState int32

const (
	clientFresh clientState = iota
	clientInitializing
	clientReady
	clientClosed
)

// ClientSession tracks one downstream connection's protocol state. The
// Router is otherwise stateless per call; this is the "apart from" in
// spec.md §4.5's concurrency note.
type ClientSession struct {
	state atomic.Int32
}

// NewClientSession returns a ClientSession in the fresh state.
func NewClientSession() *ClientSession {
	return &ClientSession{}
}

func (c *ClientSession) get() clientState  { return clientState(c.state.Load()) }
func (c *ClientSession) set(s clientState) { c.state.Store(int32(s)) }

// Close transitions the session to closed, terminal.
func (c *ClientSession) Close() { c.set(clientClosed) }

// HandleRequest enforces the gateway-level state machine and dispatches a
// single downstream JSON-RPC request, returning a well-formed response.
func (r *Router) HandleRequest(ctx context.Context, cs *ClientSession, req jsonrpc.Request) jsonrpc.Response {
	state := cs.get()

	if state == clientClosed {
		return gatewayerr.ToJSONRPC(req.ID, gatewayerr.New(gatewayerr.KindProtocolSequenceError, "session is closed"))
	}
	if req.Method != "initialize" && state != clientReady {
		return gatewayerr.ToJSONRPC(req.ID, gatewayerr.New(gatewayerr.KindProtocolSequenceError, "method "+req.Method+" called before initialize completed"))
	}

	switch req.Method {
	case "initialize":
		cs.set(clientInitializing)
		result := mcpproto.InitializeResult{
			ProtocolVersion: mcpproto.ProtocolVersion,
			ServerInfo:      mcpproto.ServerInfo{Name: "mcprouter", Version: "0.1.0"},
			Capabilities:    mcpproto.DefaultCapabilities(),
		}
		cs.set(clientReady)
		return jsonrpc.NewSuccessResponse(req.ID, result)

	case "initialized":
		return jsonrpc.Response{} // notification, no response

	case "tools/list":
		tools, err := r.ListTools(ctx)
		if err != nil {
			return gatewayerr.ToJSONRPC(req.ID, err)
		}
		return jsonrpc.NewSuccessResponse(req.ID, mcpproto.ToolsListResult{Tools: tools})

	case "tools/call":
		var params mcpproto.ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return gatewayerr.ToJSONRPC(req.ID, gatewayerr.Wrap(gatewayerr.KindInternal, "decoding tools/call params", err))
		}
		result, err := r.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return gatewayerr.ToJSONRPC(req.ID, err)
		}
		return jsonrpc.NewSuccessResponse(req.ID, result)

	case "resources/list":
		resources, err := r.ListResources(ctx)
		if err != nil {
			return gatewayerr.ToJSONRPC(req.ID, err)
		}
		return jsonrpc.NewSuccessResponse(req.ID, mcpproto.ResourcesListResult{Resources: resources})

	case "resources/read":
		var params mcpproto.ResourceReadParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return gatewayerr.ToJSONRPC(req.ID, gatewayerr.Wrap(gatewayerr.KindInternal, "decoding resources/read params", err))
		}
		result, err := r.ReadResource(ctx, params.URI)
		if err != nil {
			return gatewayerr.ToJSONRPC(req.ID, err)
		}
		return jsonrpc.NewSuccessResponse(req.ID, result)

	case "prompts/list":
		prompts, err := r.ListPrompts(ctx)
		if err != nil {
			return gatewayerr.ToJSONRPC(req.ID, err)
		}
		return jsonrpc.NewSuccessResponse(req.ID, mcpproto.PromptsListResult{Prompts: prompts})

	case "prompts/get":
		var params mcpproto.PromptGetParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return gatewayerr.ToJSONRPC(req.ID, gatewayerr.Wrap(gatewayerr.KindInternal, "decoding prompts/get params", err))
		}
		result, err := r.GetPrompt(ctx, params.Name, params.Arguments)
		if err != nil {
			return gatewayerr.ToJSONRPC(req.ID, err)
		}
		return jsonrpc.NewSuccessResponse(req.ID, result)

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, "method not found: "+req.Method)
	}
}
