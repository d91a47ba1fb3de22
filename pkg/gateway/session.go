// Package gateway implements the Session/SessionManager/Router triad that
// turns a set of configured upstream MCP servers into one merged,
// namespaced MCP surface (spec.md §4.3-§4.5).
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/mcpproto"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime/docker"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/transport"
)

// idleTimeout is how long a Session may sit unused before the Session
// Manager's eviction worker is allowed to tear it down (spec.md §4.3).
const idleTimeout = 5 * time.Minute

// startupTimeout bounds a Session's entire creation sequence: container
// start, install, handshake, discovery (spec.md §5).
const startupTimeout = 5 * time.Minute

// Session binds one upstream server's container and Transport and keeps
// enough state (capabilities, catalog snapshot, activity clock) for the
// Router to use it without re-deriving anything per call.
type Session struct {
	serverID string
	cfg      *config.ServerConfig
	stack    string

	rt         runtime.WorkloadRuntime
	transports *transport.Registry
	logger     *slog.Logger

	mu            sync.Mutex
	workloadID    runtime.WorkloadID
	ownsContainer bool
	conn          transport.Interface
	capabilities  mcpproto.Capabilities
	tools         []config.ToolRecord
	resources     []mcpproto.Resource
	prompts       []mcpproto.Prompt
	lastActivity  time.Time
	dead          bool
}

// NewSession builds an unstarted Session. Call Start before using it.
func NewSession(cfg *config.ServerConfig, stack string, rt runtime.WorkloadRuntime, transports *transport.Registry, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Session{
		serverID:   cfg.ID,
		cfg:        cfg,
		stack:      stack,
		rt:         rt,
		transports: transports,
		logger:     logging.WithComponent(logger, "session").With("server_id", cfg.ID),
	}
}

// networkName is the bridge network every server container in a stack joins.
func networkName(stack string) string {
	return "mcprouter-" + stack
}

// containerCommand combines install_command and start_command into the
// single shell invocation that becomes the container's entrypoint. Upstream
// stdio servers must run as the container's PID 1 for Docker's attach API
// to expose their stdio, so install and start cannot be separate
// short-lived exec calls against an otherwise-idle container: they are one
// script, run once, in order.
func containerCommand(cfg *config.ServerConfig) []string {
	script := cfg.StartCommand
	if cfg.InstallCommand != "" {
		script = cfg.InstallCommand + " && " + cfg.StartCommand
	}
	return []string{"/bin/sh", "-c", script}
}

// Start runs the Session's seven-step creation sequence. Failure at any
// step tears down everything allocated by prior steps and returns a
// SessionStartFailed error tagged with the failing step name.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	exposedPort := 0
	if s.cfg.TransportKind != config.TransportStdio {
		exposedPort = config.DefaultContainerPort
		if s.cfg.TransportConfig != nil && s.cfg.TransportConfig.Port > 0 {
			exposedPort = s.cfg.TransportConfig.Port
		}
	}

	// Step 1 (+2,3 collapsed into the container's command, see containerCommand).
	status, err := s.rt.Start(ctx, runtime.WorkloadConfig{
		Name:        s.serverID,
		Stack:       s.stack,
		Type:        runtime.WorkloadTypeMCPServer,
		Image:       s.cfg.ImageTag,
		Command:     containerCommand(s.cfg),
		Env:         s.cfg.EnvMap(),
		NetworkName: networkName(s.stack),
		ExposedPort: exposedPort,
		Transport:   string(s.cfg.TransportKind),
		Labels:      docker.ServerLabels(s.stack, s.serverID, s.cfg.Name),
	})
	if err != nil {
		return gatewayerr.SessionStartFailed("container_start", err)
	}
	s.mu.Lock()
	s.workloadID = status.ID
	s.ownsContainer = true
	s.mu.Unlock()

	return s.connectAndDiscover(ctx, func(ctx context.Context, containerID string) (transport.Interface, error) {
		return s.transports.Create(ctx, s.serverID, s.cfg, containerID)
	})
}

// Attach binds to a container that must already be running, the lightweight
// path the CLI's connect mode uses (spec.md §4.6 Exec-mode): it never runs
// "docker run" and, unlike Start, doesn't own the container's lifecycle —
// Close leaves it running for whatever else (typically a serve daemon) is
// using it.
func (s *Session) Attach(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	name := docker.ContainerName(s.stack, s.serverID)
	exists, id, err := s.rt.Exists(ctx, name)
	if err != nil {
		return gatewayerr.SessionStartFailed("container_attach", fmt.Errorf("checking container %s: %w", name, err))
	}
	if !exists {
		return gatewayerr.SessionStartFailed("container_attach", fmt.Errorf("container %s is not running; start it with serve first", name))
	}
	status, err := s.rt.Status(ctx, id)
	if err != nil {
		return gatewayerr.SessionStartFailed("container_attach", err)
	}
	if status.State != runtime.WorkloadStateRunning {
		return gatewayerr.SessionStartFailed("container_attach", fmt.Errorf("container %s is not running (state=%s)", name, status.State))
	}

	s.mu.Lock()
	s.workloadID = id
	s.mu.Unlock()

	return s.connectAndDiscover(ctx, func(ctx context.Context, containerID string) (transport.Interface, error) {
		return s.transports.CreateAttached(ctx, s.serverID, s.cfg, containerID)
	})
}

// connectAndDiscover runs steps 4-7 of the creation sequence: connect the
// Transport createTransport builds, perform the initialize handshake, and
// discover the upstream's catalog. Shared by Start (which provisions the
// container first) and Attach (which requires one to already exist).
func (s *Session) connectAndDiscover(ctx context.Context, createTransport func(ctx context.Context, containerID string) (transport.Interface, error)) error {
	s.mu.Lock()
	id := s.workloadID
	s.mu.Unlock()

	// Step 4: create and connect the Transport.
	conn, err := createTransport(ctx, string(id))
	if err != nil {
		s.teardownContainer(ctx)
		return gatewayerr.SessionStartFailed("transport_connect", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	// Step 5: initialize handshake.
	initResult, err := s.initialize(ctx)
	if err != nil {
		s.teardownAll(ctx)
		return gatewayerr.SessionStartFailed("initialize", err)
	}

	// Step 6: store capabilities, send initialized.
	s.mu.Lock()
	s.capabilities = initResult.Capabilities
	s.mu.Unlock()
	if err := conn.Notify(ctx, "initialized", struct{}{}); err != nil {
		s.teardownAll(ctx)
		return gatewayerr.SessionStartFailed("initialize", err)
	}

	// Step 7: discover tools/resources/prompts.
	if err := s.discover(ctx, initResult.Capabilities); err != nil {
		s.teardownAll(ctx)
		return gatewayerr.SessionStartFailed("discover", err)
	}

	s.touch()
	return nil
}

func (s *Session) initialize(ctx context.Context) (mcpproto.InitializeResult, error) {
	raw, err := s.conn.Request(ctx, "initialize", mcpproto.InitializeParams{
		ProtocolVersion: mcpproto.ProtocolVersion,
		ClientInfo:      mcpproto.ClientInfo{Name: "mcprouter", Version: "1"},
		Capabilities:    mcpproto.DefaultCapabilities(),
	})
	if err != nil {
		return mcpproto.InitializeResult{}, err
	}
	var result mcpproto.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return mcpproto.InitializeResult{}, fmt.Errorf("decoding initialize result: %w", err)
	}
	return result, nil
}

// discover calls <category>/list for every capability category the
// upstream advertised and normalizes the results into this Session's
// catalog snapshot.
func (s *Session) discover(ctx context.Context, caps mcpproto.Capabilities) error {
	var tools []config.ToolRecord
	var resources []mcpproto.Resource
	var prompts []mcpproto.Prompt

	if caps.Tools != nil {
		raw, err := s.conn.Request(ctx, "tools/list", struct{}{})
		if err != nil {
			return fmt.Errorf("listing tools: %w", err)
		}
		var result mcpproto.ToolsListResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("decoding tools/list: %w", err)
		}
		for _, t := range result.Tools {
			tools = append(tools, config.ToolRecord{
				ServerID:    s.serverID,
				ToolName:    t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
				IsEnabled:   true,
			})
		}
	}

	if caps.Resources != nil {
		raw, err := s.conn.Request(ctx, "resources/list", struct{}{})
		if err != nil {
			return fmt.Errorf("listing resources: %w", err)
		}
		var result mcpproto.ResourcesListResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("decoding resources/list: %w", err)
		}
		resources = result.Resources
	}

	if caps.Prompts != nil {
		raw, err := s.conn.Request(ctx, "prompts/list", struct{}{})
		if err != nil {
			return fmt.Errorf("listing prompts: %w", err)
		}
		var result mcpproto.PromptsListResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("decoding prompts/list: %w", err)
		}
		prompts = result.Prompts
	}

	s.mu.Lock()
	s.tools = tools
	s.resources = resources
	s.prompts = prompts
	s.mu.Unlock()
	return nil
}

func (s *Session) teardownContainer(ctx context.Context) {
	s.mu.Lock()
	id := s.workloadID
	owns := s.ownsContainer
	s.mu.Unlock()
	if id == "" || !owns {
		return
	}
	if err := s.rt.Stop(ctx, id); err != nil {
		s.logger.Warn("stopping container during rollback", "error", err)
	}
	if err := s.rt.Remove(ctx, id); err != nil {
		s.logger.Warn("removing container during rollback", "error", err)
	}
}

func (s *Session) teardownAll(ctx context.Context) {
	if err := s.transports.Remove(s.serverID); err != nil {
		s.logger.Warn("disconnecting transport during rollback", "error", err)
	}
	s.teardownContainer(ctx)
}

// Close disconnects the Session's Transport and, when the Session created
// its own container (Start rather than Attach), stops and removes it.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()

	var firstErr error
	if err := s.transports.Remove(s.serverID); err != nil {
		firstErr = err
	}
	s.mu.Lock()
	id := s.workloadID
	owns := s.ownsContainer
	s.mu.Unlock()
	if id != "" && owns {
		if err := s.rt.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.rt.Remove(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IsIdle reports whether this Session has had no activity for longer than
// idleTimeout.
func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) > idleTimeout
}

// IsDead reports whether this Session has been marked dead, either by an
// explicit Close or by its Transport reporting disconnection.
func (s *Session) IsDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

func (s *Session) markDead() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

// Tools returns a snapshot of this Session's discovered tool catalog.
func (s *Session) Tools() []config.ToolRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]config.ToolRecord(nil), s.tools...)
}

// Resources returns a snapshot of this Session's discovered resource catalog.
func (s *Session) Resources() []mcpproto.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mcpproto.Resource(nil), s.resources...)
}

// Prompts returns a snapshot of this Session's discovered prompt catalog.
func (s *Session) Prompts() []mcpproto.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mcpproto.Prompt(nil), s.prompts...)
}

// CallTool forwards a tools/call to the upstream, unprefixed.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (mcpproto.ToolCallResult, error) {
	defer s.touch()
	raw, err := s.conn.Request(ctx, "tools/call", mcpproto.ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		s.markDeadIfClosed(err)
		return mcpproto.ToolCallResult{}, err
	}
	var result mcpproto.ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return mcpproto.ToolCallResult{}, gatewayerr.Wrap(gatewayerr.KindInternal, "decoding tools/call result", err)
	}
	return result, nil
}

// ReadResource forwards a resources/read to the upstream with its original,
// unprefixed URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (mcpproto.ResourceReadResult, error) {
	defer s.touch()
	raw, err := s.conn.Request(ctx, "resources/read", mcpproto.ResourceReadParams{URI: uri})
	if err != nil {
		s.markDeadIfClosed(err)
		return mcpproto.ResourceReadResult{}, err
	}
	var result mcpproto.ResourceReadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return mcpproto.ResourceReadResult{}, gatewayerr.Wrap(gatewayerr.KindInternal, "decoding resources/read result", err)
	}
	return result, nil
}

// GetPrompt forwards a prompts/get to the upstream, unprefixed.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (mcpproto.PromptGetResult, error) {
	defer s.touch()
	raw, err := s.conn.Request(ctx, "prompts/get", mcpproto.PromptGetParams{Name: name, Arguments: args})
	if err != nil {
		s.markDeadIfClosed(err)
		return mcpproto.PromptGetResult{}, err
	}
	var result mcpproto.PromptGetResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return mcpproto.PromptGetResult{}, gatewayerr.Wrap(gatewayerr.KindInternal, "decoding prompts/get result", err)
	}
	return result, nil
}

// markDeadIfClosed marks the Session dead when its Transport reports itself
// closed, so the Router's next lookup triggers a fresh create instead of
// reusing a corpse (spec.md §4.3: "Transport disconnect after a Session is
// live").
func (s *Session) markDeadIfClosed(err error) {
	if gatewayerr.As(err, gatewayerr.KindTransportClosed) {
		s.markDead()
	}
}

// HasTool reports whether toolName is present and enabled in this Session's
// last discovered catalog.
func (s *Session) HasTool(toolName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tools {
		if t.ToolName == toolName {
			return t.IsEnabled
		}
	}
	return false
}

// SetToolEnabled flips a tool's enable flag in this Session's in-memory
// catalog snapshot. It does not write the durable enable-flag store.
func (s *Session) SetToolEnabled(toolName string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tools {
		if s.tools[i].ToolName == toolName {
			s.tools[i].IsEnabled = enabled
		}
	}
}

// SplitPrefixed splits a Router-facing name of the form "<server_id>_<rest>"
// on the first underscore. The prefix is the 8-character server id, never
// the server's human name.
func SplitPrefixed(name string) (serverID, rest string, ok bool) {
	idx := strings.IndexByte(name, '_')
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}
