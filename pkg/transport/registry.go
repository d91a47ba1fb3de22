package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
)

// ContainerIO is the capability set the Registry needs from the container
// client: attaching to a running container's own PID 1 stdio for serve's
// Stdio transport, or exec'ing a one-off process inside it for connect's
// ExecStdio transport. pkg/runtime/docker's Client satisfies both.
type ContainerIO interface {
	ContainerAttacher
	ContainerExecer
}

// Registry owns the live Transport for every active session, keyed by
// server id. It is the single place that knows how a config.TransportKind
// maps onto a concrete wire-format implementation.
type Registry struct {
	attacher ContainerAttacher
	execer   ContainerExecer
	logger   *slog.Logger

	mu         sync.Mutex
	transports map[string]Interface
}

// NewRegistry builds a Registry. client is used to construct Stdio/ExecStdio
// transports against a running container; it may be nil if the registry
// will only ever be asked for HTTP/SSE transports.
func NewRegistry(client ContainerIO, logger *slog.Logger) *Registry {
	return &Registry{
		attacher:   client,
		execer:     client,
		logger:     logger,
		transports: make(map[string]Interface),
	}
}

// Create builds and connects a Transport for serverID from cfg, registering
// it under serverID. containerID is required for stdio and ignored
// otherwise. A prior Transport already registered for serverID is replaced
// without being disconnected — callers are expected to have torn down the
// old one first.
func (r *Registry) Create(ctx context.Context, serverID string, cfg *config.ServerConfig, containerID string) (Interface, error) {
	var t Interface

	switch cfg.TransportKind {
	case config.TransportStdio:
		if r.attacher == nil {
			return nil, gatewayerr.New(gatewayerr.KindInternal, "registry has no container attacher configured")
		}
		if containerID == "" {
			return nil, gatewayerr.New(gatewayerr.KindInternal, "stdio transport requires a container id")
		}
		t = NewStdio(serverID, containerID, r.attacher, r.logger)

	case config.TransportHTTP:
		if cfg.TransportConfig == nil || cfg.TransportConfig.Endpoint == "" {
			return nil, gatewayerr.New(gatewayerr.KindInternal, "http transport requires an endpoint")
		}
		t = NewHTTP(serverID, cfg.TransportConfig.Endpoint, cfg.TransportConfig.Headers, r.logger)

	case config.TransportSSE:
		if cfg.TransportConfig == nil || cfg.TransportConfig.Endpoint == "" {
			return nil, gatewayerr.New(gatewayerr.KindInternal, "sse transport requires an endpoint")
		}
		commandURL := cfg.TransportConfig.Endpoint
		eventsURL := fmt.Sprintf("%s/events", commandURL)
		t = NewSSE(serverID, commandURL, eventsURL, cfg.TransportConfig.Headers, r.logger)

	default:
		return nil, gatewayerr.New(gatewayerr.KindInternal, "unsupported transport kind: "+string(cfg.TransportKind))
	}

	if err := t.Connect(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.transports[serverID] = t
	r.mu.Unlock()

	return t, nil
}

// CreateAttached builds and connects a Transport for serverID against a
// container that must already be running, used by the connect CLI's
// attach-only sessions. Stdio-kind servers get an ExecStdio transport
// (exec -i, never attach to PID 1 or recreate the container); http/sse
// servers dial their configured endpoint exactly as Create does, since no
// container is involved either way.
func (r *Registry) CreateAttached(ctx context.Context, serverID string, cfg *config.ServerConfig, containerID string) (Interface, error) {
	if cfg.TransportKind != config.TransportStdio {
		return r.Create(ctx, serverID, cfg, containerID)
	}
	if r.execer == nil {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "registry has no container execer configured")
	}
	if containerID == "" {
		return nil, gatewayerr.New(gatewayerr.KindInternal, "exec stdio transport requires a container id")
	}

	t := NewExecStdio(serverID, containerID, []string{"/bin/sh", "-c", cfg.StartCommand}, r.execer, r.logger)
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.transports[serverID] = t
	r.mu.Unlock()

	return t, nil
}

// Get returns the Transport registered for serverID, if any.
func (r *Registry) Get(serverID string) (Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[serverID]
	return t, ok
}

// Remove disconnects and unregisters the Transport for serverID. Removing
// an id with no registered Transport is a no-op.
func (r *Registry) Remove(serverID string) error {
	r.mu.Lock()
	t, ok := r.transports[serverID]
	delete(r.transports, serverID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return t.Disconnect()
}

// RemoveAll disconnects and unregisters every Transport. Disconnect errors
// are collected but do not stop the sweep; callers typically only care that
// everything was attempted.
func (r *Registry) RemoveAll() error {
	r.mu.Lock()
	all := r.transports
	r.transports = make(map[string]Interface)
	r.mu.Unlock()

	var firstErr error
	for id, t := range all {
		if err := t.Disconnect(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnecting %s: %w", id, err)
		}
	}
	return firstErr
}
