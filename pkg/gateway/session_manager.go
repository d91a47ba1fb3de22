package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/transport"
)

// evictionInterval is how often the background worker checks for idle
// Sessions (spec.md §4.4).
const evictionInterval = 60 * time.Second

// creation tracks a single in-flight Session.Start call so concurrent
// callers for the same server_id coalesce onto it instead of racing to
// create duplicate containers.
type creation struct {
	done    chan struct{}
	session *Session
	err     error
}

// ToolCatalogStore is the slice of pkg/store the Session Manager needs to
// persist the catalog a successful discovery produces, so the enable-flag
// store has a row to flip once a tool actually exists (spec.md §3: a
// ToolRecord is "re-created on every successful discovery").
type ToolCatalogStore interface {
	ReplaceToolCatalog(ctx context.Context, serverID string, tools []config.ToolRecord) error
}

// SessionManager holds at most one live Session per server_id and owns the
// background eviction worker that disconnects idle ones.
type SessionManager struct {
	stack        string
	rt           runtime.WorkloadRuntime
	transports   *transport.Registry
	catalogStore ToolCatalogStore
	logger       *slog.Logger

	// attachOnly makes GetOrCreate bind to already-running containers via
	// Session.Attach instead of provisioning new ones via Session.Start —
	// the CLI's connect mode never creates or recreates a container.
	attachOnly bool

	mu        sync.Mutex
	sessions  map[string]*Session
	inflight  map[string]*creation
	stopEvict chan struct{}
	evictOnce sync.Once
}

// NewSessionManager builds a SessionManager that provisions containers on
// demand (the serve daemon's mode). Call Run to start its background
// eviction worker.
func NewSessionManager(stack string, rt runtime.WorkloadRuntime, transports *transport.Registry, catalogStore ToolCatalogStore, logger *slog.Logger) *SessionManager {
	return newSessionManager(stack, rt, transports, catalogStore, logger, false)
}

// NewAttachOnlySessionManager builds a SessionManager that only attaches to
// containers already running under stack, for the connect CLI's lightweight
// exec-mode entry point.
func NewAttachOnlySessionManager(stack string, rt runtime.WorkloadRuntime, transports *transport.Registry, catalogStore ToolCatalogStore, logger *slog.Logger) *SessionManager {
	return newSessionManager(stack, rt, transports, catalogStore, logger, true)
}

func newSessionManager(stack string, rt runtime.WorkloadRuntime, transports *transport.Registry, catalogStore ToolCatalogStore, logger *slog.Logger, attachOnly bool) *SessionManager {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &SessionManager{
		stack:        stack,
		rt:           rt,
		transports:   transports,
		catalogStore: catalogStore,
		attachOnly:   attachOnly,
		logger:       logging.WithComponent(logger, "session_manager"),
		sessions:     make(map[string]*Session),
		inflight:     make(map[string]*creation),
		stopEvict:    make(chan struct{}),
	}
}

// GetOrCreate returns the live Session for cfg.ID, creating and starting one
// if absent or dead. Concurrent callers for the same server_id coalesce
// onto a single in-flight creation.
func (m *SessionManager) GetOrCreate(ctx context.Context, cfg *config.ServerConfig) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[cfg.ID]; ok && !s.IsDead() {
		m.mu.Unlock()
		return s, nil
	}
	if c, ok := m.inflight[cfg.ID]; ok {
		m.mu.Unlock()
		<-c.done
		return c.session, c.err
	}

	c := &creation{done: make(chan struct{})}
	m.inflight[cfg.ID] = c
	m.mu.Unlock()

	session := NewSession(cfg, m.stack, m.rt, m.transports, m.logger)
	var err error
	if m.attachOnly {
		err = session.Attach(ctx)
	} else {
		err = session.Start(ctx)
	}

	m.mu.Lock()
	delete(m.inflight, cfg.ID)
	if err == nil {
		m.sessions[cfg.ID] = session
	}
	m.mu.Unlock()

	if err == nil && m.catalogStore != nil {
		if catErr := m.catalogStore.ReplaceToolCatalog(ctx, cfg.ID, session.Tools()); catErr != nil {
			m.logger.Warn("persisting tool catalog", "server_id", cfg.ID, "error", catErr)
		}
	}

	c.session, c.err = session, err
	if err != nil {
		c.session = nil
	}
	close(c.done)
	return c.session, c.err
}

// Disconnect tears down and removes the Session for serverID, if any.
func (m *SessionManager) Disconnect(ctx context.Context, serverID string) error {
	m.mu.Lock()
	s, ok := m.sessions[serverID]
	delete(m.sessions, serverID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// CleanupAll tears down every live Session. Used on gateway shutdown.
func (m *SessionManager) CleanupAll(ctx context.Context) {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range all {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("closing session during cleanup", "server_id", id, "error", err)
		}
	}
}

// Run starts the background eviction worker. It blocks until ctx is
// cancelled or Stop is called.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopEvict:
			return
		case <-ticker.C:
			m.evictIdle(ctx)
		}
	}
}

// Stop halts the background eviction worker without tearing down any
// Session. Idempotent.
func (m *SessionManager) Stop() {
	m.evictOnce.Do(func() { close(m.stopEvict) })
}

func (m *SessionManager) evictIdle(ctx context.Context) {
	m.mu.Lock()
	var idleIDs []string
	for id, s := range m.sessions {
		if s.IsDead() || s.IsIdle() {
			idleIDs = append(idleIDs, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idleIDs {
		if err := m.Disconnect(ctx, id); err != nil {
			m.logger.Warn("evicting idle session", "server_id", id, "error", err)
		} else {
			m.logger.Debug("evicted idle session", "server_id", id)
		}
	}
}
