package gateway

import (
	"context"
	"sync"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
)

// fakeStore is an in-memory ConfigStore for Router tests.
type fakeStore struct {
	mu      sync.Mutex
	servers map[string]*config.ServerConfig
	enabled map[string]bool // "server_id/tool_name" -> enabled
}

func newFakeStore() *fakeStore {
	return &fakeStore{servers: make(map[string]*config.ServerConfig), enabled: make(map[string]bool)}
}

func (f *fakeStore) addServer(cfg *config.ServerConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[cfg.ID] = cfg
}

func (f *fakeStore) setToolEnabled(serverID, tool string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[serverID+"/"+tool] = enabled
}

func (f *fakeStore) ActiveServers(context.Context) ([]*config.ServerConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*config.ServerConfig
	for _, s := range f.servers {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ServerByID(_ context.Context, id string) (*config.ServerConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[id], nil
}

func (f *fakeStore) IsToolEnabled(_ context.Context, serverID, toolName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enabled, ok := f.enabled[serverID+"/"+toolName]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

var _ ConfigStore = (*fakeStore)(nil)
