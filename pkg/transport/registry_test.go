package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
)

func TestRegistry_CreateHTTPAndGet(t *testing.T) {
	r := NewRegistry(nil, nil)
	cfg := &config.ServerConfig{
		ID:            "aaaaaaaa",
		TransportKind: config.TransportHTTP,
		TransportConfig: &config.TransportConfig{
			Endpoint: "http://example.invalid",
		},
	}

	tr, err := r.Create(context.Background(), "aaaaaaaa", cfg, "")
	require.NoError(t, err)
	require.NotNil(t, tr)

	got, ok := r.Get("aaaaaaaa")
	require.True(t, ok)
	require.Same(t, tr, got)
}

func TestRegistry_CreateStdioWithoutAttacherFails(t *testing.T) {
	r := NewRegistry(nil, nil)
	cfg := &config.ServerConfig{
		ID:            "aaaaaaaa",
		TransportKind: config.TransportStdio,
	}

	_, err := r.Create(context.Background(), "aaaaaaaa", cfg, "container1")
	require.Error(t, err)
}

func TestRegistry_CreateHTTPWithoutEndpointFails(t *testing.T) {
	r := NewRegistry(nil, nil)
	cfg := &config.ServerConfig{
		ID:            "aaaaaaaa",
		TransportKind: config.TransportHTTP,
	}

	_, err := r.Create(context.Background(), "aaaaaaaa", cfg, "")
	require.Error(t, err)
}

func TestRegistry_CreateAttachedStdioWithoutExecerFails(t *testing.T) {
	r := NewRegistry(nil, nil)
	cfg := &config.ServerConfig{
		ID:            "aaaaaaaa",
		TransportKind: config.TransportStdio,
		StartCommand:  "start-server",
	}

	_, err := r.CreateAttached(context.Background(), "aaaaaaaa", cfg, "container1")
	require.Error(t, err)
}

func TestRegistry_CreateAttachedStdioUsesExecStdio(t *testing.T) {
	execer := &fakeExecer{conn: newFakeConn()}
	r := NewRegistry(execer, nil)
	cfg := &config.ServerConfig{
		ID:            "aaaaaaaa",
		TransportKind: config.TransportStdio,
		StartCommand:  "start-server",
	}

	tr, err := r.CreateAttached(context.Background(), "aaaaaaaa", cfg, "container1")
	require.NoError(t, err)
	require.IsType(t, &ExecStdio{}, tr)
	require.Equal(t, 1, execer.createCalls)
}

func TestRegistry_CreateAttachedHTTPIgnoresContainerID(t *testing.T) {
	r := NewRegistry(nil, nil)
	cfg := &config.ServerConfig{
		ID:            "aaaaaaaa",
		TransportKind: config.TransportHTTP,
		TransportConfig: &config.TransportConfig{
			Endpoint: "http://example.invalid",
		},
	}

	tr, err := r.CreateAttached(context.Background(), "aaaaaaaa", cfg, "")
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Remove("nonexistent"))
}

func TestRegistry_RemoveAllDisconnectsEverything(t *testing.T) {
	r := NewRegistry(nil, nil)
	cfg := &config.ServerConfig{
		ID:            "aaaaaaaa",
		TransportKind: config.TransportHTTP,
		TransportConfig: &config.TransportConfig{
			Endpoint: "http://example.invalid",
		},
	}
	_, err := r.Create(context.Background(), "aaaaaaaa", cfg, "")
	require.NoError(t, err)

	require.NoError(t, r.RemoveAll())

	_, ok := r.Get("aaaaaaaa")
	require.False(t, ok)
}
