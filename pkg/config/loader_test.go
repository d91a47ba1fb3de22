package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadStack_ExpandsEnvAndAssignsIDs(t *testing.T) {
	t.Setenv("TEST_MCP_TOKEN", "s3cr3t")

	dir := t.TempDir()
	path := filepath.Join(dir, "stack.yaml")
	yamlContent := `
version: "1"
name: demo
servers:
  - name: echo-server
    runtime_kind: custom-image
    start_command: "python server.py"
    transport_kind: stdio
    is_active: true
    env:
      - key: TOKEN
        value: "${TEST_MCP_TOKEN}"
        is_secret: true
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	stack, err := LoadStack(path)
	require.NoError(t, err)
	require.Len(t, stack.Servers, 1)

	srv := stack.Servers[0]
	require.Len(t, srv.ID, 8)
	require.Equal(t, "s3cr3t", srv.EnvMap()["TOKEN"])
	require.Equal(t, BuildPending, srv.BuildStatus)
}

func TestLoadStack_MissingFile(t *testing.T) {
	_, err := LoadStack("/nonexistent/stack.yaml")
	require.Error(t, err)
}

func TestLoadStack_InvalidatesMissingStartCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - name: broken
    runtime_kind: custom-image
    transport_kind: stdio
`), 0644))

	_, err := LoadStack(path)
	require.Error(t, err)
}
