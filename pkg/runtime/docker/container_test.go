package docker

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
)

func TestCreateContainer_StdioAttachesStdio(t *testing.T) {
	cli := newFakeClient()

	id, err := CreateContainer(context.Background(), cli, ContainerConfig{
		Name:        "mcprouter-demo-aaaaaaaa",
		Image:       "mcprouter/echo:latest",
		Transport:   "stdio",
		NetworkName: "mcprouter-demo",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	created := cli.containers[id]
	require.True(t, created.Config.OpenStdin)
	require.True(t, created.Config.AttachStdin)
	require.True(t, created.Config.AttachStdout)
}

func TestCreateContainer_HTTPDoesNotAttachStdio(t *testing.T) {
	cli := newFakeClient()

	id, err := CreateContainer(context.Background(), cli, ContainerConfig{
		Name:        "mcprouter-demo-bbbbbbbb",
		Image:       "mcprouter/weather:latest",
		Transport:   "http",
		Port:        8080,
		NetworkName: "mcprouter-demo",
	})
	require.NoError(t, err)

	created := cli.containers[id]
	require.False(t, created.Config.OpenStdin)
	require.Contains(t, created.Config.ExposedPorts, nat.Port("8080/tcp"))
}

func TestContainerExists_MatchesByName(t *testing.T) {
	cli := newFakeClient()
	cli.listing = []types.Container{
		{ID: "c1", Names: []string{"/mcprouter-demo-aaaaaaaa"}},
	}

	exists, id, err := ContainerExists(context.Background(), cli, "mcprouter-demo-aaaaaaaa")
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, "c1", id)
}

func TestContainerExists_NoMatch(t *testing.T) {
	cli := newFakeClient()
	exists, _, err := ContainerExists(context.Background(), cli, "nonexistent")
	require.NoError(t, err)
	require.False(t, exists)
}
