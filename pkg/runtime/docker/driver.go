package docker

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime"
)

// Runtime implements runtime.WorkloadRuntime against a Docker daemon. It is
// the Container Supervisor's engine: one container per upstream MCP server.
type Runtime struct {
	cli Client
}

// New creates a Runtime using environment-default Docker connection settings.
func New() (*Runtime, error) {
	cli, err := NewDockerClient()
	if err != nil {
		return nil, err
	}
	return &Runtime{cli: cli}, nil
}

// NewWithClient builds a Runtime around an already-constructed client,
// letting tests substitute a fake.
func NewWithClient(cli Client) *Runtime {
	return &Runtime{cli: cli}
}

// Client exposes the underlying Docker client for the Stdio transport's
// ContainerAttach and for container log retrieval.
func (d *Runtime) Client() Client {
	return d.cli
}

// Start starts a workload, creating its container if it doesn't already
// exist under the deterministic name for (stack, server).
func (d *Runtime) Start(ctx context.Context, cfg runtime.WorkloadConfig) (*runtime.WorkloadStatus, error) {
	containerName := ContainerName(cfg.Stack, cfg.Name)

	exists, containerID, err := ContainerExists(ctx, d.cli, containerName)
	if err != nil {
		return nil, err
	}

	if exists {
		if err := StartContainer(ctx, d.cli, containerID); err != nil {
			return nil, err
		}
		return d.Status(ctx, runtime.WorkloadID(containerID))
	}

	containerID, err = CreateContainer(ctx, d.cli, ContainerConfig{
		Name:        containerName,
		Image:       cfg.Image,
		Command:     cfg.Command,
		Env:         cfg.Env,
		Port:        cfg.ExposedPort,
		HostPort:    cfg.HostPort,
		NetworkName: cfg.NetworkName,
		Labels:      cfg.Labels,
		Transport:   cfg.Transport,
		Volumes:     cfg.Volumes,
	})
	if err != nil {
		return nil, err
	}

	if err := StartContainer(ctx, d.cli, containerID); err != nil {
		return nil, err
	}
	return d.Status(ctx, runtime.WorkloadID(containerID))
}

// Stop stops a running workload, giving it 10s to exit gracefully before
// the daemon sends SIGKILL.
func (d *Runtime) Stop(ctx context.Context, id runtime.WorkloadID) error {
	return StopContainer(ctx, d.cli, string(id), 10)
}

// Remove force-removes a workload's container.
func (d *Runtime) Remove(ctx context.Context, id runtime.WorkloadID) error {
	return RemoveContainer(ctx, d.cli, string(id), true)
}

// Status returns the current status of a workload.
func (d *Runtime) Status(ctx context.Context, id runtime.WorkloadID) (*runtime.WorkloadStatus, error) {
	info, err := d.cli.ContainerInspect(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("inspecting container: %w", err)
	}

	state := dockerStateToWorkloadState(info.State.Status)

	name := info.Name
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}

	hostPort := 0
	for _, bindings := range info.NetworkSettings.Ports {
		if len(bindings) > 0 {
			_, _ = fmt.Sscanf(bindings[0].HostPort, "%d", &hostPort)
			break
		}
	}

	endpoint := ""
	if hostPort > 0 {
		endpoint = fmt.Sprintf("localhost:%d", hostPort)
	}

	return &runtime.WorkloadStatus{
		ID:       id,
		Name:     name,
		Stack:    info.Config.Labels[LabelStack],
		Type:     runtime.WorkloadTypeMCPServer,
		State:    state,
		Message:  info.State.Status,
		Endpoint: endpoint,
		HostPort: hostPort,
		Image:    info.Config.Image,
		Labels:   info.Config.Labels,
	}, nil
}

func dockerStateToWorkloadState(status string) runtime.WorkloadState {
	switch status {
	case "running":
		return runtime.WorkloadStateRunning
	case "exited", "dead":
		return runtime.WorkloadStateStopped
	case "created", "restarting":
		return runtime.WorkloadStateCreating
	default:
		return runtime.WorkloadStateUnknown
	}
}

// Exists checks if a workload exists by its deterministic container name.
func (d *Runtime) Exists(ctx context.Context, name string) (bool, runtime.WorkloadID, error) {
	exists, id, err := ContainerExists(ctx, d.cli, name)
	return exists, runtime.WorkloadID(id), err
}

// List returns all mcprouter-managed workloads, optionally filtered by stack.
func (d *Runtime) List(ctx context.Context, filter runtime.WorkloadFilter) ([]runtime.WorkloadStatus, error) {
	containers, err := ListManagedContainers(ctx, d.cli, filter.Stack)
	if err != nil {
		return nil, err
	}

	statuses := make([]runtime.WorkloadStatus, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}

		statuses = append(statuses, runtime.WorkloadStatus{
			ID:      runtime.WorkloadID(c.ID),
			Name:    name,
			Stack:   c.Labels[LabelStack],
			Type:    runtime.WorkloadTypeMCPServer,
			State:   dockerStateToWorkloadState(c.State),
			Message: c.Status,
			Image:   c.Image,
			Labels:  c.Labels,
		})
	}
	return statuses, nil
}

// GetHostPort returns the host port bound to a workload's exposed port.
func (d *Runtime) GetHostPort(ctx context.Context, id runtime.WorkloadID, exposedPort int) (int, error) {
	info, err := d.cli.ContainerInspect(ctx, string(id))
	if err != nil {
		return 0, fmt.Errorf("inspecting container: %w", err)
	}

	portKey := nat.Port(fmt.Sprintf("%d/tcp", exposedPort))
	if bindings, ok := info.NetworkSettings.Ports[portKey]; ok && len(bindings) > 0 {
		var hostPort int
		_, _ = fmt.Sscanf(bindings[0].HostPort, "%d", &hostPort)
		return hostPort, nil
	}
	return 0, fmt.Errorf("no host port binding for container port %d", exposedPort)
}

// EnsureNetwork creates the stack's bridge network if it doesn't exist.
func (d *Runtime) EnsureNetwork(ctx context.Context, name string, opts runtime.NetworkOptions) error {
	_, err := EnsureNetwork(ctx, d.cli, name, opts.Driver, opts.Stack)
	return err
}

// ListNetworks returns all mcprouter-managed networks for a stack.
func (d *Runtime) ListNetworks(ctx context.Context, stack string) ([]string, error) {
	return ListManagedNetworks(ctx, d.cli, stack)
}

// RemoveNetwork removes a network by name.
func (d *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	return RemoveNetwork(ctx, d.cli, name)
}

// EnsureImage ensures imageName is present locally, pulling it if not.
func (d *Runtime) EnsureImage(ctx context.Context, imageName string) error {
	return EnsureImage(ctx, d.cli, imageName)
}

// Ping checks that the Docker daemon is reachable.
func (d *Runtime) Ping(ctx context.Context) error {
	return Ping(ctx, d.cli)
}

// Close releases the underlying Docker client's resources.
func (d *Runtime) Close() error {
	return d.cli.Close()
}

// Exec runs shellCommand inside the given workload's container and blocks
// until it exits, returning combined stdout+stderr for diagnostics.
func (d *Runtime) Exec(ctx context.Context, id runtime.WorkloadID, shellCommand string) (string, error) {
	return RunInstallCommand(ctx, d.cli, string(id), shellCommand)
}

var _ runtime.WorkloadRuntime = (*Runtime)(nil)
