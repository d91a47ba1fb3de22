package docker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"
)

// RunInstallCommand runs shellCommand inside an already-running container
// via `exec`, blocking until it exits. It returns combined stdout+stderr,
// truncated, for inclusion in a SessionStartFailed error — never raw
// container output to a downstream client (spec.md §7).
func RunInstallCommand(ctx context.Context, cli Client, containerID, shellCommand string) (string, error) {
	if shellCommand == "" {
		return "", nil
	}

	execID, err := cli.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          []string{"/bin/sh", "-c", shellCommand},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("creating exec: %w", err)
	}

	attached, err := cli.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return "", fmt.Errorf("attaching to exec: %w", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return "", fmt.Errorf("reading exec output: %w", err)
	}

	exitCode, err := waitExecExit(ctx, cli, execID.ID)
	if err != nil {
		return "", err
	}

	combined := stdout.String() + stderr.String()
	if len(combined) > 4096 {
		combined = combined[:4096] + "...(truncated)"
	}
	if exitCode != 0 {
		return combined, fmt.Errorf("install command exited with status %d", exitCode)
	}
	return combined, nil
}

// waitExecExit polls ContainerExecInspect until the exec process is no
// longer running, since the Docker API has no blocking wait for exec.
func waitExecExit(ctx context.Context, cli Client, execID string) (int, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		info, err := cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspecting exec: %w", err)
		}
		if !info.Running {
			return info.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
