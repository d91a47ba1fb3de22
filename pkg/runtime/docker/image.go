package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/image"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
)

// ImageExists checks if an image is already present locally.
func ImageExists(ctx context.Context, cli Client, imageName string) (bool, error) {
	images, err := cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("listing images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName || tag == imageName+":latest" {
				return true, nil
			}
		}
	}
	return false, nil
}

// EnsureImage pulls imageName if it isn't present locally.
func EnsureImage(ctx context.Context, cli Client, imageName string) error {
	exists, err := ImageExists(ctx, cli, imageName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// BuildStatusStore is the slice of pkg/store the image-resolution step
// needs: the set of servers to resolve, and somewhere to record each one's
// outcome.
type BuildStatusStore interface {
	ListServers(ctx context.Context) ([]*config.ServerConfig, error)
	SetBuildStatus(ctx context.Context, id string, status config.BuildStatus, imageTag string) error
}

// EnsureServerImages resolves and pulls the image for every server still at
// BuildPending (spec.md §4.6's Build step). There is no per-server
// Dockerfile in this gateway — install_command and start_command run inside
// the resolved base image's container (pkg/gateway's containerCommand),
// rather than being baked into a purpose-built image — so "building" means
// resolving a runtime_kind to a base image and making sure the daemon
// already has it. A server's image tag is the only output this persists,
// matching spec.md's ToolRecord-adjacent rule that only the tag survives
// across builds.
//
// One server's failure is recorded and does not stop the pass; a broken
// server shouldn't block every other active server from starting.
func EnsureServerImages(ctx context.Context, cli Client, st BuildStatusStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	servers, err := st.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}

	for _, cfg := range servers {
		if cfg.BuildStatus != config.BuildPending {
			continue
		}

		img := cfg.ResolveImage()
		if img == "" {
			logger.Warn("server has no resolvable image", "server_id", cfg.ID, "runtime_kind", cfg.RuntimeKind)
			if setErr := st.SetBuildStatus(ctx, cfg.ID, config.BuildFailed, ""); setErr != nil {
				logger.Warn("recording build failure", "server_id", cfg.ID, "error", setErr)
			}
			continue
		}

		logger.Info("resolving server image", "server_id", cfg.ID, "image", img)
		if err := EnsureImage(ctx, cli, img); err != nil {
			logger.Warn("pulling image", "server_id", cfg.ID, "image", img, "error", err)
			if setErr := st.SetBuildStatus(ctx, cfg.ID, config.BuildFailed, ""); setErr != nil {
				logger.Warn("recording build failure", "server_id", cfg.ID, "error", setErr)
			}
			continue
		}

		if err := st.SetBuildStatus(ctx, cfg.ID, config.BuildBuilt, img); err != nil {
			logger.Warn("recording build success", "server_id", cfg.ID, "error", err)
		}
	}
	return nil
}
