package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/downstream"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/gateway"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime/docker"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/state"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/store"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/transport"
)

// connectCmd is the lightweight mode an external MCP client launcher uses
// to spawn this binary as its own child: attach to whatever upstream
// containers already exist, speak stdio, and never write anything but the
// wire protocol to stdout.
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Attach to already-running upstream containers over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConnect(cmd.Context())
	},
}

func runConnect(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewDiscardLogger()

	if err := state.EnsureBaseDir(); err != nil {
		return fmt.Errorf("preparing data directory: %w", err)
	}

	st, err := store.Open(state.DBPath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	rt, err := docker.New()
	if err != nil {
		return fmt.Errorf("connecting to container daemon: %w", err)
	}
	defer rt.Close()

	registry := transport.NewRegistry(rt.Client(), logger)
	sessions := gateway.NewAttachOnlySessionManager(stackName, rt, registry, st, logger)
	defer sessions.CleanupAll(context.Background())

	router := gateway.NewRouter(st, sessions, logger)

	err = downstream.ServeStdio(ctx, router, os.Stdin, os.Stdout, logger)
	if err != nil && ctx.Err() != nil {
		os.Exit(130)
	}
	return err
}
