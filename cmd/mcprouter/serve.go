package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/config"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/downstream"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/gateway"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/output"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime/docker"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/state"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/store"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/transport"
)

// gatewayVersion is the version string reported in the startup banner and
// the initialize handshake's serverInfo.
const gatewayVersion = "0.1.0"

// stackName scopes the Container Supervisor's bridge network and
// container naming. This gateway runs a single instance per data
// directory, so one constant name is all that's needed.
const stackName = "mcprouter"

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
}

var serveHTTPCmd = &cobra.Command{
	Use:   "http",
	Short: "Expose MCP over HTTP at /mcp",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), "http", serveHost, servePort)
	},
}

var serveStdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Expose MCP over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), "stdio", serveHost, servePort)
	},
}

func init() {
	serveHTTPCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "host to bind")
	serveHTTPCmd.Flags().IntVar(&servePort, "port", 8080, "port to bind")
	serveStdioCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "host to bind")
	serveStdioCmd.Flags().IntVar(&servePort, "port", 8080, "port to bind")
	serveCmd.AddCommand(serveHTTPCmd)
	serveCmd.AddCommand(serveStdioCmd)
}

func runServe(ctx context.Context, mode, host string, port int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	err := state.WithLock(5*time.Second, func() error {
		return serveLocked(ctx, mode, host, port, logger)
	})
	if ctx.Err() != nil {
		os.Exit(130)
	}
	return err
}

func serveLocked(ctx context.Context, mode, host string, port int, logger *slog.Logger) error {
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

	if err := docker.EnsureServerImages(ctx, rt.Client(), st, logger); err != nil {
		logger.Warn("resolving server images", "error", err)
	}

	if err := reconcileManagedContainers(ctx, rt, st, logger); err != nil {
		logger.Warn("reconciling managed containers", "error", err)
	}

	registry := transport.NewRegistry(rt.Client(), logger)
	sessions := gateway.NewSessionManager(stackName, rt, registry, st, logger)
	go sessions.Run(ctx)
	defer sessions.Stop()
	defer sessions.CleanupAll(context.Background())

	router := gateway.NewRouter(st, sessions, logger)

	// The management UI this banner would normally precede is out of
	// scope here; print a minimal startup summary. Always to stderr:
	// stdio mode's stdout is the JSON-RPC wire, never human text.
	printStartupSummary(ctx, st)

	if stackPath := os.Getenv("MCPROUTER_STACK_FILE"); stackPath != "" {
		watcher := config.NewWatcher(stackPath, st)
		watcher.SetLogger(logger)
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("stack file watcher stopped", "error", err)
			}
		}()
	}

	if err := state.Save(&state.DaemonState{
		Mode:      mode,
		PID:       os.Getpid(),
		Host:      host,
		Port:      port,
		StartedAt: time.Now(),
	}); err != nil {
		logger.Warn("failed to record daemon state", "error", err)
	}
	defer state.Delete()

	switch mode {
	case "stdio":
		return downstream.ServeStdio(ctx, router, os.Stdin, os.Stdout, logger)
	case "http":
		return serveHTTP(ctx, router, host, port, logger)
	default:
		return fmt.Errorf("unknown serve mode %q", mode)
	}
}

// reconcileManagedContainers lists the containers already running under
// stackName on startup and logs each against the server it belongs to,
// removing any whose server no longer exists or is no longer active. A
// daemon restarted after a crash otherwise has no record of what's already
// running until the first request touches a given server.
func reconcileManagedContainers(ctx context.Context, rt runtime.WorkloadRuntime, st *store.Store, logger *slog.Logger) error {
	running, err := rt.List(ctx, runtime.WorkloadFilter{Stack: stackName})
	if err != nil {
		return fmt.Errorf("listing managed containers: %w", err)
	}
	if len(running) == 0 {
		return nil
	}

	for _, w := range running {
		serverID := w.Labels[docker.LabelServer]
		cfg, err := st.ServerByID(ctx, serverID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			logger.Warn("reconcile: looking up server for running container", "container", w.Name, "server_id", serverID, "error", err)
			continue
		}
		if cfg == nil || !cfg.IsActive {
			logger.Info("reconcile: removing container for unknown or inactive server", "container", w.Name, "server_id", serverID)
			if err := rt.Stop(ctx, w.ID); err != nil {
				logger.Warn("reconcile: stopping orphaned container", "container", w.Name, "error", err)
			}
			if err := rt.Remove(ctx, w.ID); err != nil {
				logger.Warn("reconcile: removing orphaned container", "container", w.Name, "error", err)
			}
			continue
		}
		logger.Info("reconcile: found running container for active server", "container", w.Name, "server_id", serverID, "state", w.State)
	}
	return nil
}

func serveHTTP(ctx context.Context, router *gateway.Router, host string, port int, logger *slog.Logger) error {
	handler := downstream.NewHTTPHandler(router, logger)
	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func printStartupSummary(ctx context.Context, st *store.Store) {
	p := output.NewWithWriter(os.Stderr)
	p.Banner(gatewayVersion)

	servers, err := st.ActiveServers(ctx)
	if err != nil {
		p.Warn("failed to list active servers", "error", err)
		return
	}

	rows := make([]output.ServerSummary, 0, len(servers))
	for _, s := range servers {
		rows = append(rows, output.ServerSummary{
			ID:          s.ID,
			Name:        s.Name,
			RuntimeKind: string(s.RuntimeKind),
			Transport:   string(s.TransportKind),
			BuildStatus: string(s.BuildStatus),
		})
	}
	p.Summary(rows)
}

func newLogger() *slog.Logger {
	var out io.Writer = os.Stderr
	if path := os.Getenv("MCPROUTER_LOG_FILE"); path != "" {
		out = &lumberjack.Logger{Filename: path, MaxSize: 50, MaxBackups: 3, MaxAge: 28}
	}
	return logging.NewStructuredLogger(logging.Config{
		Level:     logging.ParseLevel(envOrDefault("MCPROUTER_LOG_LEVEL", "info")),
		Format:    logging.ParseFormat(envOrDefault("MCPROUTER_LOG_FORMAT", "json")),
		Output:    out,
		Component: "gateway",
	})
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
