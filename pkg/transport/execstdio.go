package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/mcpproto"
)

// ContainerExecer is the narrow slice of a Docker-compatible client the
// ExecStdio transport needs: spawning and attaching to a one-off exec
// process inside an already-running container, without ever calling
// ContainerCreate/ContainerStart.
type ContainerExecer interface {
	ContainerExecCreate(ctx context.Context, containerID string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
}

// ExecStdio is the Transport variant the CLI's connect mode uses: rather
// than attaching to a container's PID 1 (the Stdio variant, used by serve),
// it runs command as a fresh `exec -i` process inside a container that
// must already be running, so a lightweight attach-only client never
// creates or recreates the container it's talking to (spec.md §4.6
// Exec-mode).
type ExecStdio struct {
	serverID    string
	containerID string
	command     []string
	cli         ContainerExecer
	logger      *slog.Logger

	*correlator

	connMu   sync.Mutex
	conn     io.Closer
	stdin    io.Writer
	attached bool
}

// NewExecStdio creates an ExecStdio transport that will run command inside
// containerID on Connect.
func NewExecStdio(serverID, containerID string, command []string, cli ContainerExecer, logger *slog.Logger) *ExecStdio {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &ExecStdio{
		serverID:    serverID,
		containerID: containerID,
		command:     command,
		cli:         cli,
		logger:      logger,
		correlator:  newCorrelator(),
	}
}

// Connect creates and attaches the exec process. A second call while
// already attached is a no-op.
func (s *ExecStdio) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.attached {
		return nil
	}

	execID, err := s.cli.ContainerExecCreate(ctx, s.containerID, types.ExecConfig{
		Cmd:          s.command,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "creating exec", err)
	}

	resp, err := s.cli.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "attaching to exec", err)
	}

	s.conn = resp.Conn
	s.stdin = resp.Conn

	stdoutReader, stdoutWriter := io.Pipe()
	s.attached = true

	go func() {
		defer stdoutWriter.Close()
		_, _ = stdcopy.StdCopy(stdoutWriter, io.Discard, resp.Reader)
	}()

	go s.readLoop(stdoutReader)

	return nil
}

// readLoop mirrors Stdio's: newline-delimited JSON-RPC, malformed lines
// dropped without tearing down the loop.
func (s *ExecStdio) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Debug("dropping unparseable exec stdio line", "server_id", s.serverID, "bytes", len(line))
			continue
		}

		if resp.ID == nil {
			continue
		}
		id, ok := parseID(resp.ID)
		if !ok {
			continue
		}
		s.resolve(id, resp)
	}

	s.closeAll()
}

// Disconnect closes the exec's attached stream and cancels outstanding
// waiters. It never stops or removes the underlying container: connect
// mode doesn't own that container's lifecycle. Idempotent.
func (s *ExecStdio) Disconnect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if !s.attached {
		return nil
	}
	s.attached = false
	s.closeAll()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Request sends method/params and blocks for the matching line.
func (s *ExecStdio) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, pr, err := s.allocate()
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest(idToRaw(id), method, params)
	if err != nil {
		s.cancel(id)
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling request", err)
	}

	if err := s.write(req); err != nil {
		s.cancel(id)
		return nil, err
	}

	return wait(ctx, pr, s.correlator, id, mcpproto.DefaultRequestTimeout)
}

// Notify sends a message with no id.
func (s *ExecStdio) Notify(_ context.Context, method string, params any) error {
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling notification", err)
	}
	return s.write(req)
}

func (s *ExecStdio) write(req jsonrpc.Request) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if !s.attached || s.stdin == nil {
		return gatewayerr.New(gatewayerr.KindTransportClosed, "exec stdio transport not connected")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling request", err)
	}

	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTransportClosed, "writing to exec stdin", err)
	}
	return nil
}

var _ Interface = (*ExecStdio)(nil)
