package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/mcpproto"
)

// ContainerAttacher is the narrow slice of a Docker-compatible client the
// Stdio transport needs: attaching to an already-running container's
// stdio. pkg/runtime/docker's client satisfies this.
type ContainerAttacher interface {
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
}

// Stdio is the Transport variant that speaks line-delimited JSON-RPC over
// an attached container's stdin/stdout. One JSON object per line; embedded
// newlines in a payload are forbidden by the wire format.
type Stdio struct {
	serverID    string
	containerID string
	cli         ContainerAttacher
	logger      *slog.Logger

	*correlator

	connMu   sync.Mutex
	conn     io.Closer
	stdin    io.Writer
	attached bool
}

// NewStdio creates a Stdio transport bound to an already-running container.
func NewStdio(serverID, containerID string, cli ContainerAttacher, logger *slog.Logger) *Stdio {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Stdio{
		serverID:    serverID,
		containerID: containerID,
		cli:         cli,
		logger:      logger,
		correlator:  newCorrelator(),
	}
}

// Connect attaches to the container's stdin/stdout/stderr. A second call
// while already attached is a no-op.
func (s *Stdio) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.attached {
		return nil
	}

	resp, err := s.cli.ContainerAttach(ctx, s.containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "attaching to container", err)
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

// readLoop scans newline-delimited JSON-RPC messages from the demuxed
// stdout stream. A malformed line (e.g. upstream log noise, or a garbled
// byte) is dropped without tearing down the read loop (spec.md §8: "a
// 9th byte of garbage on stdio: current line is dropped, reading continues").
func (s *Stdio) readLoop(r io.Reader) {
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
			s.logger.Debug("dropping unparseable stdio line", "server_id", s.serverID, "bytes", len(line))
			continue
		}

		if resp.ID == nil {
			// No id: either a notification or noise we don't model yet. Dropped.
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

// Disconnect closes the attached stream and cancels outstanding waiters.
// Idempotent.
func (s *Stdio) Disconnect() error {
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
func (s *Stdio) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
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
func (s *Stdio) Notify(_ context.Context, method string, params any) error {
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling notification", err)
	}
	return s.write(req)
}

func (s *Stdio) write(req jsonrpc.Request) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if !s.attached || s.stdin == nil {
		return gatewayerr.New(gatewayerr.KindTransportClosed, "stdio transport not connected")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling request", err)
	}

	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTransportClosed, "writing to container stdin", err)
	}
	return nil
}

var _ Interface = (*Stdio)(nil)
