// Package downstream adapts pkg/gateway's Router to the two ways a
// downstream MCP client can reach it: stdio (one process, one implicit
// session) and HTTP (one session per Mcp-Session-Id, established at
// initialize).
package downstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gateway"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
)

// maxStdioLine bounds a single JSON-RPC line read from stdin, matching
// mcpproto.MaxRequestBodySize's bound on the HTTP side.
const maxStdioLine = 1 * 1024 * 1024

// ServeStdio reads one JSON-RPC request per line from r, dispatches each
// through router against a single implicit ClientSession for the whole
// connection's lifetime, and writes the response (one JSON object per
// line) to w. It returns when r reaches EOF or ctx is cancelled.
func ServeStdio(ctx context.Context, router *gateway.Router, r io.Reader, w io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	cs := gateway.NewClientSession()
	defer cs.Close()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxStdioLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			if werr := writeLine(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "parse error")); werr != nil {
				return werr
			}
			continue
		}

		resp := router.HandleRequest(ctx, cs, req)
		if req.ID == nil {
			// Notification: MCP has no response to a bare notification, and
			// HandleRequest still runs its side effect (e.g. "initialized").
			continue
		}
		if err := writeLine(w, resp); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Error("stdio scan failed", "error", err)
		return fmt.Errorf("reading stdio: %w", err)
	}
	return nil
}

func writeLine(w io.Writer, resp jsonrpc.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
