// Package transport implements the Transport abstraction: one interface,
// three wire formats (stdio, HTTP, SSE), and the JSON-RPC id correlation
// shared by all of them.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
)

//go:generate mockgen -destination=mock_transport_test.go -package=transport . Interface

// Transport moves JSON-RPC 2.0 messages between the gateway and one
// upstream MCP server. connect/disconnect are idempotent; request blocks
// until a matching response arrives, times out, or the transport closes.
type Transport struct {
	ServerID string
}

// Interface is the method set every wire-format variant implements.
type Interface interface {
	// Connect establishes the underlying channel. A second call on an
	// already-connected Transport is a no-op.
	Connect(ctx context.Context) error
	// Disconnect closes the channel, cancels outstanding waiters with
	// TransportClosed, and releases resources. Idempotent.
	Disconnect() error
	// Request sends method/params, waits for the matching response (or
	// timeout/close), and returns the raw result.
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Notify sends a message with no id and expects no response.
	Notify(ctx context.Context, method string, params any) error
}

// pendingRequest is a single-shot waiter keyed by the id sent on the wire.
type pendingRequest struct {
	resultCh chan jsonrpc.Response
	once     sync.Once
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{resultCh: make(chan jsonrpc.Response, 1)}
}

// deliver resolves the waiter exactly once; subsequent deliveries are dropped.
func (p *pendingRequest) deliver(resp jsonrpc.Response) {
	p.once.Do(func() { p.resultCh <- resp })
}

// correlator is the shared id-allocation and pending-request bookkeeping
// every non-trivially-synchronous Transport variant (stdio, sse) embeds.
// HTTP does not need it: one POST is already one response.
type correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	closed  bool
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[int64]*pendingRequest)}
}

// allocate assigns the next id and registers a waiter for it in the same
// critical section, so wire order matches allocation order (spec.md §5).
func (c *correlator) allocate() (int64, *pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, gatewayerr.New(gatewayerr.KindTransportClosed, "transport is closed")
	}
	c.nextID++
	id := c.nextID
	pr := newPendingRequest()
	c.pending[id] = pr
	return id, pr, nil
}

// resolve delivers an incoming response to its waiter, if any is still
// pending. A response with an unknown id is discarded without error.
func (c *correlator) resolve(id int64, resp jsonrpc.Response) {
	c.mu.Lock()
	pr, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		pr.deliver(resp)
	}
}

// cancel removes a pending waiter (used on timeout) so a late response for
// that id is discarded by resolve's ok-check.
func (c *correlator) cancel(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// closeAll marks the correlator closed and resolves every outstanding
// waiter with TransportClosed, draining rather than aborting (spec.md §9).
func (c *correlator) closeAll() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	closedResp := jsonrpc.Response{JSONRPC: "2.0"}
	for _, pr := range pending {
		pr.deliver(closedResp)
	}
}

// wait blocks for pr to resolve, the context to be cancelled, or timeout,
// whichever comes first. A nil Error+nil Result response body indicates a
// synthetic TransportClosed delivery from closeAll.
func wait(ctx context.Context, pr *pendingRequest, c *correlator, id int64, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pr.resultCh:
		if resp.JSONRPC == "" {
			return nil, gatewayerr.New(gatewayerr.KindTransportClosed, "transport closed while request was pending")
		}
		if resp.Error != nil {
			return nil, gatewayerr.UpstreamError(resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		c.cancel(id)
		return nil, gatewayerr.New(gatewayerr.KindTransportTimeout, fmt.Sprintf("request %d timed out after %s", id, timeout))
	case <-ctx.Done():
		c.cancel(id)
		return nil, gatewayerr.Wrap(gatewayerr.KindTransportClosed, "request cancelled", ctx.Err())
	}
}

func idToRaw(id int64) *json.RawMessage {
	raw := json.RawMessage(fmt.Sprintf("%d", id))
	return &raw
}

func parseID(raw *json.RawMessage) (int64, bool) {
	if raw == nil {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(*raw, &id); err != nil {
		return 0, false
	}
	return id, true
}
