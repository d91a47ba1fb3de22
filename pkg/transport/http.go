package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
)

// HTTP is the Transport variant that POSTs one JSON-RPC object per request
// and reads the JSON-RPC object back from the response body. Because each
// call already carries its own response, HTTP needs no correlator — the id
// only has to be unique enough for the upstream to echo it back, which a
// monotonically increasing counter guarantees.
type HTTP struct {
	serverID   string
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	nextID atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewHTTP creates an HTTP transport against the given endpoint.
func NewHTTP(serverID, endpoint string, headers map[string]string, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &HTTP{
		serverID: serverID,
		endpoint: endpoint,
		headers:  headers,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 35 * time.Second,
		},
	}
}

// Connect is a no-op for HTTP beyond marking the transport usable; there is
// no persistent channel to establish.
func (h *HTTP) Connect(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = false
	return nil
}

// Disconnect marks the transport closed. Idempotent.
func (h *HTTP) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *HTTP) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Request POSTs method/params and returns the decoded result.
func (h *HTTP) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if h.isClosed() {
		return nil, gatewayerr.New(gatewayerr.KindTransportClosed, "http transport is closed")
	}

	id := h.nextID.Add(1)
	req, err := jsonrpc.NewRequest(idToRaw(id), method, params)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling request", err)
	}

	resp, err := h.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, gatewayerr.UpstreamError(resp.Error)
	}
	return resp.Result, nil
}

// Notify POSTs a request with no id and discards the response body.
func (h *HTTP) Notify(ctx context.Context, method string, params any) error {
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling notification", err)
	}
	_, err = h.send(ctx, req)
	return err
}

func (h *HTTP) send(ctx context.Context, req jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "building http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := h.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindTransportTimeout, "request timed out", err)
		}
		return nil, gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "sending request", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "reading response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, gatewayerr.New(gatewayerr.KindTransportUnavailable, "upstream returned HTTP "+httpResp.Status)
	}

	if req.ID == nil {
		// Notification: the caller doesn't care about a body, if any.
		return &jsonrpc.Response{JSONRPC: "2.0"}, nil
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "decoding response", err)
	}
	return &resp, nil
}

var _ Interface = (*HTTP)(nil)
