package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/logging"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/mcpproto"
)

// SSE is the Transport variant where requests are POSTed to a command
// endpoint and responses (plus any server-initiated notifications) arrive
// as "data:" events on a long-lived GET stream. Unlike HTTP, the POST
// response body is not the answer — the id correlation happens against the
// event stream, so SSE shares the stdio transport's correlator.
type SSE struct {
	serverID   string
	commandURL string
	eventsURL  string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	*correlator

	connMu  sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// NewSSE creates an SSE transport. eventsURL is the long-lived GET stream;
// commandURL is where requests/notifications are POSTed.
func NewSSE(serverID, commandURL, eventsURL string, headers map[string]string, logger *slog.Logger) *SSE {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &SSE{
		serverID:   serverID,
		commandURL: commandURL,
		eventsURL:  eventsURL,
		headers:    headers,
		logger:     logger,
		httpClient: &http.Client{},
		correlator: newCorrelator(),
	}
}

// Connect opens the GET event stream and starts reading it in the
// background. A second call while already connected is a no-op.
func (s *SSE) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.started {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.eventsURL, nil)
	if err != nil {
		cancel()
		return gatewayerr.Wrap(gatewayerr.KindInternal, "building events request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "opening event stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return gatewayerr.New(gatewayerr.KindTransportUnavailable, "event stream returned HTTP "+resp.Status)
	}

	s.cancel = cancel
	s.started = true

	go s.readLoop(resp.Body)

	return nil
}

// readLoop parses "data: <json>\n\n" SSE framing off the event stream and
// resolves the correlator by id. Non-JSON-RPC events (comments, keepalives)
// are ignored.
func (s *SSE) readLoop(body io.ReadCloser) {
	defer body.Close()
	defer s.closeAll()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(dataLines) == 0 {
				continue
			}
			payload := strings.Join(dataLines, "\n")
			dataLines = nil
			s.handleEvent(payload)
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		default:
			// event:, id:, retry: fields are not needed for correlation here
		}
	}
}

func (s *SSE) handleEvent(payload string) {
	var resp jsonrpc.Response
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		s.logger.Debug("dropping unparseable sse event", "server_id", s.serverID)
		return
	}
	if resp.ID == nil {
		return
	}
	id, ok := parseID(resp.ID)
	if !ok {
		return
	}
	s.resolve(id, resp)
}

// Disconnect tears down the event stream and cancels outstanding waiters.
// Idempotent.
func (s *SSE) Disconnect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	s.closeAll()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Request POSTs to the command endpoint, then waits for the matching event
// on the stream.
func (s *SSE) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, pr, err := s.allocate()
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest(idToRaw(id), method, params)
	if err != nil {
		s.correlator.cancel(id)
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling request", err)
	}

	if err := s.post(ctx, req); err != nil {
		s.correlator.cancel(id)
		return nil, err
	}

	return wait(ctx, pr, s.correlator, id, mcpproto.DefaultRequestTimeout)
}

// Notify POSTs a message with no id; SSE notifications do not wait on the
// event stream.
func (s *SSE) Notify(ctx context.Context, method string, params any) error {
	req, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling notification", err)
	}
	return s.post(ctx, req)
}

func (s *SSE) post(ctx context.Context, req jsonrpc.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "marshaling request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.commandURL, bytes.NewReader(body))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "building command request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindTransportUnavailable, "posting command", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return gatewayerr.New(gatewayerr.KindTransportUnavailable, fmt.Sprintf("command endpoint returned HTTP %s", resp.Status))
	}
	return nil
}

var _ Interface = (*SSE)(nil)
