package gatewayerr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
)

func rawID(n int) *json.RawMessage {
	raw := json.RawMessage("1")
	_ = n
	return &raw
}

func TestAs_MatchesWrappedKind(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(KindTransportTimeout, "request timed out", base)

	require.True(t, As(wrapped, KindTransportTimeout))
	require.False(t, As(wrapped, KindTransportClosed))
	require.ErrorIs(t, wrapped, base)
}

func TestReason_SessionStartFailedAppendsStep(t *testing.T) {
	err := SessionStartFailed("container_start", errors.New("no such image"))
	require.Equal(t, "container_start_failed", err.Reason())
}

func TestReason_DefaultKinds(t *testing.T) {
	require.Equal(t, "unknown_tool", New(KindUnknownTool, "no such tool").Reason())
	require.Equal(t, "protocol_sequence_error", New(KindProtocolSequenceError, "discover before initialized").Reason())
}

func TestToJSONRPC_UpstreamErrorPassesThroughRawError(t *testing.T) {
	id := rawID(1)
	upstream := &jsonrpc.Error{Code: -32001, Message: "tool failed"}
	resp := ToJSONRPC(id, UpstreamError(upstream))

	require.Same(t, upstream, resp.Error)
}

func TestToJSONRPC_UnknownToolMapsToInvalidParams(t *testing.T) {
	id := rawID(2)
	resp := ToJSONRPC(id, New(KindUnknownTool, "no such tool"))

	require.Equal(t, jsonrpc.InvalidParams, resp.Error.Code)
	data, ok := resp.Error.Data.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "unknown_tool", data["reason"])
}

func TestToJSONRPC_ProtocolSequenceErrorMapsToInvalidRequest(t *testing.T) {
	resp := ToJSONRPC(rawID(3), New(KindProtocolSequenceError, "discover before initialize"))
	require.Equal(t, jsonrpc.InvalidRequest, resp.Error.Code)
}

func TestToJSONRPC_TransportFailuresMapToInternalErrorWithReason(t *testing.T) {
	resp := ToJSONRPC(rawID(4), New(KindTransportClosed, "closed"))
	require.Equal(t, jsonrpc.InternalError, resp.Error.Code)

	data := resp.Error.Data.(map[string]string)
	require.Equal(t, "upstream_closed", data["reason"])
}

func TestToJSONRPC_PlainErrorFallsBackToInternalError(t *testing.T) {
	resp := ToJSONRPC(rawID(5), errors.New("something unexpected"))
	require.Equal(t, jsonrpc.InternalError, resp.Error.Code)
}
