package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/gatewayerr"
	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
)

func TestCorrelator_AllocateThenResolveDeliversResult(t *testing.T) {
	c := newCorrelator()
	id, pr, err := c.allocate()
	require.NoError(t, err)

	c.resolve(id, jsonrpc.Response{JSONRPC: "2.0", Result: []byte(`{"ok":true}`)})

	select {
	case resp := <-pr.resultCh:
		require.JSONEq(t, `{"ok":true}`, string(resp.Result))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestCorrelator_ResolveUnknownIDIsDiscarded(t *testing.T) {
	c := newCorrelator()
	c.resolve(999, jsonrpc.Response{JSONRPC: "2.0"})
	// no panic, no pending entry to deliver to
}

func TestCorrelator_CloseAllDeliversSyntheticClosed(t *testing.T) {
	c := newCorrelator()
	_, pr, err := c.allocate()
	require.NoError(t, err)

	c.closeAll()

	resp := <-pr.resultCh
	require.Empty(t, resp.JSONRPC)
}

func TestCorrelator_AllocateAfterCloseFails(t *testing.T) {
	c := newCorrelator()
	c.closeAll()

	_, _, err := c.allocate()
	require.Error(t, err)
	require.True(t, gatewayerr.As(err, gatewayerr.KindTransportClosed))
}

func TestWait_TimesOutAndCancels(t *testing.T) {
	c := newCorrelator()
	id, pr, err := c.allocate()
	require.NoError(t, err)

	_, err = wait(context.Background(), pr, c, id, 10*time.Millisecond)
	require.Error(t, err)
	require.True(t, gatewayerr.As(err, gatewayerr.KindTransportTimeout))

	c.mu.Lock()
	_, stillPending := c.pending[id]
	c.mu.Unlock()
	require.False(t, stillPending)
}

func TestWait_ContextCancelled(t *testing.T) {
	c := newCorrelator()
	id, pr, err := c.allocate()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = wait(ctx, pr, c, id, time.Second)
	require.Error(t, err)
	require.True(t, gatewayerr.As(err, gatewayerr.KindTransportClosed))
}

func TestWait_UpstreamErrorPropagates(t *testing.T) {
	c := newCorrelator()
	id, pr, err := c.allocate()
	require.NoError(t, err)

	c.resolve(id, jsonrpc.Response{JSONRPC: "2.0", Error: &jsonrpc.Error{Code: -32000, Message: "boom"}})

	_, err = wait(context.Background(), pr, c, id, time.Second)
	require.Error(t, err)
	require.True(t, gatewayerr.As(err, gatewayerr.KindUpstreamError))
}

func TestIDRoundTrip(t *testing.T) {
	raw := idToRaw(42)
	id, ok := parseID(raw)
	require.True(t, ok)
	require.Equal(t, int64(42), id)
}

func TestParseID_NilIsNotOK(t *testing.T) {
	_, ok := parseID(nil)
	require.False(t, ok)
}
