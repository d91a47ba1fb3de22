// Package gatewayerr defines the gateway's internal error taxonomy and the
// one translation layer from those errors to JSON-RPC error objects sent
// downstream. Nothing outside this package should construct a jsonrpc.Error
// directly from an internal failure.
package gatewayerr

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/jsonrpc"
)

// Kind identifies a class of gateway failure.
type Kind int

const (
	KindTransportUnavailable Kind = iota
	KindTransportClosed
	KindTransportTimeout
	KindUpstreamError
	KindSessionStartFailed
	KindUnknownServer
	KindUnknownTool
	KindUnknownResource
	KindUnknownPrompt
	KindProtocolSequenceError
	KindInternal
)

func (k Kind) reason() string {
	switch k {
	case KindTransportUnavailable:
		return "transport_unavailable"
	case KindTransportClosed:
		return "upstream_closed"
	case KindTransportTimeout:
		return "upstream_timeout"
	case KindUpstreamError:
		return "upstream_error"
	case KindSessionStartFailed:
		return "session_start_failed"
	case KindUnknownServer:
		return "unknown_server"
	case KindUnknownTool:
		return "unknown_tool"
	case KindUnknownResource:
		return "unknown_resource"
	case KindUnknownPrompt:
		return "unknown_prompt"
	case KindProtocolSequenceError:
		return "protocol_sequence_error"
	default:
		return "internal_error"
	}
}

// Error is the gateway's internal error type. It never carries a stack
// trace and its Reason is safe to surface to a downstream client.
type Error struct {
	Kind Kind
	// Step names the failing step for SessionStartFailed (e.g. "container_start",
	// "container_attach", "transport_connect", "initialize", "discover").
	Step string
	// Upstream carries the passthrough JSON-RPC error object for UpstreamError.
	Upstream *jsonrpc.Error
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Reason is the short, non-secret tag suitable for a JSON-RPC error's data field.
func (e *Error) Reason() string {
	if e.Kind == KindSessionStartFailed && e.Step != "" {
		return e.Step + "_failed"
	}
	return e.Kind.reason()
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

func SessionStartFailed(step string, err error) *Error {
	return &Error{Kind: KindSessionStartFailed, Step: step, Msg: "session start failed at " + step, Err: err}
}

func UpstreamError(rpcErr *jsonrpc.Error) *Error {
	return &Error{Kind: KindUpstreamError, Upstream: rpcErr, Msg: "upstream error"}
}

// As reports whether err (or something it wraps) is a *Error of the given kind.
func As(err error, kind Kind) bool {
	var ge *Error
	if !errors.As(err, &ge) {
		return false
	}
	return ge.Kind == kind
}

// ToJSONRPC converts a gateway error (or any error) into a JSON-RPC error
// response for id. This is the single translation point between internal
// failures and the downstream wire.
func ToJSONRPC(id *json.RawMessage, err error) jsonrpc.Response {
	var ge *Error
	if !errors.As(err, &ge) {
		return jsonrpc.NewErrorResponseWithReason(id, jsonrpc.InternalError, "internal error", "internal_error")
	}

	switch ge.Kind {
	case KindUpstreamError:
		if ge.Upstream != nil {
			return jsonrpc.Response{JSONRPC: "2.0", ID: id, Error: ge.Upstream}
		}
		return jsonrpc.NewErrorResponseWithReason(id, jsonrpc.InternalError, ge.Error(), "upstream_error")
	case KindUnknownServer, KindUnknownTool, KindUnknownResource, KindUnknownPrompt:
		return jsonrpc.NewErrorResponseWithReason(id, jsonrpc.InvalidParams, ge.Error(), ge.Reason())
	case KindProtocolSequenceError:
		return jsonrpc.NewErrorResponseWithReason(id, jsonrpc.InvalidRequest, ge.Error(), ge.Reason())
	case KindTransportTimeout, KindTransportClosed, KindTransportUnavailable, KindSessionStartFailed:
		return jsonrpc.NewErrorResponseWithReason(id, jsonrpc.InternalError, "upstream unavailable", ge.Reason())
	default:
		return jsonrpc.NewErrorResponseWithReason(id, jsonrpc.InternalError, "internal error", "internal_error")
	}
}
