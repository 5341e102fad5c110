package mcp

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for transport-level conditions.
var (
	// ErrTransportClosed is returned for operations on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
	// ErrMessageTooLarge is returned when a framed message exceeds the
	// per-message size bound.
	ErrMessageTooLarge = errors.New("message exceeds size limit")
	// ErrSessionNotReady is returned when an operation requires the
	// Ready state.
	ErrSessionNotReady = errors.New("session not ready")
)

// TransportError wraps an I/O failure on the wire. Fatal to the owning
// session only.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected message from the
// server. Fatal to the owning session.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// TimeoutError reports a request that received no response within its
// deadline. Recoverable: the session stays Ready and the pending entry
// for the request is removed.
type TimeoutError struct {
	Method  string
	Tool    string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("timeout waiting for tool %q after %v", e.Tool, e.Elapsed)
	}
	return fmt.Sprintf("timeout waiting for %s after %v", e.Method, e.Elapsed)
}

// ToolInvocationError reports a server-side tool failure delivered as a
// JSON-RPC error. Recoverable: callers feed it back into the
// conversation as data.
type ToolInvocationError struct {
	Tool  string
	Cause error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Cause)
}

func (e *ToolInvocationError) Unwrap() error { return e.Cause }

// RPCError is a JSON-RPC 2.0 error object as sent by a server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
