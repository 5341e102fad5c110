// Package fakeserver implements a scriptable fake MCP server for tests.
package fakeserver

import (
	"encoding/json"
	"io"
	"time"
)

// Config controls the fake server's behavior.
type Config struct {
	// Tools returned from tools/list.
	Tools []Tool `json:"tools"`

	// Per-method response delays. Combined with a short client timeout
	// this produces a late-arriving response, which the session must
	// discard.
	Delays map[string]time.Duration `json:"delays"`

	// Per-method forced JSON-RPC errors.
	Errors map[string]JSONRPCError `json:"errors"`

	// SilentMethods lists methods the server swallows without ever
	// responding, for timeout tests.
	SilentMethods []string `json:"silentMethods"`

	// NotifyToolListChangedOn names a method; after responding to it
	// the server emits notifications/tools/list_changed and from then
	// on reports ChangedTools from tools/list.
	NotifyToolListChangedOn string `json:"notifyToolListChangedOn"`
	ChangedTools            []Tool `json:"changedTools"`

	// Crash behavior, for supervisor tests.
	CrashOnMethod     string `json:"crashOnMethod"`
	CrashOnNthRequest int    `json:"crashOnNthRequest"`
	CrashExitCode     int    `json:"crashExitCode"`

	// Stream realism: interleave noise before each response.
	SendNotificationBeforeResponse bool `json:"sendNotificationBeforeResponse"`
	SendMismatchedIDFirst          bool `json:"sendMismatchedIDFirst"`

	// Malformed makes every response invalid JSON.
	Malformed bool `json:"malformed"`

	// ToolHandler, when set, services tools/call. Not serializable, so
	// only usable with the in-process server.
	ToolHandler ToolHandler `json:"-"`

	// EchoToolCalls makes tools/call answer with a text block
	// describing the call. Used when no ToolHandler is set.
	EchoToolCalls bool `json:"echoToolCalls"`
}

// Tool mirrors the MCP tool definition.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// InitializeResult is the initialize response body.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ServerInfo identifies the fake server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises server capabilities.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability indicates tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsListResult is the tools/list response body.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams is the tools/call request body.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the tools/call response body.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is a text content block.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolHandler services a tools/call request. Returning isError=true
// produces a result with the isError flag; returning a non-nil error
// produces a JSON-RPC error response.
type ToolHandler func(name string, arguments json.RawMessage) (blocks []ContentBlock, isError bool, err error)

func writeNoise(out io.Writer, cfg Config) {
	if cfg.SendNotificationBeforeResponse {
		data, _ := json.Marshal(rpcNotification{JSONRPC: "2.0", Method: "test/noise"})
		out.Write(data)
		out.Write([]byte("\n"))
	}
	if cfg.SendMismatchedIDFirst {
		data, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: json.RawMessage(`99999`), Result: json.RawMessage(`{}`)})
		out.Write(data)
		out.Write([]byte("\n"))
	}
}

func writeResponse(out io.Writer, id json.RawMessage, result any, cfg Config) error {
	writeNoise(out, cfg)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: id, Result: resultJSON})
	if err != nil {
		return err
	}
	out.Write(data)
	out.Write([]byte("\n"))
	return nil
}

func writeErrorResponse(out io.Writer, id json.RawMessage, rpcErr JSONRPCError, cfg Config) error {
	writeNoise(out, cfg)

	data, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcErr})
	if err != nil {
		return err
	}
	out.Write(data)
	out.Write([]byte("\n"))
	return nil
}

func writeNotification(out io.Writer, method string) {
	data, _ := json.Marshal(rpcNotification{JSONRPC: "2.0", Method: method})
	out.Write(data)
	out.Write([]byte("\n"))
}
