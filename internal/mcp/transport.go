// Package mcp implements the client side of the Model Context Protocol:
// message framing, session lifecycle, and request/response correlation.
package mcp

import (
	"context"
	"encoding/json"
)

// Transport is a bidirectional, message-framed connection to one MCP
// server process. It carries opaque JSON-RPC payloads and performs no
// message interpretation.
type Transport interface {
	// Send writes one framed message.
	Send(ctx context.Context, msg []byte) error
	// Receive reads the next framed message, blocking until one
	// arrives, the peer disconnects, or ctx is cancelled.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases the underlying stream resources.
	Close() error
}

// Tool is a tool definition as reported by an MCP server. The input
// schema is kept as raw JSON so arbitrary server-defined argument
// shapes survive the round trip to the LLM untouched.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolResult is the decoded result of a tools/call invocation.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one content block in a tool result. Raw JSON is
// preserved so non-text content (images, resources) passes through
// unchanged.
type ContentBlock json.RawMessage

// MarshalJSON implements json.Marshaler.
func (c ContentBlock) MarshalJSON() ([]byte, error) {
	return json.RawMessage(c), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ContentBlock) UnmarshalJSON(data []byte) error {
	*c = ContentBlock(data)
	return nil
}

// TextContent renders the text blocks of a result as a single string.
// Non-text blocks are skipped.
func (r *ToolResult) TextContent() string {
	var out string
	for _, block := range r.Content {
		var tb struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(block, &tb); err != nil {
			continue
		}
		if tb.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += tb.Text
		}
	}
	return out
}
