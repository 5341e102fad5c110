// Package llm provides LLM provider clients behind a common interface.
package llm

import "encoding/json"

// Message roles. Wire-format conversion happens at provider boundaries.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one provider-neutral chat message.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a RoleTool message with the assistant tool
	// call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// IsError marks a RoleTool message as a failed tool invocation.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation requested by the model. The ID is
// provider-assigned and pairs the call with its result message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool is a tool definition offered to the model. InputSchema is a
// JSON Schema object kept as raw JSON: tool shapes arrive from
// arbitrary external servers and cannot be static Go types.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall

	Model      string
	StopReason string

	InputTokens  int
	OutputTokens int
}
