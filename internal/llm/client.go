package llm

import "context"

// Client is the interface all LLM providers implement. One Chat call is
// one blocking round trip: full conversation and tool schema in, next
// assistant message (final text or tool calls) out.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error)
}
