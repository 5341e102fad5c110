package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Scripted is a Client that replays a fixed sequence of responses, one
// per Chat call. It lets the orchestration loop be tested without a
// live provider, and records what it was asked.
type Scripted struct {
	mu         sync.Mutex
	responses  []*ChatResponse
	next       int
	repeatLast bool

	// Requests holds a copy of the messages from each Chat call, in
	// order.
	Requests [][]Message
	// Schemas holds the tool schema snapshot from each Chat call.
	Schemas [][]Tool
}

// NewScripted creates a scripted client from the given responses.
func NewScripted(responses ...*ChatResponse) *Scripted {
	return &Scripted{responses: responses}
}

// FinalText builds a response with a final answer and no tool calls.
func FinalText(text string) *ChatResponse {
	return &ChatResponse{Content: text, StopReason: "end_turn"}
}

// CallsTools builds a response requesting the given tool calls, in
// order. Calls without an ID get a generated one.
func CallsTools(calls ...ToolCall) *ChatResponse {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()[:8]
		}
		if calls[i].Arguments == nil {
			calls[i].Arguments = json.RawMessage(`{}`)
		}
	}
	return &ChatResponse{ToolCalls: calls, StopReason: "tool_use"}
}

// Chat returns the next scripted response.
func (s *Scripted) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgCopy := make([]Message, len(messages))
	copy(msgCopy, messages)
	s.Requests = append(s.Requests, msgCopy)

	toolCopy := make([]Tool, len(tools))
	copy(toolCopy, tools)
	s.Schemas = append(s.Schemas, toolCopy)

	if s.next >= len(s.responses) {
		if s.repeatLast && len(s.responses) > 0 {
			return s.responses[len(s.responses)-1], nil
		}
		return nil, fmt.Errorf("scripted client exhausted after %d responses", len(s.responses))
	}
	resp := s.responses[s.next]
	s.next++
	return resp, nil
}

// RepeatLast makes the client keep returning its final response once
// the script runs out, instead of failing. Useful for loop-limit tests.
func (s *Scripted) RepeatLast() *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeatLast = true
	return s
}

// CallCount returns how many Chat calls have been made.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
