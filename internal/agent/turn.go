package agent

import (
	"sync"

	"github.com/EscasanN/mcphost/internal/llm"
)

// TurnKind discriminates the variants of a conversation turn.
type TurnKind int

const (
	// TurnUser is text supplied by the human operator.
	TurnUser TurnKind = iota
	// TurnAssistant is text produced by the model.
	TurnAssistant
	// TurnToolCall is a request by the model to invoke one tool.
	TurnToolCall
	// TurnToolResult is the outcome of one tool call, paired to its
	// request by CallID.
	TurnToolResult
)

func (k TurnKind) String() string {
	switch k {
	case TurnUser:
		return "user"
	case TurnAssistant:
		return "assistant"
	case TurnToolCall:
		return "tool_call"
	case TurnToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Turn is one entry in a conversation transcript. Which fields are
// meaningful depends on Kind: Text for user and assistant turns, Call
// for tool calls, and CallID/Tool/Content/IsError for tool results.
type Turn struct {
	Kind TurnKind

	Text string

	Call llm.ToolCall

	CallID  string
	Tool    string
	Content string
	IsError bool
}

// Transcript is an append-only, ordered record of conversation turns.
// Turns are never mutated or removed once appended. Safe for
// concurrent use.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds turns to the end of the transcript.
func (t *Transcript) Append(turns ...Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turns...)
}

// Turns returns a copy of all turns in order.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}
