package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/EscasanN/mcphost/internal/llm"
	"github.com/EscasanN/mcphost/internal/registry"
)

// DefaultMaxIterations bounds how many model round trips a single user
// turn may take before the loop gives up.
const DefaultMaxIterations = 10

// Dispatcher executes a single tool call against the session that owns
// the tool. Implementations return the textual result content and
// whether the tool itself reported an error. A non-nil err means the
// call could not be carried out at all (session gone, timeout).
type Dispatcher interface {
	CallTool(ctx context.Context, sessionID, tool string, args json.RawMessage) (content string, isError bool, err error)
}

// TraceFunc receives interaction events for recording. kind is a short
// tag such as "request", "response" or "tool_result".
type TraceFunc func(kind string, payload any)

// Loop drives one conversation: it carries the transcript, asks the
// model what to do next, and fans tool calls out to their owning
// sessions. Tool failures are fed back to the model as data rather
// than aborting the turn.
type Loop struct {
	client     llm.Client
	registry   *registry.Registry
	dispatcher Dispatcher
	transcript *Transcript

	maxIters     int
	systemPrompt string
	logger       *slog.Logger
	trace        TraceFunc
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations sets the per-turn iteration ceiling.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIters = n
		}
	}
}

// WithSystemPrompt sets the system prompt sent with every model
// request.
func WithSystemPrompt(prompt string) LoopOption {
	return func(l *Loop) { l.systemPrompt = prompt }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTrace installs an interaction recorder.
func WithTrace(fn TraceFunc) LoopOption {
	return func(l *Loop) { l.trace = fn }
}

// NewLoop creates a conversation loop over the given model client,
// registry and dispatcher.
func NewLoop(client llm.Client, reg *registry.Registry, dispatcher Dispatcher, opts ...LoopOption) *Loop {
	l := &Loop{
		client:     client,
		registry:   reg,
		dispatcher: dispatcher,
		transcript: NewTranscript(),
		maxIters:   DefaultMaxIterations,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Transcript returns the conversation transcript.
func (l *Loop) Transcript() *Transcript {
	return l.transcript
}

// Run processes one user turn: it appends the input to the transcript
// and iterates model calls and tool dispatch until the model answers
// in plain text, the iteration ceiling is hit, or ctx is done. The
// final assistant text is returned.
func (l *Loop) Run(ctx context.Context, input string) (string, error) {
	l.transcript.Append(Turn{Kind: TurnUser, Text: input})

	for iter := 0; iter < l.maxIters; iter++ {
		messages := l.messages()
		tools := l.registry.Schema()

		l.emit("request", map[string]any{"iteration": iter, "messages": len(messages), "tools": len(tools)})
		resp, err := l.client.Chat(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("model request: %w", err)
		}
		l.emit("response", resp)

		if len(resp.ToolCalls) == 0 {
			l.transcript.Append(Turn{Kind: TurnAssistant, Text: resp.Content})
			return resp.Content, nil
		}

		turns := make([]Turn, 0, len(resp.ToolCalls)+1)
		turns = append(turns, Turn{Kind: TurnAssistant, Text: resp.Content})
		for _, call := range resp.ToolCalls {
			turns = append(turns, Turn{Kind: TurnToolCall, Call: call})
		}
		l.transcript.Append(turns...)

		results := l.dispatch(ctx, resp.ToolCalls)
		l.transcript.Append(results...)

		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	return "", &LoopLimitError{Limit: l.maxIters}
}

// dispatch runs the batch of tool calls concurrently and returns one
// result turn per call, in request order. Every call gets a result
// even under cancellation, so call turns and result turns always pair
// up in the transcript.
func (l *Loop) dispatch(ctx context.Context, calls []llm.ToolCall) []Turn {
	results := make([]Turn, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = l.dispatchOne(ctx, call)
		}(i, call)
	}
	wg.Wait()

	for _, r := range results {
		l.emit("tool_result", map[string]any{"call_id": r.CallID, "tool": r.Tool, "is_error": r.IsError})
	}
	return results
}

func (l *Loop) dispatchOne(ctx context.Context, call llm.ToolCall) Turn {
	turn := Turn{
		Kind:   TurnToolResult,
		CallID: call.ID,
		Tool:   call.Name,
	}

	sessionID, err := l.registry.Resolve(call.Name)
	if err != nil {
		l.logger.Warn("tool call for unknown tool", "tool", call.Name)
		turn.Content = err.Error()
		turn.IsError = true
		return turn
	}

	content, isError, err := l.dispatcher.CallTool(ctx, sessionID, call.Name, call.Arguments)
	if err != nil {
		l.logger.Warn("tool call failed", "tool", call.Name, "session", sessionID, "error", err)
		turn.Content = fmt.Sprintf("tool %s failed: %v", call.Name, err)
		turn.IsError = true
		return turn
	}

	turn.Content = content
	turn.IsError = isError
	return turn
}

// messages converts the transcript into the provider-neutral message
// list: consecutive tool-call turns fold into the assistant message
// that requested them, and each result becomes a tool message.
func (l *Loop) messages() []llm.Message {
	var out []llm.Message
	if l.systemPrompt != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: l.systemPrompt})
	}

	for _, turn := range l.transcript.Turns() {
		switch turn.Kind {
		case TurnUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: turn.Text})
		case TurnAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: turn.Text})
		case TurnToolCall:
			if n := len(out); n > 0 && out[n-1].Role == llm.RoleAssistant {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, turn.Call)
			} else {
				out = append(out, llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{turn.Call}})
			}
		case TurnToolResult:
			out = append(out, llm.Message{
				Role:       llm.RoleTool,
				Content:    turn.Content,
				ToolCallID: turn.CallID,
				IsError:    turn.IsError,
			})
		}
	}
	return out
}

func (l *Loop) emit(kind string, payload any) {
	if l.trace != nil {
		l.trace(kind, payload)
	}
}
