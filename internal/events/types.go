// Package events carries runtime notifications between the host core
// and its frontends.
package events

import (
	"time"

	"github.com/EscasanN/mcphost/internal/mcp"
)

// EventType identifies the kind of event.
type EventType int

const (
	EventSessionStatusChanged EventType = iota
	EventToolsUpdated
	EventLogReceived
	EventToolCallStarted
	EventToolCallFinished
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventSessionStatusChanged:
		return "session_status_changed"
	case EventToolsUpdated:
		return "tools_updated"
	case EventLogReceived:
		return "log_received"
	case EventToolCallStarted:
		return "tool_call_started"
	case EventToolCallFinished:
		return "tool_call_finished"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	SessionID() string
	Timestamp() time.Time
}

type baseEvent struct {
	sessionID string
	timestamp time.Time
}

func (e baseEvent) SessionID() string    { return e.sessionID }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// SessionStatusChangedEvent is emitted when a session moves between
// lifecycle states.
type SessionStatusChangedEvent struct {
	baseEvent
	OldState mcp.SessionState
	NewState mcp.SessionState
	Err      error
}

func (e SessionStatusChangedEvent) Type() EventType { return EventSessionStatusChanged }

// NewSessionStatusChangedEvent creates a session status event.
func NewSessionStatusChangedEvent(sessionID string, oldState, newState mcp.SessionState, err error) SessionStatusChangedEvent {
	return SessionStatusChangedEvent{
		baseEvent: baseEvent{sessionID: sessionID, timestamp: time.Now()},
		OldState:  oldState,
		NewState:  newState,
		Err:       err,
	}
}

// ToolsUpdatedEvent is emitted when a session's tool list is first
// discovered or changes.
type ToolsUpdatedEvent struct {
	baseEvent
	Tools []mcp.Tool
}

func (e ToolsUpdatedEvent) Type() EventType { return EventToolsUpdated }

// NewToolsUpdatedEvent creates a tools updated event.
func NewToolsUpdatedEvent(sessionID string, tools []mcp.Tool) ToolsUpdatedEvent {
	return ToolsUpdatedEvent{
		baseEvent: baseEvent{sessionID: sessionID, timestamp: time.Now()},
		Tools:     tools,
	}
}

// LogReceivedEvent is emitted for each stderr line a server process
// writes.
type LogReceivedEvent struct {
	baseEvent
	Line string
}

func (e LogReceivedEvent) Type() EventType { return EventLogReceived }

// NewLogReceivedEvent creates a log received event.
func NewLogReceivedEvent(sessionID, line string) LogReceivedEvent {
	return LogReceivedEvent{
		baseEvent: baseEvent{sessionID: sessionID, timestamp: time.Now()},
		Line:      line,
	}
}

// ToolCallStartedEvent is emitted when the loop dispatches a tool call.
type ToolCallStartedEvent struct {
	baseEvent
	CallID string
	Tool   string
}

func (e ToolCallStartedEvent) Type() EventType { return EventToolCallStarted }

// NewToolCallStartedEvent creates a tool call started event.
func NewToolCallStartedEvent(sessionID, callID, tool string) ToolCallStartedEvent {
	return ToolCallStartedEvent{
		baseEvent: baseEvent{sessionID: sessionID, timestamp: time.Now()},
		CallID:    callID,
		Tool:      tool,
	}
}

// ToolCallFinishedEvent is emitted when a dispatched tool call
// completes, successfully or not.
type ToolCallFinishedEvent struct {
	baseEvent
	CallID  string
	Tool    string
	IsError bool
	Elapsed time.Duration
}

func (e ToolCallFinishedEvent) Type() EventType { return EventToolCallFinished }

// NewToolCallFinishedEvent creates a tool call finished event.
func NewToolCallFinishedEvent(sessionID, callID, tool string, isError bool, elapsed time.Duration) ToolCallFinishedEvent {
	return ToolCallFinishedEvent{
		baseEvent: baseEvent{sessionID: sessionID, timestamp: time.Now()},
		CallID:    callID,
		Tool:      tool,
		IsError:   isError,
		Elapsed:   elapsed,
	}
}

// ErrorEvent is emitted for failures worth surfacing to the user.
type ErrorEvent struct {
	baseEvent
	Err     error
	Message string
}

func (e ErrorEvent) Type() EventType { return EventError }

// NewErrorEvent creates an error event.
func NewErrorEvent(sessionID string, err error, message string) ErrorEvent {
	return ErrorEvent{
		baseEvent: baseEvent{sessionID: sessionID, timestamp: time.Now()},
		Err:       err,
		Message:   message,
	}
}
