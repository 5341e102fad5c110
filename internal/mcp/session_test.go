package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EscasanN/mcphost/internal/mcptest"
	"github.com/EscasanN/mcphost/internal/mcptest/fakeserver"
)

// startSession wires a session to an in-process fake server and returns
// it along with the server's exit channel.
func startSession(t *testing.T, cfg fakeserver.Config, opts ...SessionOption) (*Session, <-chan error) {
	t.Helper()

	serverIn, serverOut, clientIn, clientOut := mcptest.Pipes()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverDone := mcptest.ServeInProcess(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	sess := NewSession("test", transport, opts...)
	t.Cleanup(func() { sess.Close() })

	return sess, serverDone
}

func connectOK(t *testing.T, sess *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := sess.State(); got != StateReady {
		t.Fatalf("expected StateReady after connect, got %v", got)
	}
}

func TestSession_HappyPath(t *testing.T) {
	cfg := fakeserver.Config{
		Tools: []fakeserver.Tool{
			{Name: "read_file", Description: "Read a file"},
			{Name: "write_file", Description: "Write a file"},
		},
	}
	sess, serverDone := startSession(t, cfg)

	connectOK(t, sess)

	name, version := sess.ServerInfo()
	if name != "fake-server" {
		t.Errorf("expected server name 'fake-server', got %q", name)
	}
	if version != "1.0.0" {
		t.Errorf("expected server version '1.0.0', got %q", version)
	}

	ctx := context.Background()
	tools, err := sess.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "read_file" {
		t.Errorf("expected first tool 'read_file', got %q", tools[0].Name)
	}

	sess.Close()
	if got := sess.State(); got != StateClosed {
		t.Errorf("expected StateClosed after Close, got %v", got)
	}

	select {
	case err := <-serverDone:
		if err != nil && err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server didn't exit in time")
	}
}

func TestSession_NotificationBeforeResponse(t *testing.T) {
	cfg := fakeserver.Config{
		Tools:                          []fakeserver.Tool{{Name: "test_tool"}},
		SendNotificationBeforeResponse: true,
	}
	sess, _ := startSession(t, cfg)

	connectOK(t, sess)

	tools, err := sess.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("expected 1 tool, got %d", len(tools))
	}
}

func TestSession_MismatchedIDDiscarded(t *testing.T) {
	cfg := fakeserver.Config{
		Tools:                 []fakeserver.Tool{{Name: "test_tool"}},
		SendMismatchedIDFirst: true,
	}
	sess, _ := startSession(t, cfg)

	connectOK(t, sess)

	tools, err := sess.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("expected 1 tool, got %d", len(tools))
	}
}

func TestSession_CallTool(t *testing.T) {
	cfg := fakeserver.Config{
		Tools: []fakeserver.Tool{{Name: "list_directory"}},
		ToolHandler: func(name string, arguments json.RawMessage) ([]fakeserver.ContentBlock, bool, error) {
			if name != "list_directory" {
				return nil, false, fmt.Errorf("unexpected tool %q", name)
			}
			return []fakeserver.ContentBlock{{Type: "text", Text: `{"files":["a.txt","b.txt"]}`}}, false, nil
		},
	}
	sess, _ := startSession(t, cfg)

	connectOK(t, sess)

	result, err := sess.CallTool(context.Background(), "list_directory", json.RawMessage(`{"path":"./workspace"}`))
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Error("expected success result")
	}
	if got := result.TextContent(); got != `{"files":["a.txt","b.txt"]}` {
		t.Errorf("unexpected content: %q", got)
	}
}

func TestSession_CallToolServerError(t *testing.T) {
	cfg := fakeserver.Config{
		Tools: []fakeserver.Tool{{Name: "broken"}},
		ToolHandler: func(name string, arguments json.RawMessage) ([]fakeserver.ContentBlock, bool, error) {
			return nil, false, fmt.Errorf("disk exploded")
		},
	}
	sess, _ := startSession(t, cfg)

	connectOK(t, sess)

	_, err := sess.CallTool(context.Background(), "broken", nil)
	var invErr *ToolInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected ToolInvocationError, got %v", err)
	}
	if invErr.Tool != "broken" {
		t.Errorf("expected tool name 'broken', got %q", invErr.Tool)
	}

	// The session survives tool failures.
	if got := sess.State(); got != StateReady {
		t.Errorf("expected StateReady after tool error, got %v", got)
	}
}

func TestSession_CallToolTimeoutAndLateResponse(t *testing.T) {
	cfg := fakeserver.Config{
		Tools:         []fakeserver.Tool{{Name: "slow"}},
		EchoToolCalls: true,
		Delays:        map[string]time.Duration{"tools/call": 300 * time.Millisecond},
	}
	sess, _ := startSession(t, cfg, WithCallTimeout(50*time.Millisecond))

	connectOK(t, sess)

	_, err := sess.CallTool(context.Background(), "slow", json.RawMessage(`{}`))
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if toErr.Tool != "slow" {
		t.Errorf("expected tool 'slow' in timeout, got %q", toErr.Tool)
	}

	// The late response for the timed-out id arrives once the server
	// finishes its sleep; it must be discarded without affecting later
	// requests. The server answers one request at a time, so early
	// list attempts can themselves time out while it is still
	// sleeping; poll until one completes.
	var tools []Tool
	deadline := time.Now().Add(2 * time.Second)
	for {
		tools, err = sess.ListTools(context.Background())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ListTools after timeout failed: %v", err)
		}
	}
	if len(tools) != 1 || tools[0].Name != "slow" {
		t.Errorf("unexpected tools after timeout: %+v", tools)
	}

	if got := sess.State(); got != StateReady {
		t.Errorf("expected StateReady after timeout, got %v", got)
	}
}

func TestSession_ListToolsTimeout(t *testing.T) {
	cfg := fakeserver.Config{
		Tools:         []fakeserver.Tool{{Name: "read_file"}},
		SilentMethods: []string{"tools/list"},
	}
	sess, _ := startSession(t, cfg, WithCallTimeout(50*time.Millisecond))

	connectOK(t, sess)

	_, err := sess.ListTools(context.Background())
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if toErr.Method != "tools/list" {
		t.Errorf("expected method tools/list in timeout, got %q", toErr.Method)
	}

	if got := sess.State(); got != StateReady {
		t.Errorf("expected StateReady after list timeout, got %v", got)
	}
}

func TestSession_ToolListChangedNotification(t *testing.T) {
	var notified atomic.Int32
	refetched := make(chan struct{}, 1)

	cfg := fakeserver.Config{
		Tools:                   []fakeserver.Tool{{Name: "old_tool"}},
		ChangedTools:            []fakeserver.Tool{{Name: "new_tool"}},
		EchoToolCalls:           true,
		NotifyToolListChangedOn: "tools/call",
	}

	var sess *Session
	sess, _ = startSession(t, cfg, WithToolsChangedHandler(func() {
		notified.Add(1)
		select {
		case refetched <- struct{}{}:
		default:
		}
	}))

	connectOK(t, sess)

	if _, err := sess.CallTool(context.Background(), "old_tool", nil); err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}

	select {
	case <-refetched:
	case <-time.After(2 * time.Second):
		t.Fatal("tools-changed handler not invoked")
	}

	tools, err := sess.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "new_tool" {
		t.Errorf("expected refreshed catalog [new_tool], got %+v", tools)
	}
}

func TestSession_HandshakeFailure(t *testing.T) {
	cfg := fakeserver.Config{
		Errors: map[string]fakeserver.JSONRPCError{
			"initialize": {Code: -32603, Message: "boom"},
		},
	}
	sess, _ := startSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if got := sess.State(); got != StateFailed {
		t.Errorf("expected StateFailed, got %v", got)
	}
}

func TestSession_MalformedMessageFailsSession(t *testing.T) {
	cfg := fakeserver.Config{Malformed: true}
	sess, _ := startSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Connect(ctx); err == nil {
		t.Fatal("expected Connect to fail on malformed response")
	}
	if got := sess.State(); got != StateFailed {
		t.Errorf("expected StateFailed, got %v", got)
	}
}

func TestSession_PeerDisconnect(t *testing.T) {
	closed := make(chan SessionState, 1)

	cfg := fakeserver.Config{Tools: []fakeserver.Tool{{Name: "t"}}}

	serverIn, serverOut, clientIn, clientOut := mcptest.Pipes()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mcptest.ServeInProcess(ctx, serverIn, serverOut, cfg)

	transport := NewStdioTransport(clientIn, clientOut)
	sess := NewSession("test", transport, WithCloseHandler(func(st SessionState) {
		closed <- st
	}))
	defer sess.Close()

	connectOK(t, sess)

	// Simulate the server process dying.
	serverOut.Close()

	select {
	case st := <-closed:
		if st != StateFailed {
			t.Errorf("expected StateFailed on peer disconnect, got %v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close handler not invoked after peer disconnect")
	}

	if _, err := sess.ListTools(context.Background()); !errors.Is(err, ErrSessionNotReady) {
		t.Errorf("expected ErrSessionNotReady after disconnect, got %v", err)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	cfg := fakeserver.Config{}
	sess, _ := startSession(t, cfg)
	connectOK(t, sess)

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if got := sess.State(); got != StateClosed {
		t.Errorf("expected StateClosed, got %v", got)
	}
}
