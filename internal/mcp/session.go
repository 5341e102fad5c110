package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCallTimeout bounds a single tools/call round trip. A hung
	// tool server should surface as a visible failure, not silently
	// stall the conversation, so there is no retry.
	DefaultCallTimeout = 30 * time.Second

	// DefaultHandshakeTimeout bounds the initialize exchange.
	DefaultHandshakeTimeout = 30 * time.Second
)

// SupportedProtocolVersions lists the MCP protocol versions we support,
// in order of preference (newest first). During the handshake we try
// each version until one is accepted by the server.
var SupportedProtocolVersions = []string{
	"2025-11-25",
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// SessionState is the lifecycle state of an MCP session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateReady
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Session wraps one Transport and speaks MCP over it: handshake,
// tools/list, tools/call. A dedicated read loop is the transport's sole
// reader; it correlates inbound responses to waiting callers by request
// id, so calls from multiple goroutines can be in flight concurrently.
type Session struct {
	id        string
	transport Transport
	logger    *slog.Logger

	callTimeout      time.Duration
	handshakeTimeout time.Duration

	nextID  atomic.Int64
	state   atomic.Int32
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResponse

	// onToolsChanged is invoked (on its own goroutine) when the server
	// sends notifications/tools/list_changed.
	onToolsChanged func()
	// onClose is invoked once when the session leaves Ready for a
	// terminal state, with the final state.
	onClose func(SessionState)

	closeOnce  sync.Once
	readCancel context.CancelFunc
	readDone   chan struct{}

	serverName      string
	serverVersion   string
	protocolVersion string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCallTimeout sets the per-request deadline for tools/call and
// tools/list.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.callTimeout = d }
}

// WithHandshakeTimeout sets the deadline for the initialize exchange.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithToolsChangedHandler registers a callback for tool-list-changed
// notifications. The callback runs on its own goroutine and must not
// block pending calls.
func WithToolsChangedHandler(fn func()) SessionOption {
	return func(s *Session) { s.onToolsChanged = fn }
}

// WithCloseHandler registers a callback invoked once when the session
// reaches a terminal state.
func WithCloseHandler(fn func(SessionState)) SessionOption {
	return func(s *Session) { s.onClose = fn }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session over the given transport. The session
// starts in Connecting; call Connect to perform the handshake.
func NewSession(id string, transport Transport, opts ...SessionOption) *Session {
	s := &Session{
		id:               id,
		transport:        transport,
		logger:           slog.Default(),
		callTimeout:      DefaultCallTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		pending:          make(map[int64]chan *rpcResponse),
		readDone:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", id)
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// ServerInfo returns the name and version reported by the server
// during the handshake.
func (s *Session) ServerInfo() (name, version string) {
	return s.serverName, s.serverVersion
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string { return s.protocolVersion }

// JSON-RPC 2.0 wire types.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Connect starts the read loop and performs the MCP handshake. On
// success the session transitions to Ready; on failure to Failed.
func (s *Session) Connect(ctx context.Context) error {
	if s.State() != StateConnecting {
		return fmt.Errorf("connect: session %s is %s", s.id, s.State())
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.readCancel = cancel
	go s.readLoop(readCtx)

	hsCtx, hsCancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer hsCancel()

	var lastErr error
	for _, version := range SupportedProtocolVersions {
		params := initializeParams{
			ProtocolVersion: version,
			Capabilities:    map[string]any{},
			ClientInfo: clientInfo{
				Name:    "mcphost",
				Version: "0.1.0",
			},
		}

		var result initializeResult
		err := s.call(hsCtx, "initialize", params, &result)
		if err != nil {
			if isProtocolVersionError(err) {
				lastErr = err
				continue
			}
			s.fail(fmt.Errorf("initialize: %w", err))
			return fmt.Errorf("initialize: %w", err)
		}

		s.serverName = result.ServerInfo.Name
		s.serverVersion = result.ServerInfo.Version
		s.protocolVersion = version

		if err := s.notify(hsCtx, "notifications/initialized", nil); err != nil {
			s.fail(fmt.Errorf("initialized notification: %w", err))
			return fmt.Errorf("initialized notification: %w", err)
		}

		s.state.CompareAndSwap(int32(StateConnecting), int32(StateReady))
		s.logger.Debug("handshake complete",
			"server", s.serverName,
			"version", s.serverVersion,
			"protocol", s.protocolVersion)
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no protocol versions to try")
	}
	err := fmt.Errorf("all protocol versions rejected: %w", lastErr)
	s.fail(err)
	return err
}

// isProtocolVersionError checks whether an error looks like a protocol
// version rejection, in which case the next candidate version is tried.
func isProtocolVersionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "protocol") && strings.Contains(msg, "version") ||
		strings.Contains(msg, "protocolVersion") ||
		strings.Contains(msg, "unsupported version")
}

// ListTools retrieves the server's tool catalog. Valid only in Ready.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	if s.State() != StateReady {
		return nil, ErrSessionNotReady
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	var result toolsListResult
	start := time.Now()
	if err := s.call(callCtx, "tools/list", nil, &result); err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{Method: "tools/list", Elapsed: time.Since(start)}
		}
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the server with a single bounded wait.
// Server-reported failures come back as *ToolInvocationError; an
// unanswered call past the deadline comes back as *TimeoutError.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	if s.State() != StateReady {
		return nil, ErrSessionNotReady
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	params := toolCallParams{Name: name, Arguments: arguments}

	var result ToolResult
	start := time.Now()
	if err := s.call(callCtx, "tools/call", params, &result); err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{Method: "tools/call", Tool: name, Elapsed: time.Since(start)}
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, &ToolInvocationError{Tool: name, Cause: rpcErr}
		}
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &result, nil
}

// call issues one request and waits for the correlated response.
// Request ids are assigned monotonically and never reused within the
// session. On timeout or cancellation the pending entry is removed, so
// a later-arriving response for that id is discarded by the read loop.
func (s *Session) call(ctx context.Context, method string, params any, result any) error {
	st := s.State()
	if st.Terminal() {
		return fmt.Errorf("%s: session %s is %s", method, s.id, st)
	}

	id := s.nextID.Add(1)

	ch := make(chan *rpcResponse, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		s.removePending(id)
		return fmt.Errorf("marshal request: %w", err)
	}

	s.writeMu.Lock()
	err = s.transport.Send(ctx, data)
	s.writeMu.Unlock()
	if err != nil {
		s.removePending(id)
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			// Channel closed by teardown.
			return fmt.Errorf("%s: session %s is %s", method, s.id, s.State())
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return &ProtocolError{Reason: fmt.Sprintf("malformed %s result: %v", method, err)}
			}
		}
		return nil

	case <-ctx.Done():
		s.removePending(id)
		return ctx.Err()
	}
}

// notify sends a JSON-RPC notification; no response is expected.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.Send(ctx, data)
}

func (s *Session) removePending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// readLoop is the transport's sole reader. It dispatches responses to
// pending callers by id, routes notifications, and tears the session
// down when the transport fails.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.readDone)

	for {
		msg, err := s.transport.Receive(ctx)
		if err != nil {
			// Expected when Close cancelled us; otherwise the peer
			// went away.
			if ctx.Err() == nil && !s.State().Terminal() {
				s.logger.Warn("transport closed by peer", "error", err)
				s.teardown(StateFailed)
			}
			return
		}
		if len(msg) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			s.logger.Warn("malformed message from server", "error", err)
			s.teardown(StateFailed)
			return
		}

		if resp.ID == 0 {
			s.handleNotification(&resp)
			continue
		}

		s.pendingMu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.pendingMu.Unlock()

		if !ok {
			// Unmatched response: either a late arrival for a timed-out
			// request or a server bug. Anomalous but never fatal.
			s.logger.Debug("discarding unmatched response", "id", resp.ID)
			continue
		}
		ch <- &resp
	}
}

// handleNotification routes a server-initiated notification. It must
// never block pending call resolution.
func (s *Session) handleNotification(resp *rpcResponse) {
	switch resp.Method {
	case "notifications/tools/list_changed":
		s.logger.Debug("tool list changed")
		if s.onToolsChanged != nil && s.State() == StateReady {
			go s.onToolsChanged()
		}
	default:
		s.logger.Debug("notification", "method", resp.Method)
	}
}

// fail moves a Connecting session to Failed and releases resources.
func (s *Session) fail(err error) {
	s.logger.Warn("session failed", "error", err)
	s.teardown(StateFailed)
}

// Close shuts the session down explicitly. Idempotent.
func (s *Session) Close() error {
	s.teardown(StateClosed)
	return nil
}

// teardown transitions to a terminal state exactly once: cancels the
// read loop, closes the transport, and fails out all pending callers.
func (s *Session) teardown(final SessionState) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(final))

		if s.readCancel != nil {
			s.readCancel()
		}
		_ = s.transport.Close()

		s.pendingMu.Lock()
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.pendingMu.Unlock()

		if s.onClose != nil {
			s.onClose(final)
		}
	})
}
