// Package process manages MCP server process lifecycles and ties each
// process to its session and registry entries.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/EscasanN/mcphost/internal/config"
	"github.com/EscasanN/mcphost/internal/events"
	"github.com/EscasanN/mcphost/internal/mcp"
	"github.com/EscasanN/mcphost/internal/registry"
)

const (
	// GracefulShutdownTimeout is how long to wait after SIGTERM
	// before SIGKILL.
	GracefulShutdownTimeout = 5 * time.Second

	// MaxStartAttempts bounds spawn-and-handshake retries.
	MaxStartAttempts = 3

	// StartRetryBaseDelay is the base delay between retry attempts.
	StartRetryBaseDelay = 500 * time.Millisecond

	// stderr ring buffer size, in lines.
	maxLogLines = 1000
)

// Supervisor spawns MCP server processes, runs their sessions, and
// keeps the shared tool registry in sync with what each session
// advertises. It dispatches tool calls for the conversation loop.
type Supervisor struct {
	bus      *events.Bus
	registry *registry.Registry
	logger   *slog.Logger

	callTimeout      time.Duration
	handshakeTimeout time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithTimeouts sets the per-call and handshake timeouts passed to each
// session.
func WithTimeouts(call, handshake time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.callTimeout = call
		s.handshakeTimeout = handshake
	}
}

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSupervisor creates a supervisor publishing to bus and registering
// tools in reg.
func NewSupervisor(bus *events.Bus, reg *registry.Registry, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		bus:              bus,
		registry:         reg,
		logger:           slog.Default(),
		callTimeout:      mcp.DefaultCallTimeout,
		handshakeTimeout: mcp.DefaultHandshakeTimeout,
		handles:          make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns the server, performs the handshake, discovers its tools
// and registers them. Spawn or handshake failures are retried with
// exponential backoff up to MaxStartAttempts.
func (s *Supervisor) Start(ctx context.Context, srv config.ServerConfig) (*Handle, error) {
	s.mu.Lock()
	if h, exists := s.handles[srv.ID]; exists && h.IsRunning() {
		s.mu.Unlock()
		return nil, fmt.Errorf("server %s is already running", srv.ID)
	}
	s.mu.Unlock()

	s.logger.Info("starting server", "id", srv.ID, "cmd", srv.Command, "args", srv.Args)

	var lastErr error
	for attempt := 1; attempt <= MaxStartAttempts; attempt++ {
		handle, err := s.startOnce(ctx, srv)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		s.logger.Warn("start attempt failed", "id", srv.ID, "attempt", attempt, "error", err)

		if attempt < MaxStartAttempts {
			delay := StartRetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	s.bus.Publish(events.NewErrorEvent(srv.ID, lastErr, "server failed to start"))
	return nil, fmt.Errorf("start %s after %d attempts: %w", srv.ID, MaxStartAttempts, lastErr)
}

func (s *Supervisor) startOnce(ctx context.Context, srv config.ServerConfig) (*Handle, error) {
	cmd := exec.Command(srv.Command, srv.Args...)
	if srv.Cwd != "" {
		cmd.Dir = srv.Cwd
	}
	cmd.Env = buildEnv(srv.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	transport := mcp.NewStdioTransport(stdin, stdout)

	handle := &Handle{
		id:        srv.ID,
		cmd:       cmd,
		transport: transport,
		bus:       s.bus,
		logs:      make([]string, 0, maxLogLines),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	session := mcp.NewSession(srv.ID, transport,
		mcp.WithCallTimeout(s.callTimeout),
		mcp.WithHandshakeTimeout(s.handshakeTimeout),
		mcp.WithLogger(s.logger.With("session", srv.ID)),
		mcp.WithToolsChangedHandler(func() { s.refreshTools(srv.ID) }),
		mcp.WithCloseHandler(func(final mcp.SessionState) { s.onSessionClosed(srv.ID, final) }),
	)
	handle.session = session

	go handle.readStderr(stderr)
	go handle.watchProcess()

	s.bus.Publish(events.NewSessionStatusChangedEvent(srv.ID, mcp.StateConnecting, mcp.StateConnecting, nil))

	if err := session.Connect(ctx); err != nil {
		handle.kill()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	s.mu.Lock()
	s.handles[srv.ID] = handle
	s.mu.Unlock()

	s.bus.Publish(events.NewSessionStatusChangedEvent(srv.ID, mcp.StateConnecting, mcp.StateReady, nil))

	if err := s.discoverTools(ctx, handle); err != nil {
		// Non-fatal, the session is still usable for direct calls.
		s.bus.Publish(events.NewErrorEvent(srv.ID, err, "failed to list tools"))
	}

	return handle, nil
}

// discoverTools lists the session's tools and registers them,
// publishing the resulting tool set.
func (s *Supervisor) discoverTools(ctx context.Context, handle *Handle) error {
	tools, err := handle.session.ListTools(ctx)
	if err != nil {
		return err
	}

	handle.setTools(tools)
	if err := s.registry.Register(handle.id, tools); err != nil {
		// Collisions are reported but the session keeps running with
		// whatever registered cleanly.
		s.logger.Warn("tool registration conflicts", "id", handle.id, "error", err)
		s.bus.Publish(events.NewErrorEvent(handle.id, err, "tool name conflicts"))
	}
	s.bus.Publish(events.NewToolsUpdatedEvent(handle.id, tools))
	return nil
}

// refreshTools re-lists a session's tools after a list_changed
// notification and replaces its registry entries.
func (s *Supervisor) refreshTools(id string) {
	handle := s.Get(id)
	if handle == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()

	s.registry.Unregister(id)
	if err := s.discoverTools(ctx, handle); err != nil {
		s.logger.Warn("tool refresh failed", "id", id, "error", err)
	}
}

// onSessionClosed runs synchronously when a session reaches a terminal
// state: its tools leave the registry before anyone can route another
// call to it.
func (s *Supervisor) onSessionClosed(id string, final mcp.SessionState) {
	removed := s.registry.Unregister(id)
	if removed > 0 {
		s.logger.Info("unregistered tools for closed session", "id", id, "count", removed)
	}
	var err error
	if final == mcp.StateFailed {
		err = fmt.Errorf("session %s failed", id)
	}
	s.bus.Publish(events.NewSessionStatusChangedEvent(id, mcp.StateReady, final, err))
}

// CallTool routes one tool call to the owning session. It satisfies
// the conversation loop's dispatcher contract: content plus a
// tool-reported error flag, with err reserved for calls that could not
// be delivered at all.
func (s *Supervisor) CallTool(ctx context.Context, sessionID, tool string, args json.RawMessage) (string, bool, error) {
	handle := s.Get(sessionID)
	if handle == nil {
		return "", false, fmt.Errorf("no session %s", sessionID)
	}

	callID := uuid.NewString()[:8]
	start := time.Now()
	s.bus.Publish(events.NewToolCallStartedEvent(sessionID, callID, tool))

	result, err := handle.session.CallTool(ctx, tool, args)
	if err != nil {
		s.bus.Publish(events.NewToolCallFinishedEvent(sessionID, callID, tool, true, time.Since(start)))
		return "", false, err
	}

	s.bus.Publish(events.NewToolCallFinishedEvent(sessionID, callID, tool, result.IsError, time.Since(start)))
	return result.TextContent(), result.IsError, nil
}

// Stop gracefully stops one server.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	handle, exists := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("server %s not found", id)
	}
	return handle.Stop()
}

// StopAll stops all running servers concurrently.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.Stop()
		}(h)
	}
	wg.Wait()
}

// Get returns the handle for a server, or nil.
func (s *Supervisor) Get(id string) *Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles[id]
}

// Sessions returns the IDs of servers with live handles, sorted by
// start time.
func (s *Supervisor) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].startedAt.Before(handles[j].startedAt)
	})
	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.id
	}
	return ids
}

// buildEnv merges the custom variables over the current environment.
func buildEnv(customEnv map[string]string) []string {
	env := os.Environ()
	for k, v := range customEnv {
		prefix := k + "="
		found := false
		for i, e := range env {
			if strings.HasPrefix(e, prefix) {
				env[i] = k + "=" + v
				found = true
				break
			}
		}
		if !found {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// Handle pairs a running server process with its session.
type Handle struct {
	id        string
	cmd       *exec.Cmd
	session   *mcp.Session
	transport *mcp.StdioTransport
	bus       *events.Bus
	startedAt time.Time

	toolsMu sync.RWMutex
	tools   []mcp.Tool

	logsMu sync.RWMutex
	logs   []string

	stopMu  sync.Mutex
	stopped bool
	done    chan struct{}
}

// ID returns the server ID.
func (h *Handle) ID() string { return h.id }

// Session returns the MCP session.
func (h *Handle) Session() *mcp.Session { return h.session }

// Tools returns the most recently discovered tools.
func (h *Handle) Tools() []mcp.Tool {
	h.toolsMu.RLock()
	defer h.toolsMu.RUnlock()
	tools := make([]mcp.Tool, len(h.tools))
	copy(tools, h.tools)
	return tools
}

func (h *Handle) setTools(tools []mcp.Tool) {
	h.toolsMu.Lock()
	h.tools = tools
	h.toolsMu.Unlock()
}

// Logs returns a copy of the captured stderr lines.
func (h *Handle) Logs() []string {
	h.logsMu.RLock()
	defer h.logsMu.RUnlock()
	logs := make([]string, len(h.logs))
	copy(logs, h.logs)
	return logs
}

// PID returns the process ID.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Uptime returns how long the process has been running.
func (h *Handle) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// IsRunning reports whether the process is still alive.
func (h *Handle) IsRunning() bool {
	h.stopMu.Lock()
	stopped := h.stopped
	h.stopMu.Unlock()
	if stopped {
		return false
	}

	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop closes the session, sends SIGTERM, and escalates to SIGKILL
// after GracefulShutdownTimeout.
func (h *Handle) Stop() error {
	h.stopMu.Lock()
	if h.stopped {
		h.stopMu.Unlock()
		return nil
	}
	h.stopped = true
	h.stopMu.Unlock()

	h.session.Close()

	if h.cmd.Process != nil {
		h.cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-h.done:
		case <-time.After(GracefulShutdownTimeout):
			h.cmd.Process.Signal(syscall.SIGKILL)
			<-h.done
		}
	}
	return nil
}

// kill tears down a handle whose handshake never completed.
func (h *Handle) kill() {
	h.stopMu.Lock()
	h.stopped = true
	h.stopMu.Unlock()

	h.session.Close()
	if h.cmd.Process != nil {
		h.cmd.Process.Signal(syscall.SIGKILL)
	}
	<-h.done
}

// readStderr captures server diagnostics into a bounded ring and
// publishes each line.
func (h *Handle) readStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		h.logsMu.Lock()
		h.logs = append(h.logs, line)
		if len(h.logs) > maxLogLines {
			h.logs = h.logs[len(h.logs)-maxLogLines:]
		}
		h.logsMu.Unlock()

		h.bus.Publish(events.NewLogReceivedEvent(h.id, line))
	}
}

// watchProcess waits for process exit and closes the session if the
// process died underneath it.
func (h *Handle) watchProcess() {
	h.cmd.Wait()
	close(h.done)

	h.stopMu.Lock()
	wasStopped := h.stopped
	h.stopped = true
	h.stopMu.Unlock()

	if !wasStopped {
		// Unexpected exit. Closing the session fails pending calls
		// and pulls the tools out of the registry.
		h.session.Close()

		exitCode := 0
		if h.cmd.ProcessState != nil {
			exitCode = h.cmd.ProcessState.ExitCode()
		}
		h.bus.Publish(events.NewErrorEvent(h.id, fmt.Errorf("process exited with code %d", exitCode), "server exited unexpectedly"))
	}
}
