// Package registry aggregates tool catalogs from all active MCP
// sessions into one namespace and resolves tool names to their owning
// session.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/EscasanN/mcphost/internal/llm"
	"github.com/EscasanN/mcphost/internal/mcp"
)

// Entry is one registered tool and the session that owns it.
type Entry struct {
	SessionID string
	Tool      mcp.Tool
}

// Registry is the single shared structure mutated by multiple sessions
// (register/unregister); all mutations are serialized behind a mutex,
// and reads happen on the hot path of every LLM round.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Entry
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Entry),
		logger: logger,
	}
}

// Register merges a session's tools into the namespace. If a tool name
// is already owned by a different session, that tool is omitted and a
// DuplicateToolError is reported; non-conflicting tools still register.
// Ambiguous routing is worse than a missing tool, so a duplicate is
// rejected rather than silently overridden. Re-registering a name the
// same session already owns replaces the descriptor.
func (r *Registry) Register(sessionID string, tools []mcp.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, tool := range tools {
		existing, ok := r.tools[tool.Name]
		if ok && existing.SessionID != sessionID {
			r.logger.Warn("rejecting duplicate tool",
				"tool", tool.Name,
				"owner", existing.SessionID,
				"rejected", sessionID)
			errs = append(errs, &DuplicateToolError{
				Tool:          tool.Name,
				OwnerSession:  existing.SessionID,
				LosingSession: sessionID,
			})
			continue
		}
		r.tools[tool.Name] = Entry{SessionID: sessionID, Tool: tool}
	}
	return errors.Join(errs...)
}

// Resolve returns the session owning the named tool.
func (r *Registry) Resolve(toolName string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.tools[toolName]
	if !ok {
		return "", &UnknownToolError{Tool: toolName}
	}
	return entry.SessionID, nil
}

// Unregister removes every entry owned by the session and returns how
// many were removed. Called synchronously when a session reaches a
// terminal state so no stale tool is ever offered to the LLM.
func (r *Registry) Unregister(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, entry := range r.tools {
		if entry.SessionID == sessionID {
			delete(r.tools, name)
			removed++
		}
	}
	return removed
}

// Schema produces the LLM-facing tool schema as of this call. Nothing
// is cached: tool availability can change between rounds. Output is
// sorted by name so identical registry state yields identical schemas.
func (r *Registry) Schema() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.Tool, 0, len(r.tools))
	for _, entry := range r.tools {
		out = append(out, llm.Tool{
			Name:        entry.Tool.Name,
			Description: entry.Tool.Description,
			InputSchema: entry.Tool.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entries returns a snapshot of all registered tools sorted by name,
// for listings and diagnostics.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.tools))
	for _, entry := range r.tools {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// Lookup returns the full entry for a tool name.
func (r *Registry) Lookup(toolName string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[toolName]
	return entry, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
