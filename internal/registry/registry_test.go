package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EscasanN/mcphost/internal/mcp"
)

func tool(name string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: "test tool " + name,
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := New(nil)

	err := r.Register("fs", []mcp.Tool{tool("read_file"), tool("write_file")})
	require.NoError(t, err)

	owner, err := r.Resolve("read_file")
	require.NoError(t, err)
	assert.Equal(t, "fs", owner)

	_, err = r.Resolve("no_such_tool")
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no_such_tool", unknown.Tool)
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register("fs", []mcp.Tool{tool("read_file")}))

	err := r.Register("git", []mcp.Tool{tool("read_file"), tool("git_commit")})
	var dup *DuplicateToolError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "read_file", dup.Tool)
	assert.Equal(t, "fs", dup.OwnerSession)
	assert.Equal(t, "git", dup.LosingSession)

	// The first registration wins; the non-conflicting tool still lands.
	owner, err := r.Resolve("read_file")
	require.NoError(t, err)
	assert.Equal(t, "fs", owner)

	owner, err = r.Resolve("git_commit")
	require.NoError(t, err)
	assert.Equal(t, "git", owner)

	// The schema offers exactly one read_file, owned by fs.
	schema := r.Schema()
	names := make(map[string]int)
	for _, s := range schema {
		names[s.Name]++
	}
	assert.Equal(t, 1, names["read_file"])
}

func TestReregisterSameSessionReplaces(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register("fs", []mcp.Tool{tool("read_file")}))

	updated := tool("read_file")
	updated.Description = "updated"
	require.NoError(t, r.Register("fs", []mcp.Tool{updated}))

	entry, ok := r.Lookup("read_file")
	require.True(t, ok)
	assert.Equal(t, "updated", entry.Tool.Description)
	assert.Equal(t, 1, r.Len())
}

func TestUnregisterRoundTrip(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register("fs", []mcp.Tool{tool("read_file")}))
	before := r.Schema()

	require.NoError(t, r.Register("git", []mcp.Tool{tool("git_commit"), tool("git_log")}))
	assert.Equal(t, 3, r.Len())

	removed := r.Unregister("git")
	assert.Equal(t, 2, removed)

	// Registry is back to exactly its pre-registration tool set.
	assert.Equal(t, before, r.Schema())

	_, err := r.Resolve("git_commit")
	var unknown *UnknownToolError
	assert.True(t, errors.As(err, &unknown))
}

func TestSchemaIdempotent(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register("fs", []mcp.Tool{tool("write_file"), tool("read_file")}))

	first := r.Schema()
	second := r.Schema()
	assert.Equal(t, first, second)

	// Sorted deterministically by name.
	require.Len(t, first, 2)
	assert.Equal(t, "read_file", first[0].Name)
	assert.Equal(t, "write_file", first[1].Name)
}

func TestUnregisterUnknownSession(t *testing.T) {
	r := New(nil)
	assert.Equal(t, 0, r.Unregister("ghost"))
}
