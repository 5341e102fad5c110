package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestRecorderAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "interactions.jsonl")

	r, err := NewRecorder(path)
	require.NoError(t, err)

	r.Record("request", map[string]any{"iteration": 0})
	r.Record("tool_result", map[string]any{"tool": "read_file", "is_error": false})
	require.NoError(t, r.Close())

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "request", records[0].Kind)
	assert.Equal(t, "tool_result", records[1].Kind)
	assert.False(t, records[0].TS.IsZero())
	assert.JSONEq(t, `{"tool":"read_file","is_error":false}`, string(records[1].Payload))
}

func TestRecorderReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.jsonl")

	r, err := NewRecorder(path)
	require.NoError(t, err)
	r.Record("request", nil)
	require.NoError(t, r.Close())

	r, err = NewRecorder(path)
	require.NoError(t, err)
	r.Record("response", nil)
	require.NoError(t, r.Close())

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "request", records[0].Kind)
	assert.Equal(t, "response", records[1].Kind)
}

func TestNilRecorderDiscards(t *testing.T) {
	var r *Recorder
	r.Record("request", map[string]any{"x": 1})
	assert.NoError(t, r.Close())
	assert.Empty(t, r.Path())
}

func TestRecorderUnmarshalablePayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interactions.jsonl")
	r, err := NewRecorder(path)
	require.NoError(t, err)

	r.Record("response", map[string]any{"bad": make(chan int)})
	require.NoError(t, r.Close())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	assert.Contains(t, string(records[0].Payload), "marshal_error")
}
