// Package trace appends interaction records to a JSONL file so a
// conversation can be audited after the fact.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one line of the interaction log.
type Record struct {
	TS      time.Time       `json:"ts"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Recorder writes records to an append-only JSONL file. Safe for
// concurrent use. A nil Recorder discards everything.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewRecorder opens (creating parent directories as needed) the log
// file for appending.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}
	return &Recorder{f: f, path: path}, nil
}

// Path returns the log file path.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Record marshals payload and appends one line. Marshal failures are
// recorded as an error line rather than dropped.
func (r *Recorder) Record(kind string, payload any) {
	if r == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}

	line, err := json.Marshal(Record{TS: time.Now().UTC(), Kind: kind, Payload: raw})
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return
	}
	r.f.Write(append(line, '\n'))
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
