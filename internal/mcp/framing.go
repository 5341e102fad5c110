package mcp

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"
)

// maxLineBytes bounds a single NDJSON message. Tool results carrying
// file contents can get large; 16 MiB matches what well-behaved
// filesystem servers emit before chunking.
const maxLineBytes = 16 * 1024 * 1024

// StdioTransport implements Transport over a server process's
// stdin/stdout pipes using NDJSON framing, the standard for MCP stdio.
type StdioTransport struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// NewStdioTransport wraps an already-open pipe pair.
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) *StdioTransport {
	return &StdioTransport{
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, 64*1024),
	}
}

// Send writes one newline-delimited message.
func (t *StdioTransport) Send(ctx context.Context, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return &TransportError{Op: "send", Err: ErrTransportClosed}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.stdin.Write(msg); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if _, err := t.stdin.Write([]byte("\n")); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

type readResult struct {
	line []byte
	err  error
}

// Receive reads the next newline-delimited message. Cancellation is
// honored by closing the read side, which unblocks the pending read.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, &TransportError{Op: "receive", Err: ErrTransportClosed}
	}

	resultCh := make(chan readResult, 1)
	go func() {
		line, err := t.readLine()
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, &TransportError{Op: "receive", Err: result.err}
		}
		return bytes.TrimSpace(result.line), nil

	case <-ctx.Done():
		// Unblock the reader goroutine; the transport is unusable
		// after this point.
		_ = t.stdout.Close()
		return nil, ctx.Err()
	}
}

// readLine reads one line, enforcing maxLineBytes.
func (t *StdioTransport) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := t.reader.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return nil, ErrMessageTooLarge
		}
		if err == nil {
			return buf, nil
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, err
	}
}

// Close closes both pipe ends. Safe to call more than once.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	inErr := t.stdin.Close()
	outErr := t.stdout.Close()
	if inErr != nil {
		return &TransportError{Op: "close", Err: inErr}
	}
	if outErr != nil {
		return &TransportError{Op: "close", Err: outErr}
	}
	return nil
}
