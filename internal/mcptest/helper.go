// Package mcptest provides test infrastructure for exercising MCP
// sessions against a scriptable fake server, in-process or as a
// subprocess.
package mcptest

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/EscasanN/mcphost/internal/mcptest/fakeserver"
)

// FakeServerConfig is an alias for fakeserver.Config.
type FakeServerConfig = fakeserver.Config

// Tool is an alias for fakeserver.Tool.
type Tool = fakeserver.Tool

// JSONRPCError is an alias for fakeserver.JSONRPCError.
type JSONRPCError = fakeserver.JSONRPCError

// Pipes returns two connected pipe pairs: the server reads serverIn and
// writes serverOut; the client writes clientIn and reads clientOut.
func Pipes() (serverIn io.ReadCloser, serverOut io.WriteCloser, clientIn io.WriteCloser, clientOut io.ReadCloser) {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()
	return serverReader, serverWriter, clientWriter, clientReader
}

// ServeInProcess runs the fake server in a goroutine and returns a
// channel delivering its exit error.
func ServeInProcess(ctx context.Context, in io.Reader, out io.Writer, cfg FakeServerConfig) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- fakeserver.Serve(ctx, in, out, cfg)
	}()
	return done
}

// StartFakeServer spawns the fake server as a subprocess by re-execing
// the test binary with the helper-process marker. Returns the pipes
// wired to the server and a stop function (also registered as cleanup).
func StartFakeServer(t *testing.T, cfg FakeServerConfig) (stdin io.WriteCloser, stdout io.ReadCloser, stop func()) {
	t.Helper()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake server config: %v", err)
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--")
	cmd.Env = append(os.Environ(),
		"GO_WANT_HELPER_PROCESS=1",
		"FAKE_MCP_CFG="+string(cfgJSON),
	)

	stdin, err = cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake server: %v", err)
	}

	stop = func() {
		stdin.Close()
		stdout.Close()

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	t.Cleanup(stop)
	return stdin, stdout, stop
}

// HelperCommand returns the argv to re-exec the current test binary as
// a fake MCP server. Supervisor tests use this as the server command.
func HelperCommand(cfg FakeServerConfig) (command string, args []string, env map[string]string, err error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, nil, err
	}
	return os.Args[0], []string{"-test.run=TestHelperProcess", "--"}, map[string]string{
		"GO_WANT_HELPER_PROCESS": "1",
		"FAKE_MCP_CFG":           string(cfgJSON),
	}, nil
}

// RunHelperProcess implements the fake MCP server when the test binary
// is re-exec'd. Packages using the subprocess pattern call this from
// their own TestHelperProcess:
//
//	func TestHelperProcess(t *testing.T) {
//	    mcptest.RunHelperProcess(t)
//	}
func RunHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	cfgJSON := os.Getenv("FAKE_MCP_CFG")
	if cfgJSON == "" {
		os.Exit(2)
	}

	var cfg fakeserver.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		os.Exit(2)
	}

	if err := fakeserver.Serve(context.Background(), os.Stdin, os.Stdout, cfg); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
