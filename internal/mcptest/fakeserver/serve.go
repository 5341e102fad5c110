package fakeserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Serve runs the fake MCP server over in/out with NDJSON framing. It
// answers initialize, tools/list, and tools/call, with configurable
// delays, errors, silence, notifications, and crashes.
func Serve(ctx context.Context, in io.Reader, out io.Writer, cfg Config) error {
	reader := bufio.NewReader(in)
	requestCount := 0
	listChanged := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req rpcRequest
		if err := json.Unmarshal(bytes.TrimSpace(line), &req); err != nil {
			return err
		}

		requestCount++

		if cfg.CrashOnNthRequest > 0 && requestCount >= cfg.CrashOnNthRequest {
			os.Exit(cfg.CrashExitCode)
		}
		if cfg.CrashOnMethod != "" && req.Method == cfg.CrashOnMethod {
			os.Exit(cfg.CrashExitCode)
		}

		if silent(cfg, req.Method) {
			continue
		}

		if delay, ok := cfg.Delays[req.Method]; ok {
			time.Sleep(delay)
		}

		if cfg.Malformed {
			out.Write([]byte("this is not valid json\n"))
			continue
		}

		if rpcErr, ok := cfg.Errors[req.Method]; ok {
			writeErrorResponse(out, req.ID, rpcErr, cfg)
			continue
		}

		switch req.Method {
		case "initialize":
			writeResponse(out, req.ID, InitializeResult{
				ProtocolVersion: "2024-11-05",
				ServerInfo:      ServerInfo{Name: "fake-server", Version: "1.0.0"},
				Capabilities:    Capabilities{Tools: &ToolsCapability{ListChanged: true}},
			}, cfg)

		case "tools/list":
			tools := cfg.Tools
			if listChanged && cfg.ChangedTools != nil {
				tools = cfg.ChangedTools
			}
			if tools == nil {
				tools = []Tool{}
			}
			writeResponse(out, req.ID, ToolsListResult{Tools: tools}, cfg)

		case "tools/call":
			serveToolCall(out, req, cfg)

		case "notifications/initialized":
			// Notification, nothing to send back.

		default:
			writeErrorResponse(out, req.ID, JSONRPCError{
				Code: -32601, Message: "Method not found",
			}, cfg)
		}

		if cfg.NotifyToolListChangedOn == req.Method {
			listChanged = true
			writeNotification(out, "notifications/tools/list_changed")
		}
	}
}

func silent(cfg Config, method string) bool {
	for _, m := range cfg.SilentMethods {
		if m == method {
			return true
		}
	}
	return false
}

func serveToolCall(out io.Writer, req rpcRequest, cfg Config) {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeErrorResponse(out, req.ID, JSONRPCError{Code: -32602, Message: "Invalid params"}, cfg)
		return
	}

	if cfg.ToolHandler != nil {
		blocks, isError, err := cfg.ToolHandler(params.Name, params.Arguments)
		if err != nil {
			writeErrorResponse(out, req.ID, JSONRPCError{Code: -32603, Message: err.Error()}, cfg)
			return
		}
		writeResponse(out, req.ID, ToolCallResult{Content: blocks, IsError: isError}, cfg)
		return
	}

	if cfg.EchoToolCalls {
		text := fmt.Sprintf("called %s with %s", params.Name, string(params.Arguments))
		writeResponse(out, req.ID, ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: text}},
		}, cfg)
		return
	}

	writeErrorResponse(out, req.ID, JSONRPCError{Code: -32601, Message: "Tool not found: " + params.Name}, cfg)
}
