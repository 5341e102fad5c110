package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/EscasanN/mcphost/internal/registry"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	answerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	toolRowStyle = lipgloss.NewStyle().PaddingLeft(2)
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run the interactive chat REPL",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

const replHelp = `:help                        show this help
:servers                     list connected servers
:tools [server]              list tools, optionally for one server
:schema <tool>               show a tool's input schema
:call <server> <tool> [json] invoke a tool directly
:log                         show the interaction log path
:quit                        exit

Anything else is sent to the model.`

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHost(ctx, true)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Println(headerStyle.Render("mcphost") + faintStyle.Render(" — chat with tools over MCP"))
	fmt.Println(faintStyle.Render(fmt.Sprintf("servers: %s | log: %s", strings.Join(h.supervisor.Sessions(), ", "), h.recorder.Path())))
	fmt.Println(faintStyle.Render("type :help for commands"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("(mcp) › "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			if quit := h.runCommand(line); quit {
				return nil
			}
			continue
		}

		answer, err := h.loop.Run(ctx, line)
		if err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		fmt.Println(answerStyle.Render(answer))
	}
}

// runCommand handles one colon-command and reports whether the REPL
// should exit.
func (h *host) runCommand(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":q", ":quit", ":exit":
		return true

	case ":help", ":h":
		fmt.Println(replHelp)

	case ":log":
		if h.recorder == nil {
			fmt.Println("interaction log disabled")
		} else {
			fmt.Println("interaction log:", h.recorder.Path())
		}

	case ":servers":
		sessions := h.supervisor.Sessions()
		if len(sessions) == 0 {
			fmt.Println("no servers connected")
			break
		}
		for _, id := range sessions {
			handle := h.supervisor.Get(id)
			name, version := handle.Session().ServerInfo()
			fmt.Printf("%s — %s %s, %d tools, pid %d\n",
				headerStyle.Render(id), name, version, len(handle.Tools()), handle.PID())
		}

	case ":tools":
		filter := ""
		if len(fields) > 1 {
			filter = fields[1]
		}
		h.printTools(filter)

	case ":schema":
		if len(fields) != 2 {
			fmt.Println(errorStyle.Render("usage: :schema <tool>"))
			break
		}
		entry, ok := h.registry.Lookup(fields[1])
		if !ok {
			fmt.Println(errorStyle.Render("unknown tool: " + fields[1]))
			break
		}
		fmt.Printf("%s (server %s) — %s\n", headerStyle.Render(entry.Tool.Name), entry.SessionID, entry.Tool.Description)
		fmt.Println(prettyJSON(entry.Tool.InputSchema))

	case ":call":
		h.runManualCall(fields[1:])

	default:
		fmt.Println(errorStyle.Render("unknown command " + fields[0] + " (try :help)"))
	}
	return false
}

func (h *host) printTools(filter string) {
	bySession := make(map[string][]registry.Entry)
	for _, entry := range h.registry.Entries() {
		bySession[entry.SessionID] = append(bySession[entry.SessionID], entry)
	}
	if len(bySession) == 0 {
		fmt.Println("no tools registered")
		return
	}
	for sessionID, entries := range bySession {
		if filter != "" && sessionID != filter {
			continue
		}
		fmt.Printf("%s — %d tools\n", headerStyle.Render(sessionID), len(entries))
		for _, entry := range entries {
			fmt.Println(toolRowStyle.Render(fmt.Sprintf("- %s: %s", entry.Tool.Name, entry.Tool.Description)))
		}
	}
}

func (h *host) runManualCall(args []string) {
	if len(args) < 2 {
		fmt.Println(errorStyle.Render("usage: :call <server> <tool> [json-args]"))
		return
	}
	raw := json.RawMessage(`{}`)
	if len(args) > 2 {
		joined := strings.Join(args[2:], " ")
		if !json.Valid([]byte(joined)) {
			fmt.Println(errorStyle.Render("invalid JSON arguments"))
			return
		}
		raw = json.RawMessage(joined)
	}

	// The session's own call timeout bounds this.
	content, isError, err := h.supervisor.CallTool(context.Background(), args[0], args[1], raw)
	if err != nil {
		fmt.Println(errorStyle.Render("call failed: " + err.Error()))
		return
	}
	if isError {
		fmt.Println(errorStyle.Render(content))
		return
	}
	fmt.Println(content)
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf strings.Builder
	dst := make(map[string]any)
	if err := json.Unmarshal(raw, &dst); err != nil {
		return string(raw)
	}
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dst); err != nil {
		return string(raw)
	}
	return strings.TrimRight(buf.String(), "\n")
}
