package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	debugLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "mcphost",
	Short: "Chat with an LLM that can use tools from MCP servers",
	Long: `mcphost connects a chat model to one or more MCP servers and lets it
invoke their tools mid-conversation.

Running without a subcommand starts the interactive chat REPL.
Use 'mcphost tui' for the full-screen interface.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE:    runChat,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging to stderr")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
