package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <server> <tool> [json-args]",
	Short: "Invoke a single tool and print its result",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		raw := json.RawMessage(`{}`)
		if len(args) > 2 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("invalid JSON arguments")
			}
			raw = json.RawMessage(args[2])
		}

		h, err := newHost(ctx, false)
		if err != nil {
			return err
		}
		defer h.Close()

		content, isError, err := h.supervisor.CallTool(ctx, args[0], args[1], raw)
		if err != nil {
			return fmt.Errorf("call %s on %s: %w", args[1], args[0], err)
		}
		if isError {
			fmt.Fprintln(os.Stderr, content)
			os.Exit(1)
		}
		fmt.Println(content)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}
