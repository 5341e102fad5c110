package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools [server]",
	Short: "List the tools exposed by the configured servers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h, err := newHost(ctx, false)
		if err != nil {
			return err
		}
		defer h.Close()

		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}
		h.printTools(filter)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
