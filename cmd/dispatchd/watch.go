package main

import (
	"github.com/spf13/cobra"

	"dispatchd/internal/tui"
)

var watchAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow tasks and agents in a live terminal view",
	Long: `Connect to a running daemon and follow its activity live.

Tabs show tasks as they move through the lanes, the agent roster with
health and latency, and the raw event stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(cmd.Context(), watchAddr)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "http://localhost:8400", "Base URL of the daemon")
}
