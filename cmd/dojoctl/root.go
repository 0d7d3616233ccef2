package main

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	personaID string
)

var rootCmd = &cobra.Command{
	Use:   "dojoctl",
	Short: "Command-line client for the dojobridge server",
	Long: `dojoctl talks to a running dojobridge server.

It can run a full call session over the WebSocket stream endpoint,
synthesise one-shot speech, and check server health.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://localhost:8800/ws/stream",
		"WebSocket URL of the bridge stream endpoint")
	rootCmd.PersistentFlags().StringVar(&personaID, "persona", "",
		"persona ID to use for the session (server default when empty)")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(ttsCmd)
	rootCmd.AddCommand(healthCmd)
}
