// Command dojoctl is a command-line client for the dojobridge server. It
// drives call sessions over the WebSocket stream endpoint and queries the
// server's REST surface.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
