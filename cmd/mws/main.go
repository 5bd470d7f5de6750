// Command mws connects to or serves the signal protocol from the command line.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mws",
		Short: "Signal protocol client and server over WebSocket",
		Long: `mws speaks a signal-based messaging protocol carried over WebSocket.

Connect to a server, authenticate with credentials, send signals and
print the signals the server sends back, or run a compatible server
with rate limiting and Prometheus metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		connectCmd(),
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
