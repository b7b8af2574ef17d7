//go:build linux

// Command agenticoded runs the interactive code-agent session manager:
// one process that owns sandboxed PTY agent sessions, their cloud-backed
// workspaces, optional web IDEs, and the HTTP/WebSocket edge surface that
// fronts them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agenticoded",
	Short: "AGENTICODE interactive code-agent session manager",
	Long: `agenticoded provisions and supervises sandboxed, PTY-driven code
agent sessions on behalf of AGENTICODE's platform, each bound to its own
OS user, workspace, and optional web IDE.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(migrateStoreCmd)
}
