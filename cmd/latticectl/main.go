// Command latticectl is the client CLI for a Lattice control-plane
// peer: submit a workflow graph, wait for or poll its output, inspect
// a running instance, cancel it, or stream its task-state events. It
// talks to the client-facing HTTP API (pkg/api) the same way any
// external caller would — latticectl has no privileged access.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "latticectl",
	Short:   "latticectl talks to a Lattice control-plane peer's client API",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("latticectl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:7070", "control-plane peer's client API address")

	rootCmd.AddCommand(submitCmd, statusCmd, waitCmd, outputCmd, cancelCmd, eventsCmd)
}
