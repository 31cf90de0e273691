// Package main provides the citescape CLI entry point.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "citescape",
	Short: "Streaming viewport server for large citation graphs",
	Long: `citescape serves a precomputed citation map to renderers.

It keeps a bounded in-memory window of the graph, streams nodes and
edges for the current viewport over WebSocket, and answers region and
search queries against a local SQLite database or a remote instance.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
}
