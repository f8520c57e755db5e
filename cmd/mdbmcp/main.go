// Package main implements the mdbmcp MCP server binary.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath       string
	telemetry        string
	connectionString string
	logLevel         string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "mdbmcp",
		Short: "MCP server with anonymous usage telemetry",
		Long: `mdbmcp serves the Model Context Protocol over stdio.

Usage telemetry is anonymous and can be switched off with --telemetry=disabled,
the "telemetry" config key, MDB_MCP_TELEMETRY=disabled, or by setting
DO_NOT_TRACK to any value.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/mdbmcp/config.yaml)")
	flags.StringVar(&opts.telemetry, "telemetry", "", "telemetry mode: enabled or disabled")
	flags.StringVar(&opts.connectionString, "connection-string", "", "MongoDB connection string")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newEventsCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "mdbmcp\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
