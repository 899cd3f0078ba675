package main

import (
	"github.com/spf13/cobra"
)

// ビルド時に -ldflags で上書きされます。
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	var port string

	root := &cobra.Command{
		Use:   "pdf-translate-service",
		Short: "Asynchronous PDF translation service backed by BabelDOC",
		Long: `Asynchronous PDF translation service backed by BabelDOC.

Without a subcommand the HTTP API server is started (same as "serve").
Configuration is read from the environment and .env.local.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port)
		},
	}
	root.PersistentFlags().StringVar(&port, "port", "", "listen port (overrides PORT)")

	root.AddCommand(
		newServeCmd(&port),
		newDoctorCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("pdf-translate-service %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}
