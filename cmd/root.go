// Package cmd contains the CLI entry points. Running quill with no
// subcommand starts the HTTP server.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill is a multi-tenant retrieval-augmented chat service",
	Long: `Quill serves tenant-scoped conversational turns grounded in each
tenant's knowledge base. It exposes an ephemeral surface for anonymous
widget sessions and an identified surface for durable, billed rooms.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
