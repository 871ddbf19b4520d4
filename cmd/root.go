// Package cmd implements the nanoclaw CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/internal/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nanoclaw",
		Short: "Personal agent runtime with a trust and sandboxing core",
		Long: `nanoclaw runs a local gateway that pairs devices, guards the agent
workspace, and keeps provider credentials encrypted at rest.

Running nanoclaw with no arguments starts the gateway.`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(pairCmd())
	cmd.AddCommand(authCmd())
	cmd.AddCommand(sandboxCmd())
	cmd.AddCommand(doctorCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
