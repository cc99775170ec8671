// Package main provides the rxguard command line tool.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxguard/internal/bootstrap"
)

var (
	// Flags
	debug      bool
	jsonOutput bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rxguard",
		Short: "Prescription alert and protocol evaluation tool",
		Long: `rxguard evaluates prescriptions offline and manages the evaluation topics.

  rxguard evaluate --request req.json [--protocols protocols.yaml]
  rxguard protocols validate --file protocols.yaml
  rxguard topics ensure --brokers localhost:9092`,
		Version:      bootstrap.Version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newEvaluateCmd(),
		newProtocolsCmd(),
		newTopicsCmd(),
	)
	return rootCmd
}
