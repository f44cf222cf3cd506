package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesgorrie/grid/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gridauth",
	Short: "Authentication service for media APIs",
	Long: `gridauth resolves caller identity for media APIs. It composes an API key
channel for machine callers and a federated session channel for newsroom
users into a single per-request decision, and manages the accessor registry
behind the API key channel.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
