// Package commands implements the sockmailer command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sockmailer",
		Short: "sockmailer - send mail by speaking SMTP directly",
		Long: `sockmailer delivers a message either through one relay server or
directly to each recipient's mail exchanger, checking every reply code along the way.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(newSendCommand(&configPath))
	rootCmd.AddCommand(newConfigCommand(&configPath))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
