package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:   "server",
		Short: "Entrant server - event registration and payments backend",
		Long: `Entrant server handles event registrations, team rosters, round
progression, and payment reconciliation for competitive events.

The server supports:
- Capacity-safe registration with waitlisting and duplicate prevention
- Team creation, roster management, and round-by-round progression
- Payment collection through Razorpay and Stripe with idempotent webhooks
- Policy-based refunds with organizer review and automatic retry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand means serve.
			return serveCmd.RunE(cmd, args)
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(tokenCmd)
}
