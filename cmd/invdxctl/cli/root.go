// Package cli implements invdxctl, the admin command line for an inverted
// unit: verify, vacuum, merge control, and stats, per spec.md §4.6/§4.7's
// operations exposed at an operator-facing granularity instead of the
// driver's in-process one.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"

	unitDir    string
	configPath string
)

func Execute(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:     "invdxctl",
		Short:   "invdxctl - inverted-index unit administration",
		Long:    `invdxctl inspects and maintains inverted-index units: verify consistency, vacuum reclaimed space, and control the merge daemon.`,
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
	}

	rootCmd.PersistentFlags().StringVar(&unitDir, "unit", "", "Path to the unit directory (required)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a driver config YAML file (defaults used if omitted)")

	rootCmd.AddCommand(
		newVerifyCmd(),
		newVacuumCmd(),
		newMergeCmd(),
		newStatsCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}
