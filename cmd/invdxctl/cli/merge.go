package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-mizu/invfts/merge"
)

func newMergeCmd() *cobra.Command {
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Control the merge daemon for a unit",
	}
	mergeCmd.AddCommand(newMergeRunCmd())
	return mergeCmd
}

func newMergeRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the merge daemon in the foreground until interrupted",
		Long: `Starts the merge daemon (spec.md §4.7) bound to --unit and blocks until
the process receives SIGINT/SIGTERM, at which point it aborts the current
cycle at its next page-flush boundary and joins before exiting.`,
		Example: "  invdxctl merge run --unit ./data/shard-0",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit()
			if err != nil {
				return err
			}
			defer u.Close()

			opts, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			d := merge.New(u, opts, nil)
			d.Start(ctx)
			fmt.Println("merge: daemon running, press Ctrl-C to stop")
			<-ctx.Done()
			d.Stop()
			fmt.Println("merge: daemon stopped")
			return nil
		},
	}
}
