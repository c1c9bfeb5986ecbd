package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim leaf pages left sparse by expunges and reduces",
		Long: `Walk the leaf file merging adjacent pages that have fallen below the
reduce threshold (spec.md §4.2), then flush.`,
		Example: "  invdxctl vacuum --unit ./data/shard-0",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit()
			if err != nil {
				return err
			}
			defer u.Close()

			freed, err := u.Vacuum()
			if err != nil {
				return fmt.Errorf("vacuum: %w", err)
			}
			fmt.Printf("vacuum: freed %d leaf page(s)\n", freed)
			return nil
		},
	}
}
