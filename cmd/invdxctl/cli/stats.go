package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print basic unit statistics",
		Example: "  invdxctl stats --unit ./data/shard-0",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit()
			if err != nil {
				return err
			}
			defer u.Close()

			fmt.Printf("documentCount: %d\n", u.GetCount())
			fmt.Printf("lastDocumentId: %d\n", u.GetLastDocumentID())
			fmt.Printf("unavailable: %v\n", u.Unavailable())
			return nil
		},
	}
}
