package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/go-mizu/invfts/internal/postlist"
	"github.com/go-mizu/invfts/invdxerr"
)

func newVerifyCmd() *cobra.Command {
	var abortOnFinding bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Cross-check the B-tree against the leaf file",
		Long: `Walk every term the B-tree knows about and confirm its leaf page still
carries a matching Area, walk every leaf Area back to a B-tree entry, and
cross-check each list's posting count against its header (spec.md S6:
"Verify catches a dangling B-tree entry, a dangling Area, or a corrupted
count"). Reports IllegalIndex/IllegalListCount findings found along the way.`,
		Example: "  invdxctl verify --unit ./data/shard-0",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit()
			if err != nil {
				return err
			}
			defer u.Close()

			treatment := invdxerr.Continue
			if abortOnFinding {
				treatment = invdxerr.Abort
			}

			p := u.StartVerification(treatment, nil)
			if err := u.VerifyBtree(p, postlist.ListConfig{}); err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			findings, err := u.EndVerification(p)
			for _, f := range findings {
				slog.Warn("verify finding", "kind", f.Kind, "key", f.Key, "page", f.Page, "detail", f.Detail)
			}
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			if len(findings) == 0 {
				fmt.Println("verify: no findings")
			} else {
				fmt.Printf("verify: %d finding(s)\n", len(findings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&abortOnFinding, "abort", false, "Abort verification on the first finding instead of continuing")
	return cmd
}
