package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/importlog"
)

func newHashesCommand(opts *rootOptions) *cobra.Command {
	hashesCmd := &cobra.Command{
		Use:   "hashes",
		Short: "Transaction fingerprint maintenance",
	}
	hashesCmd.AddCommand(&cobra.Command{
		Use:   "backfill",
		Short: "Fingerprint stored transactions that have no hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.svc.BackfillHashes(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d, updated %d, collisions %d.\n", res.Checked, res.Updated, len(res.Collisions))
			for _, c := range res.Collisions {
				fmt.Fprintf(out, "  transaction %d collides on %s\n", c.ID, c.Hash)
			}
			logAction(e, importlog.ActionBackfill, "", res.Checked, res.Updated)
			return nil
		},
	})
	return hashesCmd
}
