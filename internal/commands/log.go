package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/importlog"
)

func newLogCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the import log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(opts.repo)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			entries, err := importlog.Read(root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No batches logged.")
				return nil
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-15s %-24s received=%d inserted=%d duplicates=%d  %s\n",
					e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Source,
					e.Received, e.Inserted, e.Duplicates, e.BatchID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "show only the most recent entries")

	return cmd
}
