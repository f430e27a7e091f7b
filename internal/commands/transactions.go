package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newTransactionsCommand(opts *rootOptions) *cobra.Command {
	txCmd := &cobra.Command{
		Use:   "transactions",
		Short: "Work with stored transactions",
	}
	txCmd.AddCommand(newTransactionsCategorizeCommand(opts))
	return txCmd
}

func newTransactionsCategorizeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "categorize <transaction-id> <category-id|null>",
		Short: "Set or clear the category of one transaction by hand",
		Long: "Set the category of one transaction by hand, or clear it with \"null\".\n" +
			"The transaction is detached from the rule that categorized it.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid transaction id %q", args[0])
			}
			var category *int64
			if args[1] != "null" {
				c, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid category id %q", args[1])
				}
				category = &c
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.svc.SetCategory(cmd.Context(), id, category); err != nil {
				return err
			}
			if category == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared category of transaction %d.\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Transaction %d now in category %d.\n", id, *category)
			return nil
		},
	}
}
