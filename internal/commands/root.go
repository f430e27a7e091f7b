package commands

import (
	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "moneypipe",
		Short:   "Bank transaction import and categorization",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.repo, "repo", ".", "project directory")

	rootCmd.AddCommand(
		newInitCommand(),
		newImportCommand(opts),
		newReprocessCommand(opts),
		newRulesCommand(opts),
		newTransactionsCommand(opts),
		newAccountsCommand(opts),
		newHashesCommand(opts),
		newLogCommand(opts),
	)

	return rootCmd
}
