package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/model"
)

func newAccountsCommand(opts *rootOptions) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the bank accounts treated as your own",
	}
	accountsCmd.AddCommand(newAccountsAddCommand(opts), newAccountsListCommand(opts), newAccountsOwnedCommand(opts))
	return accountsCmd
}

func newAccountsAddCommand(opts *rootOptions) *cobra.Command {
	var name string
	var description string

	cmd := &cobra.Command{
		Use:   "add <iban>",
		Short: "Register an owned bank account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			a := &model.BankAccount{IBAN: args[0], Name: name, Description: description}
			if err := e.svc.AddBankAccount(cmd.Context(), a); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added account %d (%s)\n", a.ID, a.IBAN)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "free-form description")

	return cmd
}

func newAccountsListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered bank accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			accounts, err := e.svc.ListBankAccounts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "No bank accounts registered.")
				return nil
			}
			for _, a := range accounts {
				fmt.Fprintf(out, "%-4d %-34s %s\n", a.ID, a.IBAN, a.Name)
			}
			return nil
		},
	}
}

func newAccountsOwnedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "owned",
		Short: "List every IBAN treated as your own for internal-transfer detection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			ibans, err := e.svc.OwnedIBANs(cmd.Context())
			if err != nil {
				return err
			}
			for _, iban := range ibans {
				fmt.Fprintln(cmd.OutOrStdout(), iban)
			}
			return nil
		},
	}
}
