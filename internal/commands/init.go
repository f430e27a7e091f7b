package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/config"
	"github.com/cleared-dev/moneypipe/internal/rules"
)

func newInitCommand() *cobra.Command {
	var primaryIBAN string
	var subAccountIBAN string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new moneypipe project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.OutOrStdout(), absDir, primaryIBAN, subAccountIBAN)
		},
	}

	cmd.Flags().StringVar(&primaryIBAN, "primary-iban", "", "IBAN of the main account")
	cmd.Flags().StringVar(&subAccountIBAN, "sub-account-iban", "", "IBAN of the sub-account merged into the main account")

	return cmd
}

func runInit(out io.Writer, dir, primaryIBAN, subAccountIBAN string) error {
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
		return fmt.Errorf("%s already exists in %s", config.FileName, dir)
	}

	// Create directory structure.
	dirs := []string{
		"rules",
		"logs",
		"data",
		"import",
		filepath.Join("import", "processed"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write moneypipe.yaml.
	cfg := config.Default()
	if primaryIBAN != "" {
		cfg.Accounts.PrimaryIBAN = primaryIBAN
	}
	if subAccountIBAN != "" {
		cfg.Accounts.SubAccountIBAN = subAccountIBAN
	}
	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Write empty categorization rules.
	if err := os.WriteFile(filepath.Join(dir, rules.DefaultFile), []byte("rules: []\n"), 0o644); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}

	// Write .gitignore.
	gitignore := "data/\n.env\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	// Write import/.gitkeep.
	if err := os.WriteFile(filepath.Join(dir, "import", ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}

	fmt.Fprintf(out, "Initialized moneypipe project at %s\n", dir)
	return nil
}
