package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/importlog"
	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/rules"
	"github.com/cleared-dev/moneypipe/internal/service"
)

func newRulesCommand(opts *rootOptions) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage categorization rules",
	}
	rulesCmd.AddCommand(
		newRulesListCommand(opts),
		newRulesAddCommand(opts),
		newRulesLoadCommand(opts),
		newRulesExportCommand(opts),
		newRulesApplyCommand(opts),
		newRulesRevertCommand(opts),
		newRulesUpdateCommand(opts),
		newRulesDeleteCommand(opts),
	)
	return rulesCmd
}

func newRulesListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rs, err := e.svc.ListRules(cmd.Context())
			if err != nil {
				return err
			}
			printRules(cmd.OutOrStdout(), rs)
			return nil
		},
	}
}

func printRules(out io.Writer, rs []*model.Rule) {
	if len(rs) == 0 {
		fmt.Fprintln(out, "No rules.")
		return
	}
	for _, r := range rs {
		conds := make([]string, len(r.Conditions))
		for i, c := range r.Conditions {
			conds[i] = fmt.Sprintf("%s %s %q", c.Field, c.Operator, c.Value)
		}
		fmt.Fprintf(out, "%-4d %-24s category=%d  %s\n",
			r.ID, r.Name, r.CategoryID, strings.Join(conds, " "+string(r.LogicalOperator)+" "))
	}
}

func newRulesAddCommand(opts *rootOptions) *cobra.Command {
	var name string
	var category int64
	var operator string
	var conditions []string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule",
		Long: "Create a rule. Conditions are written as field:operator:value. The rule\n" +
			"is not applied to stored transactions; run rules apply afterwards.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conds, err := parseConditions(conditions)
			if err != nil {
				return err
			}
			rule := &model.Rule{
				Name:            name,
				CategoryID:      category,
				LogicalOperator: model.LogicalOperator(strings.ToUpper(operator)),
				Conditions:      conds,
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.svc.CreateRule(cmd.Context(), rule); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created rule %d (%s).\n", rule.ID, rule.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "rule name (required)")
	cmd.Flags().Int64Var(&category, "category", 0, "category id (required)")
	cmd.Flags().StringVar(&operator, "operator", string(model.LogicalAnd), "logical operator (AND or OR)")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "condition as field:operator:value (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func newRulesExportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write all rules in the rules file format",
		Long:  "Write all rules in the rules file format to file, or to stdout when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rs, err := e.svc.ListRules(cmd.Context())
			if err != nil {
				return err
			}
			data, err := rules.Marshal(rs)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return fmt.Errorf("writing rules: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rules to %s\n", len(rs), args[0])
			return nil
		},
	}
}

func newRulesRevertCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <rule-id>",
		Short: "Uncategorize every transaction a rule categorized, keeping the rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.svc.RevertRule(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reverted rule %d, reset %d transactions.\n", id, n)
			return nil
		},
	}
}

func newRulesLoadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load [file]",
		Short: "Create rules from a YAML rules file",
		Long:  "Create rules from a YAML rules file (default " + rules.DefaultFile + "). Rules whose name already exists are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			path := filepath.Join(e.root, rules.DefaultFile)
			if len(args) > 0 {
				path = args[0]
			}
			rs, err := rules.LoadFile(path)
			if err != nil {
				return err
			}
			created, skipped, err := e.svc.LoadRules(cmd.Context(), rs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d rules, skipped %d existing.\n", created, skipped)
			return nil
		},
	}
}

func newRulesApplyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply [rule-id]",
		Short: "Categorize transactions with rules",
		Long: "Without an argument, run all rules over uncategorized transactions.\n" +
			"With a rule id, apply that rule to every transaction it matches.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 0 {
				n, err := e.svc.ApplyRules(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d uncategorized transactions.\n", n)
				logAction(e, importlog.ActionReprocess, "uncategorized", n, n)
				return nil
			}

			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			n, err := e.svc.ApplyRule(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %d matched %d transactions.\n", id, n)
			logAction(e, importlog.ActionApplyRule, "rule "+args[0], n, n)
			return nil
		},
	}
}

func newRulesUpdateCommand(opts *rootOptions) *cobra.Command {
	var name string
	var category int64
	var operator string
	var conditions []string
	var noReapply bool

	cmd := &cobra.Command{
		Use:   "update <rule-id>",
		Short: "Change a rule and re-derive its categorizations",
		Long: "Change a rule. Transactions it categorized are reverted and the updated\n" +
			"rule is applied again unless --no-reapply is given. Conditions are written\n" +
			"as field:operator:value and replace all existing conditions.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			var upd service.RuleUpdate
			flags := cmd.Flags()
			if flags.Changed("name") {
				upd.Name = &name
			}
			if flags.Changed("category") {
				upd.CategoryID = &category
			}
			if flags.Changed("operator") {
				op := model.LogicalOperator(strings.ToUpper(operator))
				upd.LogicalOperator = &op
			}
			if flags.Changed("condition") {
				upd.Conditions, err = parseConditions(conditions)
				if err != nil {
					return err
				}
			}
			reapply := !noReapply
			upd.Reapply = &reapply

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.svc.UpdateRule(cmd.Context(), id, upd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated rule %d: reverted %d, matched %d.\n", id, res.Reverted, res.Matched)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().Int64Var(&category, "category", 0, "category id")
	cmd.Flags().StringVar(&operator, "operator", "", "logical operator (AND or OR)")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "condition as field:operator:value (repeatable)")
	cmd.Flags().BoolVar(&noReapply, "no-reapply", false, "only revert, do not re-evaluate the rule")

	return cmd
}

func newRulesDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule, keeping the categories it assigned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.svc.DeleteRule(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %d, detached %d transactions.\n", id, n)
			return nil
		},
	}
}

func parseRuleID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule id %q", s)
	}
	return id, nil
}

func parseConditions(specs []string) ([]model.Condition, error) {
	conds := make([]model.Condition, 0, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("condition %q: expected field:operator:value", s)
		}
		conds = append(conds, model.Condition{
			Field:    parts[0],
			Operator: model.Operator(parts[1]),
			Value:    parts[2],
		})
	}
	return conds, nil
}

// logAction records a non-import batch in the import log.
func logAction(e *env, action, source string, received, changed int) {
	entry := importlog.Entry{
		Timestamp: time.Now(),
		BatchID:   uuid.NewString(),
		Action:    action,
		Source:    source,
		Received:  received,
		Inserted:  changed,
	}
	if err := importlog.Append(e.root, []importlog.Entry{entry}); err != nil {
		e.log.Warn().Err(err).Msg("failed to write import log")
	}
}
