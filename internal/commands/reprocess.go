package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/importlog"
	"github.com/cleared-dev/moneypipe/internal/model"
	"github.com/cleared-dev/moneypipe/internal/pipeline"
)

type reprocessOptions struct {
	uncategorized bool
	startDate     string
	endDate       string
	categoryID    string
	minAmount     string
	maxAmount     string

	onlyRules     bool
	onlyTransfers bool
	onlyCleaning  bool
	onlyHashing   bool
}

func newReprocessCommand(opts *rootOptions) *cobra.Command {
	var ro reprocessOptions

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Run stored transactions through the pipeline again",
		Long: "Run stored transactions through the pipeline again. Filters narrow the\n" +
			"selection; --only-* flags restrict which stages run and may be combined.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ro.filter()
			if err != nil {
				return err
			}
			stages := ro.stages()

			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.svc.ProcessExisting(cmd.Context(), filter, stages...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reprocessed %d transactions.\n", n)
			logAction(e, importlog.ActionReprocess, strings.Join(stages, "+"), n, n)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&ro.uncategorized, "uncategorized", false, "only transactions without a category (same as --category-id null)")
	f.StringVar(&ro.startDate, "start-date", "", "earliest booking date (YYYY-MM-DD)")
	f.StringVar(&ro.endDate, "end-date", "", "latest booking date (YYYY-MM-DD)")
	f.StringVar(&ro.categoryID, "category-id", "", `category filter: "null", "not_null" or an id`)
	f.StringVar(&ro.minAmount, "min-amount", "", "minimum amount")
	f.StringVar(&ro.maxAmount, "max-amount", "", "maximum amount")
	f.BoolVar(&ro.onlyRules, "only-rules", false, "only apply categorization rules")
	f.BoolVar(&ro.onlyTransfers, "only-transfers", false, "only detect internal transfers")
	f.BoolVar(&ro.onlyCleaning, "only-cleaning", false, "only clean dates, amounts and text")
	f.BoolVar(&ro.onlyHashing, "only-hashing", false, "only fingerprint transactions without a hash")

	return cmd
}

// stages returns the selected stage names, or nil for the full pipeline.
func (ro reprocessOptions) stages() []string {
	var names []string
	if ro.onlyCleaning {
		names = append(names, pipeline.StageNormalize)
	}
	if ro.onlyHashing {
		names = append(names, pipeline.StageHash)
	}
	if ro.onlyTransfers {
		names = append(names, pipeline.StageInternalTransfer)
	}
	if ro.onlyRules {
		names = append(names, pipeline.StageApplyRules)
	}
	return names
}

func (ro reprocessOptions) filter() (model.TransactionFilter, error) {
	f := model.TransactionFilter{Uncategorized: ro.uncategorized}

	var err error
	if f.StartDate, err = parseDateFlag("start-date", ro.startDate); err != nil {
		return f, err
	}
	if f.EndDate, err = parseDateFlag("end-date", ro.endDate); err != nil {
		return f, err
	}
	if f.MinAmount, err = parseAmountFlag("min-amount", ro.minAmount); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseAmountFlag("max-amount", ro.maxAmount); err != nil {
		return f, err
	}

	switch ro.categoryID {
	case "":
	case "null":
		f.Uncategorized = true
	case "not_null":
		f.Categorized = true
	default:
		id, err := strconv.ParseInt(ro.categoryID, 10, 64)
		if err != nil {
			return f, fmt.Errorf("--category-id: %q is not null, not_null or an id", ro.categoryID)
		}
		f.CategoryID = &id
	}
	return f, nil
}

func parseDateFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, v)
	}
	return &t, nil
}

func parseAmountFlag(name, v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &d, nil
}
