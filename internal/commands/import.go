package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/moneypipe/internal/importer"
	"github.com/cleared-dev/moneypipe/internal/importlog"
)

func newImportCommand(opts *rootOptions) *cobra.Command {
	var format string
	var keep bool

	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import bank statements",
		Long: "Import bank statement CSV files. Without arguments every CSV in import/ is\n" +
			"imported and moved to import/processed/ afterwards.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			return runImport(cmd, e, args, format, keep)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "statement format (defaults to import.format from config)")
	cmd.Flags().BoolVar(&keep, "keep", false, "leave scanned files in import/ after importing")

	return cmd
}

func runImport(cmd *cobra.Command, e *env, args []string, format string, keep bool) error {
	if format == "" {
		format = e.cfg.Import.Format
	}
	registry := importer.DefaultRegistry()
	parser := registry.Get(format)
	if parser == nil {
		return fmt.Errorf("unknown format %q (available: %v)", format, registry.Formats())
	}

	var files []importer.FileInfo
	scanned := len(args) == 0
	if scanned {
		var err error
		files, err = importer.Scan(e.root)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to import.")
			return nil
		}
	} else {
		for _, a := range args {
			files = append(files, importer.FileInfo{Name: filepath.Base(a), Path: a})
		}
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		st, err := importer.ParseFile(parser, f.Path)
		if err != nil {
			return err
		}

		res, err := e.svc.ImportAndSave(cmd.Context(), st.Records)
		if err != nil {
			return fmt.Errorf("importing %s: %w", f.Name, err)
		}

		fmt.Fprintf(out, "%s: %d received, %d inserted, %d duplicates (batch %s)\n",
			f.Name, res.Received, res.Inserted, res.Duplicates, res.BatchID)

		entry := importlog.Entry{
			Timestamp:  time.Now(),
			BatchID:    res.BatchID,
			Action:     importlog.ActionImport,
			Source:     f.Name,
			Received:   res.Received,
			Inserted:   res.Inserted,
			Duplicates: res.Duplicates,
		}
		if err := importlog.Append(e.root, []importlog.Entry{entry}); err != nil {
			e.log.Warn().Err(err).Msg("failed to write import log")
		}

		if scanned && !keep {
			if err := importer.MarkProcessed(e.root, f.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
