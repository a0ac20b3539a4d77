package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/consultator/internal/resilience"
	"github.com/sells-group/consultator/internal/vsa"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import data from spreadsheets",
}

var importVSACmd = &cobra.Command{
	Use:   "vsa",
	Short: "Import VSA missions from an XLSX or CSV export",
	Long: "Reads the mission sheet row by row, skips rows for unknown consultants and " +
		"missions already known by (code, consultant, start date), and commits the rest in one transaction.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := importOptions(cmd)
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r := cfg.Import.Retry
		im := vsa.NewImporter(st, resilience.FromRetryConfig(
			r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction,
		))

		summary, err := im.Run(ctx, opts)
		if summary != nil {
			summary.Print(os.Stdout)
		}
		if err != nil {
			return eris.Wrap(err, "import vsa")
		}
		return nil
	},
}

// importOptions merges command-line flags over the configured defaults.
func importOptions(cmd *cobra.Command) vsa.Options {
	flags := cmd.Flags()
	if flags.Changed("file") {
		cfg.Import.File, _ = flags.GetString("file")
	}
	if flags.Changed("sheet") {
		cfg.Import.Sheet, _ = flags.GetString("sheet")
	}
	dryRun, _ := flags.GetBool("dry-run")

	return vsa.Options{
		File:           cfg.Import.File,
		Sheet:          cfg.Import.Sheet,
		CSVEncoding:    cfg.Import.CSVEncoding,
		DryRun:         dryRun,
		MaxErrorsShown: cfg.Import.MaxErrorsShown,
	}
}

func init() {
	importVSACmd.Flags().String("file", "VSA_missions.xlsx", "path to the VSA export (.xlsx or .csv)")
	importVSACmd.Flags().String("sheet", "Mission", "worksheet to read (XLSX only)")
	importVSACmd.Flags().Bool("dry-run", false, "validate and deduplicate without writing")

	importCmd.AddCommand(importVSACmd)
	rootCmd.AddCommand(importCmd)
}
