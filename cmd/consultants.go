package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consultator/internal/model"
	"github.com/sells-group/consultator/internal/roster"
)

var consultantsCmd = &cobra.Command{
	Use:   "consultants",
	Short: "Manage the consultant roster",
}

// -- consultants import --

var consultantsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load or update consultants from a CSV export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("csv")
		encoding, _ := cmd.Flags().GetString("encoding")
		if encoding == "" {
			encoding = cfg.Import.CSVEncoding
		}

		consultants, rowErrs, err := roster.Load(ctx, path, encoding)
		if err != nil {
			return err
		}
		for _, re := range rowErrs {
			zap.L().Warn("consultant row rejected", zap.Int("line", re.Line), zap.String("reason", re.Reason))
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertConsultants(ctx, consultants)
		if err != nil {
			return eris.Wrap(err, "consultants import")
		}

		zap.L().Info("consultants imported",
			zap.String("csv", path),
			zap.Int64("upserted", n),
			zap.Int("rejected", len(rowErrs)),
		)
		return nil
	},
}

// -- consultants list --

var consultantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List consultants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		consultants, err := st.ListConsultants(ctx)
		if err != nil {
			return eris.Wrap(err, "consultants list")
		}
		if len(consultants) == 0 {
			fmt.Fprintln(os.Stderr, "No consultants found.")
			return nil
		}

		formatConsultants(os.Stdout, consultants)
		return nil
	},
}

func init() {
	consultantsImportCmd.Flags().String("csv", "", "path to CSV file (required)")
	consultantsImportCmd.Flags().String("encoding", "", "CSV charset (default from config, e.g. windows-1252)")
	_ = consultantsImportCmd.MarkFlagRequired("csv")

	consultantsCmd.AddCommand(consultantsImportCmd)
	consultantsCmd.AddCommand(consultantsListCmd)
	rootCmd.AddCommand(consultantsCmd)
}

// formatConsultants writes a tabular list of consultants to out.
func formatConsultants(out io.Writer, consultants []model.Consultant) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPRACTICE\tEMAIL\tACTIVE")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-----\t------")

	for _, c := range consultants {
		active := "yes"
		if !c.Active {
			active = "no"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			c.ID,
			truncate(c.FullName(), 30),
			c.Practice,
			c.Email,
			active,
		)
	}
	_ = w.Flush()
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
