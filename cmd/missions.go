package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/consultator/internal/model"
)

var missionsCmd = &cobra.Command{
	Use:   "missions",
	Short: "Inspect imported missions",
}

var missionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		consultant, _ := cmd.Flags().GetInt64("consultant")
		code, _ := cmd.Flags().GetString("code")
		limit, _ := cmd.Flags().GetInt("limit")

		missions, err := st.ListMissions(ctx, model.MissionFilter{
			ConsultantID: consultant,
			Code:         code,
			Limit:        limit,
		})
		if err != nil {
			return eris.Wrap(err, "missions list")
		}
		if len(missions) == 0 {
			fmt.Fprintln(os.Stderr, "No missions found.")
			return nil
		}

		formatMissions(os.Stdout, missions)
		return nil
	},
}

func init() {
	missionsListCmd.Flags().Int64("consultant", 0, "filter by consultant id")
	missionsListCmd.Flags().String("code", "", "filter by mission code")
	missionsListCmd.Flags().Int("limit", 100, "max number of missions to display")

	missionsCmd.AddCommand(missionsListCmd)
	rootCmd.AddCommand(missionsCmd)
}

// formatMissions writes a tabular list of missions to out.
func formatMissions(out io.Writer, missions []model.Mission) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCODE\tCONSULTANT\tCLIENT\tSTART\tEND\tTJM\tCJM\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t----\t----------\t------\t-----\t---\t---\t---\t------")

	for _, m := range missions {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID,
			m.Code,
			m.ConsultantID,
			truncate(m.ClientName, 30),
			orDash(model.FormatDate(m.DateStart)),
			orDash(model.FormatDate(m.DateEnd)),
			amount(m.DailyRate),
			amount(m.DailyCost),
			m.Status,
		)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func amount(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}
