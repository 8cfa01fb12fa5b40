package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/warden/internal/utils"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent kiosk verifications",
	Run: func(cmd *cobra.Command, args []string) {
		if historyLimit < 1 {
			utils.Die("Invalid flags", fmt.Errorf("--limit must be at least 1, got %d", historyLimit), nil)
		}
		rows, err := DB.ListVerifications(cmd.Context(), historyLimit)
		if err != nil {
			utils.Die("Failed to load verification history", err, nil)
		}
		if len(rows) == 0 {
			fmt.Println("No verifications recorded.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "WHEN\tWHO\tCODE\tTRANSACTION\tDIRECTION\tOUTCOME\tDETAIL")
		fmt.Fprintln(w, "----\t---\t----\t-----------\t---------\t-------\t------")
		for _, v := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				v.CreatedAt.Local().Format("2006-01-02 15:04:05"), v.IdentityName, v.Code,
				orDash(v.TransactionID), orDash(v.Direction), v.Outcome, orDash(v.Detail))
		}
		w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Number of rows to show")
	rootCmd.AddCommand(historyCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
