package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/warden/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled identities",
	Run: func(cmd *cobra.Command, args []string) {
		identities, err := DB.ListIdentities(cmd.Context())
		if err != nil {
			utils.Die("Failed to list identities", err, nil)
		}

		if len(identities) == 0 {
			fmt.Println("No identities enrolled.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODEL\tSOURCE\tCREATED")
		fmt.Fprintln(w, "--\t----\t-----\t------\t-------")
		for _, id := range identities {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", id.ID, id.Name, id.Model, id.Source, id.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
