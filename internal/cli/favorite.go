package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("correlation-id", "", "Correlation id of the support ticket")
}

var reportCmd = &cobra.Command{
	Use:   "report-problem USER_ID FAVORITE_ID",
	Short: "Record a user-reported HD problem (audit only, no credit returned)",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		correlationID, _ := cmd.Flags().GetString("correlation-id")
		entry, err := a.favorite.ReportProblem(cmd.Context(), args[0], args[1], correlationID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "problem recorded: id=%s favorite=%s correlation_id=%s\n",
			entry.ID, entry.FavoriteID, entry.CorrelationID)
		return nil
	}),
}
