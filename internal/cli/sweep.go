package cli

import (
	"fmt"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:       "sweep NAME",
	Short:     "Run one reconciler sweep now",
	Long:      `Run a reconciler sweep once under the same distributed lock the cron process uses.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{constants.SweepStuckRendering, constants.SweepAbandoned, constants.SweepBonusPromotion},
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ttl := a.lockTTL.AsDuration()
		if ttl <= 0 {
			ttl = 4 * time.Minute
		}
		result, err := a.reconciler.RunSweep(cmd.Context(), args[0], ttl)
		if err != nil {
			return pkgErrors.WrapErrorWithLang(cmd.Context(), err, creditErrors.ErrCodeSweepFailed)
		}
		if result.Skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "sweep %s skipped: lock held by another instance\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sweep %s: scanned=%d processed=%d failed=%d\n",
			result.Sweep, result.Scanned, result.Processed, result.Failed)
		return nil
	}),
}
