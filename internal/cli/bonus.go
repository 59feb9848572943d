package cli

import (
	"fmt"
	"time"

	"credit-service/internal/constants"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(bonusCmd)
	bonusCmd.AddCommand(bonusFreezeCmd)
	bonusCmd.AddCommand(bonusRevokeCmd)
	bonusCmd.AddCommand(bonusListCmd)

	bonusRevokeCmd.Flags().StringP("reason", "r", constants.RevokeReasonRefund, "Revoke reason")
}

var bonusCmd = &cobra.Command{
	Use:   "bonus",
	Short: "Manage referral bonuses",
}

var bonusFreezeCmd = &cobra.Command{
	Use:   "freeze BONUS_ID",
	Short: "Move an available bonus back to pending for review",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ok, err := a.referral.FreezeBonus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "bonus %s is not available, nothing frozen\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bonus %s frozen for %v\n", args[0], constants.FrozenHoldDuration)
		return nil
	}),
}

var bonusRevokeCmd = &cobra.Command{
	Use:   "revoke PAYMENT_ID",
	Short: "Revoke the bonus created by a refunded payment",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		reason, _ := cmd.Flags().GetString("reason")
		ok, err := a.referral.RevokeBonusByPayment(cmd.Context(), args[0], reason)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "no revocable bonus for payment %s\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bonus for payment %s revoked (%s)\n", args[0], reason)
		return nil
	}),
}

var bonusListCmd = &cobra.Command{
	Use:   "list REFERRER_ID",
	Short: "List bonuses earned by a referrer",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		bonuses, err := a.referral.ListBonuses(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-36s  %-10s  %6s  %-20s  %s\n", "ID", "STATUS", "HD", "AVAILABLE_AT", "PAYMENT")
		for _, b := range bonuses {
			fmt.Fprintf(out, "%-36s  %-10s  %6d  %-20s  %s\n",
				b.ID, b.Status, b.HDCreditsAmount, b.AvailableAt.Format(time.DateTime), b.PaymentID)
		}
		return nil
	}),
}
