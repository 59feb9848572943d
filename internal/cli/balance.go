package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(debtCmd)
	rootCmd.AddCommand(roleCmd)
}

var balanceCmd = &cobra.Command{
	Use:   "balance USER_ID",
	Short: "Show a user's balances",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		b, err := a.ledger.GetBalance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:               %s\n", b.UID)
		fmt.Fprintf(out, "role:               %s\n", b.Role)
		fmt.Fprintf(out, "credit_balance:     %d\n", b.CreditBalance)
		fmt.Fprintf(out, "hd_paid_balance:    %d\n", b.HDPaidBalance)
		fmt.Fprintf(out, "hd_promo_balance:   %d\n", b.HDPromoBalance)
		fmt.Fprintf(out, "referral_pending:   %d\n", b.ReferralPending)
		fmt.Fprintf(out, "referral_available: %d\n", b.ReferralAvailable)
		fmt.Fprintf(out, "referral_debt:      %d\n", b.ReferralDebt)
		return nil
	}),
}

var debtCmd = &cobra.Command{
	Use:   "clear-debt USER_ID AMOUNT",
	Short: "Reduce a user's referral debt after manual settlement",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || amount <= 0 {
			return fmt.Errorf("invalid amount %q", args[1])
		}
		remaining, err := a.referral.ClearDebt(cmd.Context(), args[0], amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remaining referral debt for %s: %d\n", args[0], remaining)
		return nil
	}),
}

var roleCmd = &cobra.Command{
	Use:   "set-role USER_ID ROLE",
	Short: "Set a user's role (user or moderator)",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		if err := a.ledger.SetRole(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "role of %s set to %s\n", args[0], args[1])
		return nil
	}),
}
