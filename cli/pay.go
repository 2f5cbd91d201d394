package cli

import (
	"fmt"

	"payflow/helpers"

	"github.com/spf13/cobra"
)

func newPayCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Make a one-time payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			step := a.orch.OneTimePayment()
			if !step.Enabled() {
				return disabledError(step.View())
			}
			amountFlag, _ := cmd.Flags().GetString("amount")
			amount, err := helpers.ParseDollars(amountFlag)
			if err != nil {
				return err
			}
			intentID, err := step.Submit(cmd.Context(), amount, cardFromFlags(cmd))
			if err != nil {
				return stepError(err, step.Attempt())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Payment of %v successful (%v)\n", helpers.FormatCents(amount), intentID)
			return nil
		},
	}
	cmd.Flags().String("amount", "", "Amount in dollars, e.g. 20.00")
	addCardFlags(cmd)
	return cmd
}

func newBuyCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy [product-id]",
		Short: "Buy a product from the catalog",
		Long: `Buys one catalog product. Subscription products start a subscription,
everything else is charged once. Without a product id the catalog is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			step := a.orch.BuyProduct()
			if !step.Enabled() {
				return disabledError(step.View())
			}
			products, err := step.FetchProducts(cmd.Context())
			if err != nil {
				return stepError(err, step.Attempt())
			}
			if len(args) == 0 {
				printProducts(cmd, products)
				return nil
			}

			err = step.Select(args[0])
			if err != nil {
				return err
			}
			err = step.Submit(cmd.Context(), cardFromFlags(cmd))
			if err != nil {
				return stepError(err, step.Attempt())
			}
			fmt.Fprintln(cmd.OutOrStdout(), step.View().Message)
			return nil
		},
	}
	addCardFlags(cmd)
	return cmd
}
