package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCustomerCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Get or create the payment customer for the signed in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			step := a.orch.CustomerCreation()
			if !step.Enabled() {
				return disabledError(step.View())
			}

			reset, _ := cmd.Flags().GetBool("reset")
			if reset {
				err = step.ResetCustomer(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Customer id cleared")
				return nil
			}

			if id := a.orch.Session().CustomerID; id != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Customer ID: %v\n", id)
				return nil
			}
			id, err := step.Submit(cmd.Context())
			if err != nil {
				return stepError(err, step.Attempt())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Customer ID: %v\n", id)
			return nil
		},
	}
	cmd.Flags().Bool("reset", false, "Forget the stored customer id")
	return cmd
}
