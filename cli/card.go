package cli

import (
	"fmt"

	"payflow/workflow"

	"github.com/spf13/cobra"
)

func newCardCmd(opts *globalOptions) *cobra.Command {
	cardCmd := &cobra.Command{
		Use:   "card",
		Short: "Manage saved payment methods",
	}

	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Save a card for future payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			step := a.orch.CardSaving()
			if !step.Enabled() {
				return disabledError(step.View())
			}
			err = step.Submit(cmd.Context(), cardFromFlags(cmd))
			if err != nil {
				return stepError(err, step.Attempt())
			}
			fmt.Fprintln(cmd.OutOrStdout(), step.View().Message)
			return nil
		},
	}
	addCardFlags(saveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the customer's saved cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			customerID := a.orch.Session().CustomerID
			if customerID == "" || a.orch.Stage() == workflow.StageUnauthenticated {
				return disabledError(a.orch.CardSaving().View())
			}
			methods, err := a.client.ListPaymentMethods(cmd.Context(), customerID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(methods) == 0 {
				fmt.Fprintln(out, "No saved cards")
				return nil
			}
			for _, m := range methods {
				fmt.Fprintf(out, "  %-28s %-10s **** %v  %02d/%d\n", m.ID, m.Brand, m.Last4, m.ExpMonth, m.ExpYear)
			}
			return nil
		},
	}

	detachCmd := &cobra.Command{
		Use:   "detach [payment-method-id]",
		Short: "Remove a saved card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if a.orch.Stage() == workflow.StageUnauthenticated {
				return disabledError(a.orch.CardSaving().View())
			}
			err = a.client.DetachPaymentMethod(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Detached %v\n", args[0])
			return nil
		},
	}

	cardCmd.AddCommand(saveCmd, listCmd, detachCmd)
	return cardCmd
}
