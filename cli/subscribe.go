package cli

import (
	"fmt"
	"log"

	"payflow/workflow"

	"github.com/spf13/cobra"
)

func newSubscribeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to the site's Pro plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			step := a.orch.SubscribeToSite()
			if !step.Enabled() {
				return disabledError(step.View())
			}
			statusOnly, _ := cmd.Flags().GetBool("status")
			_, err = step.RefreshStatus(cmd.Context())
			if err != nil {
				log.Printf("failed to fetch subscription status: %v", err)
				if statusOnly {
					return err
				}
			}

			view := step.View()
			if statusOnly || !hasAction(view.Actions, "subscribe") {
				fmt.Fprintln(cmd.OutOrStdout(), view.Message)
				return nil
			}

			card := cardFromFlags(cmd)
			cardArg := &card
			if card.Token == "" && card.Number == "" {
				cardArg = nil
			}
			err = step.Subscribe(cmd.Context(), cardArg)
			if err != nil {
				return stepError(err, step.Attempt())
			}
			if step.Attempt().Status != workflow.StatusSucceeded {
				fmt.Fprintln(cmd.OutOrStdout(), step.View().Message)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully subscribed to Pro plan!")
			fmt.Fprintln(cmd.OutOrStdout(), step.View().Message)
			return nil
		},
	}
	cmd.Flags().Bool("status", false, "Only show the subscription status")
	addCardFlags(cmd)
	return cmd
}

func newSubscriptionCmd(opts *globalOptions) *cobra.Command {
	subscriptionCmd := &cobra.Command{
		Use:   "subscription",
		Short: "Subscriptions to the price created by products setup",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Subscribe the customer to the stored price",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			step := a.orch.SubscriptionCreation()
			if !step.Enabled() {
				return disabledError(step.View())
			}
			email, _ := cmd.Flags().GetString("email")
			subID, err := step.Submit(cmd.Context(), email, cardFromFlags(cmd))
			if err != nil {
				return stepError(err, step.Attempt())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscription created: %v\n", subID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Billing email")
	addCardFlags(createCmd)

	subscriptionCmd.AddCommand(createCmd)
	return subscriptionCmd
}

func hasAction(actions []string, name string) bool {
	for _, a := range actions {
		if a == name {
			return true
		}
	}
	return false
}
