package cli

import (
	"fmt"
	"strings"

	"payflow/helpers"
	"payflow/workflow"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the workflow stage and which steps are available",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			s := a.orch.Session()
			fmt.Fprintln(out, "payflow status")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "  Variant:   %v\n", a.conf.Variant)
			fmt.Fprintf(out, "  Profile:   %v\n", a.conf.Profile)
			fmt.Fprintf(out, "  Auth:      %v\n", a.gate.State())
			fmt.Fprintf(out, "  Stage:     %v\n", a.orch.Stage())
			fmt.Fprintf(out, "  Token:     %v\n", valueOrNone(helpers.Mask(s.AuthToken)))
			fmt.Fprintf(out, "  Customer:  %v\n", valueOrNone(s.CustomerID))
			fmt.Fprintf(out, "  Price:     %v\n", valueOrNone(s.PriceID))

			fmt.Fprintln(out, "\nSteps:")
			for _, v := range stepViews(a.orch) {
				state := "available"
				if !v.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "  %-22s %-10s %v\n", v.Step, state, v.Message)
			}
			return nil
		},
	}
}

func stepViews(orch *workflow.Orchestrator) []workflow.StepView {
	return []workflow.StepView{
		orch.ProductSetup().View(),
		orch.CustomerCreation().View(),
		orch.CardSaving().View(),
		orch.OneTimePayment().View(),
		orch.BuyProduct().View(),
		orch.SubscribeToSite().View(),
		orch.SubscriptionCreation().View(),
	}
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
