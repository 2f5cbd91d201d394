package cli

import (
	"fmt"

	"payflow/helpers"
	"payflow/models"
	"payflow/workflow"

	"github.com/spf13/cobra"
)

func newProductsCmd(opts *globalOptions) *cobra.Command {
	productsCmd := &cobra.Command{
		Use:   "products",
		Short: "Create and list catalog products",
	}

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Create a product and its price",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			step := a.orch.ProductSetup()
			if !step.Enabled() {
				return disabledError(step.View())
			}

			in := workflow.ProductInput{}
			in.Name, _ = cmd.Flags().GetString("name")
			in.Description, _ = cmd.Flags().GetString("description")
			price, _ := cmd.Flags().GetString("price")
			in.Price, err = helpers.ParseDollars(price)
			if err != nil {
				return err
			}
			productType, _ := cmd.Flags().GetString("type")
			in.Type = models.ProductType(productType)
			if in.Type != models.ProductTypeOneTime && in.Type != models.ProductTypeSubscription {
				return fmt.Errorf("unknown product type %q", productType)
			}

			priceID, err := step.Submit(cmd.Context(), in)
			if err != nil {
				return stepError(err, step.Attempt())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %v (%v) with price %v\n", in.Name, helpers.FormatCents(in.Price), priceID)
			return nil
		},
	}
	setupCmd.Flags().String("name", "", "Product name")
	setupCmd.Flags().String("description", "", "Product description")
	setupCmd.Flags().String("price", "", "Price in dollars, e.g. 20.00")
	setupCmd.Flags().String("type", string(models.ProductTypeOneTime), "one-time or subscription")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the products available to buy",
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
				return err
			}
			printProducts(cmd, products)
			return nil
		},
	}

	productsCmd.AddCommand(setupCmd, listCmd)
	return productsCmd
}

func printProducts(cmd *cobra.Command, products []models.Product) {
	out := cmd.OutOrStdout()
	if len(products) == 0 {
		fmt.Fprintln(out, "No products available")
		return
	}
	for _, p := range products {
		suffix := ""
		if p.IsSubscription() {
			suffix = " / month"
		}
		fmt.Fprintf(out, "  %-24s %-20s %v%v\n", p.ID, p.Name, helpers.FormatCents(p.Price), suffix)
		if p.Description != "" {
			fmt.Fprintf(out, "    %v\n", p.Description)
		}
	}
}
