// Package cli is the payflow command line: one command per workflow step,
// plus session and console management.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	configFile string
	profile    string
	variant    string
	verbose    bool
}

// NewRootCommand builds the full command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "payflow",
		Short: "Walk through a payment integration step by step",
		Long: `payflow drives a payment backend through the usual integration steps:
sign in, create a product and a customer, save a card, take payments and
manage subscriptions. Card data is confirmed with Stripe directly and never
sent to the backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file (default ~/.payflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.profile, "profile", "", "Session profile name")
	rootCmd.PersistentFlags().StringVar(&opts.variant, "variant", "", "Backend flavour: advanced or basic")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(
		newSignUpCmd(opts),
		newSignInCmd(opts),
		newSignOutCmd(opts),
		newLoginOAuthCmd(opts),
		newStatusCmd(opts),
		newProductsCmd(opts),
		newCustomerCmd(opts),
		newCardCmd(opts),
		newPayCmd(opts),
		newBuyCmd(opts),
		newSubscribeCmd(opts),
		newSubscriptionCmd(opts),
		newResetCmd(opts),
		newConsoleCmd(opts),
	)
	return rootCmd
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd := NewRootCommand()
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
