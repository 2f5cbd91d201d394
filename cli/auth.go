package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"payflow/auth"
	"payflow/models"
	"payflow/routes"
	"payflow/workflow"

	"github.com/spf13/cobra"
)

func newSignUpCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			creds := models.Credentials{}
			creds.Email, _ = cmd.Flags().GetString("email")
			creds.Password, _ = cmd.Flags().GetString("password")
			creds.Name, _ = cmd.Flags().GetString("name")

			lookup, err := a.gate.SignUp(cmd.Context(), creds)
			if err != nil {
				return fmt.Errorf("sign up failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed up as %v\n", creds.Email)
			a.reportLookup(cmd, lookup)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().String("password", "", "Password")
	cmd.Flags().String("name", "", "Full name")
	return cmd
}

func newSignInCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			lookup, err := a.gate.SignIn(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("sign in failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %v\n", email)
			a.reportLookup(cmd, lookup)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().String("password", "", "Password")
	return cmd
}

func newSignOutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget every stored identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			err = a.gate.SignOut(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newLoginOAuthCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login-oauth",
		Short: "Sign in through the FusionAuth login page",
		Long: `Starts the local console to receive the OAuth callback, prints the
FusionAuth login url and waits for the browser to come back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			wait, _ := cmd.Flags().GetDuration("timeout")
			redirectURL := a.conf.Console.BaseURL() + "/auth/oauth-cb"
			flow, err := auth.NewOAuthFlow(a.conf.FusionAuth, redirectURL, func(ctx context.Context, token string) error {
				_, err := a.gate.Accept(ctx, token)
				return err
			})
			if err != nil {
				return err
			}

			con := routes.NewConsole(a.orch, a.gate, a.metrics)
			con.SetFlow(flow)
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			serveErr := make(chan error, 1)
			go func() {
				serveErr <- con.Serve(ctx, a.conf.Console.Addr())
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "Open this page to sign in:\n  %v\n", flow.AuthCodeURL())
			_, err = flow.Wait(ctx)
			cancel()
			if serr := <-serveErr; serr != nil && err == nil {
				err = serr
			}
			if err != nil {
				return fmt.Errorf("oauth login failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed in")
			a.reportLookup(cmd, a.orch.LookupCustomer())
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Minute, "How long to wait for the browser login")
	return cmd
}

// reportLookup waits for the silent customer lookup started by a sign in
func (a *app) reportLookup(cmd *cobra.Command, lookup *workflow.CustomerLookup) {
	printLookup(cmd.OutOrStdout(), a.waitLookup(cmd.Context(), lookup))
}

func printLookup(w io.Writer, res workflow.LookupResult) {
	switch res.State {
	case workflow.LookupFound:
		fmt.Fprintf(w, "Found existing customer %v\n", res.CustomerID)
	case workflow.LookupAbsent:
		fmt.Fprintln(w, "No payment customer yet, run `payflow customer` to create one")
	case workflow.LookupPending:
		fmt.Fprintln(w, "Still checking for an existing customer")
	}
}
