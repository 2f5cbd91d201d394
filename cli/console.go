package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"payflow/routes"

	"github.com/spf13/cobra"
)

func newResetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the stored session and start over",
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
			fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
			return nil
		},
	}
}

func newConsoleCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Serve workflow state and metrics on a local port",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Console at %v (Ctrl-C to stop)\n", a.conf.Console.BaseURL())
			return routes.NewConsole(a.orch, a.gate, a.metrics).Serve(ctx, a.conf.Console.Addr())
		},
	}
}
