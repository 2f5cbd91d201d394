package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"payflow/api"
	"payflow/auth"
	"payflow/config"
	"payflow/metrics"
	"payflow/models"
	"payflow/payments"
	"payflow/session"
	"payflow/workflow"

	"github.com/spf13/cobra"
)

// app is everything one command invocation works with
type app struct {
	conf    config.Config
	store   session.Store
	metrics *metrics.Metrics
	orch    *workflow.Orchestrator
	client  *api.Client
	gate    *auth.Gate
}

func loadConfig(cmd *cobra.Command, opts *globalOptions) (config.Config, error) {
	v := config.New()
	flags := cmd.Flags()
	for key, flag := range map[string]string{"profile": "profile", "variant": "variant", "verbose": "verbose"} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			err := v.BindPFlag(key, f)
			if err != nil {
				return config.Config{}, err
			}
		}
	}
	return config.Load(v, opts.configFile)
}

// loadApp wires config, session store, backend client, confirmation bridge
// and auth gate. When a signed in session has no customer id yet, the
// silent customer lookup runs before the command does.
func loadApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	ctx := cmd.Context()
	conf, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	if conf.Verbose {
		if conf.ConfigFile != "" {
			log.Printf("using config file %v", conf.ConfigFile)
		}
		log.Printf("variant %v, profile %v, backend %v", conf.Variant, conf.Profile, conf.API.BaseURL)
	}

	store, err := session.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	orch, err := workflow.NewOrchestrator(ctx, workflow.Options{
		Store:   store,
		Variant: conf.Variant,
		Metrics: m,
		Verbose: conf.Verbose,
	})
	if err != nil {
		session.Close(store)
		return nil, err
	}

	client := api.New(conf, orch, m)
	orch.Use(client, newConfirmer(cmd, conf, m))

	var authn auth.Authenticator = auth.BackendAuthenticator{Client: client}
	if conf.FusionAuth.Enabled() {
		authn, err = auth.NewFusionAuthAuthenticator(conf.FusionAuth)
		if err != nil {
			session.Close(store)
			return nil, err
		}
	}
	gate := auth.NewGate(orch, authn)
	_, err = gate.Check(ctx)
	if err != nil {
		session.Close(store)
		return nil, err
	}

	a := &app{
		conf:    conf,
		store:   store,
		metrics: m,
		orch:    orch,
		client:  client,
		gate:    gate,
	}
	a.resolveCustomer(ctx)
	return a, nil
}

func (a *app) close() {
	err := session.Close(a.store)
	if err != nil {
		log.Printf("failed to close session store: %v", err)
	}
}

// resolveCustomer runs the silent customer lookup
func (a *app) resolveCustomer(ctx context.Context) workflow.LookupResult {
	return a.waitLookup(ctx, a.orch.LookupCustomer())
}

// waitLookup waits for lookup, bounded by the api timeout
func (a *app) waitLookup(ctx context.Context, lookup *workflow.CustomerLookup) workflow.LookupResult {
	timeout := a.conf.API.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return lookup.Wait(ctx)
}

// newConfirmer builds the Stripe bridge, or a confirmer that refuses every
// intent when no publishable key is configured.
func newConfirmer(cmd *cobra.Command, conf config.Config, m *metrics.Metrics) workflow.Confirmer {
	action := payments.PromptHandler{Out: cmd.OutOrStdout(), In: cmd.InOrStdin()}
	bridge, err := payments.NewBridge(conf, action, m)
	if err != nil {
		return unconfiguredConfirmer{err: err}
	}
	return bridge
}

type unconfiguredConfirmer struct {
	err error
}

func (u unconfiguredConfirmer) ConfirmSetup(ctx context.Context, secret string, card models.Card) payments.Result {
	return payments.Result{Outcome: payments.OutcomeFailed, Reason: u.err.Error()}
}

func (u unconfiguredConfirmer) ConfirmPayment(ctx context.Context, secret string, card models.Card) payments.Result {
	return payments.Result{Outcome: payments.OutcomeFailed, Reason: u.err.Error()}
}

// stepError prefers the text the step would display over the raw error
func stepError(err error, attempt workflow.Attempt) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, workflow.ErrDisabled) || errors.Is(err, workflow.ErrInvalidInput) {
		return err
	}
	if attempt.Status == workflow.StatusFailed && attempt.Error != "" {
		return errors.New(attempt.Error)
	}
	return err
}

// disabledError explains why a step cannot run
func disabledError(view workflow.StepView) error {
	return fmt.Errorf("%v", view.Message)
}

func addCardFlags(cmd *cobra.Command) {
	cmd.Flags().String("card-number", "", "Card number")
	cmd.Flags().String("exp-month", "", "Card expiry month")
	cmd.Flags().String("exp-year", "", "Card expiry year")
	cmd.Flags().String("cvc", "", "Card security code")
	cmd.Flags().String("card-token", "", "Existing payment method to use instead of card details (e.g. pm_card_visa)")
}

func cardFromFlags(cmd *cobra.Command) models.Card {
	card := models.Card{}
	card.Number, _ = cmd.Flags().GetString("card-number")
	card.ExpMonth, _ = cmd.Flags().GetString("exp-month")
	card.ExpYear, _ = cmd.Flags().GetString("exp-year")
	card.CVC, _ = cmd.Flags().GetString("cvc")
	card.Token, _ = cmd.Flags().GetString("card-token")
	return card
}
