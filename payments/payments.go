package payments

import (
	"errors"
	"fmt"

	"payflow/models"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// stripeIntents drives the Stripe API with a publishable key, the same way
// Stripe.js does in a browser: intents are addressed by id and authorised by
// their client secret.
type stripeIntents struct {
	sc *client.API
}

func newStripeIntents(publishableKey string) *stripeIntents {
	sc := &client.API{}
	sc.Init(publishableKey, nil)
	return &stripeIntents{sc: sc}
}

// https://stripe.com/docs/api/payment_methods/create
func (s *stripeIntents) CreateCardMethod(card models.Card) (string, error) {
	pm, err := s.sc.PaymentMethods.New(&stripe.PaymentMethodParams{
		Type: stripe.String("card"),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.String(card.ExpMonth),
			ExpYear:  stripe.String(card.ExpYear),
			CVC:      stripe.String(card.CVC),
		},
	})
	if err != nil {
		return "", err
	}
	return pm.ID, nil
}

func (s *stripeIntents) Confirm(kind Kind, id, secret, paymentMethod, returnURL string) (intentState, error) {
	if kind == KindSetup {
		params := &stripe.SetupIntentConfirmParams{
			PaymentMethod: stripe.String(paymentMethod),
		}
		if returnURL != "" {
			params.ReturnURL = stripe.String(returnURL)
		}
		params.AddExtra("client_secret", secret)
		si, err := s.sc.SetupIntents.Confirm(id, params)
		if err != nil {
			return intentState{}, err
		}
		return setupIntentState(si), nil
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethod),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.AddExtra("client_secret", secret)
	pi, err := s.sc.PaymentIntents.Confirm(id, params)
	if err != nil {
		return intentState{}, err
	}
	return paymentIntentState(pi), nil
}

func (s *stripeIntents) Get(kind Kind, id, secret string) (intentState, error) {
	if kind == KindSetup {
		params := &stripe.SetupIntentParams{}
		params.AddExtra("client_secret", secret)
		si, err := s.sc.SetupIntents.Get(id, params)
		if err != nil {
			return intentState{}, err
		}
		return setupIntentState(si), nil
	}

	params := &stripe.PaymentIntentParams{}
	params.AddExtra("client_secret", secret)
	pi, err := s.sc.PaymentIntents.Get(id, params)
	if err != nil {
		return intentState{}, err
	}
	return paymentIntentState(pi), nil
}

func setupIntentState(si *stripe.SetupIntent) intentState {
	state := intentState{
		ID:     si.ID,
		Status: string(si.Status),
	}
	if si.NextAction != nil && si.NextAction.RedirectToURL != nil {
		state.ActionURL = si.NextAction.RedirectToURL.URL
	}
	if si.LastSetupError != nil {
		state.LastError = si.LastSetupError.Msg
	}
	return state
}

func paymentIntentState(pi *stripe.PaymentIntent) intentState {
	state := intentState{
		ID:     pi.ID,
		Status: string(pi.Status),
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		state.ActionURL = pi.NextAction.RedirectToURL.URL
	}
	if pi.LastPaymentError != nil {
		state.LastError = pi.LastPaymentError.Msg
	}
	return state
}

// describeError returns the message Stripe wants shown to the user, and the
// decline code when the card was declined.
func describeError(err error) (reason string, declineCode string) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		reason = stripeErr.Msg
		if reason == "" {
			reason = fmt.Sprintf("stripe error: %v", stripeErr.Code)
		}
		return reason, string(stripeErr.DeclineCode)
	}
	return err.Error(), ""
}
