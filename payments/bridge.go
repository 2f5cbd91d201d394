// Package payments confirms backend-issued setup and payment intents with
// locally collected card data. Card data goes straight to Stripe and never
// to the payment backend.
package payments

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"payflow/config"
	"payflow/metrics"
	"payflow/models"
)

type Kind string

const (
	KindSetup   Kind = "setup"
	KindPayment Kind = "payment"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// intent statuses shared by setup and payment intents
const (
	statusSucceeded      = "succeeded"
	statusRequiresAction = "requires_action"
	statusProcessing     = "processing"
)

// Result is the outcome of one confirmation. Reason carries the payment
// SDK's human readable message verbatim when Stripe refused the card.
type Result struct {
	Outcome        Outcome
	RequiredAction bool
	IntentID       string
	Status         string
	Reason         string
	DeclineCode    string
}

func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

// ActionHandler lets the user complete an extra authentication step (3D
// Secure) at url. It returns once the user is done or gives up.
type ActionHandler interface {
	HandleAction(ctx context.Context, url string) error
}

type ActionHandlerFunc func(ctx context.Context, url string) error

func (f ActionHandlerFunc) HandleAction(ctx context.Context, url string) error {
	return f(ctx, url)
}

// PromptHandler prints the authentication url and waits for the user to
// press enter.
type PromptHandler struct {
	Out io.Writer
	In  io.Reader
}

func (p PromptHandler) HandleAction(ctx context.Context, url string) error {
	fmt.Fprintf(p.Out, "Additional authentication required. Open this page to continue:\n  %v\nPress Enter when done.\n", url)
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(p.In).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// intentState is the part of a setup or payment intent the bridge cares about
type intentState struct {
	ID        string
	Status    string
	ActionURL string
	LastError string
}

// intentAPI is the slice of the Stripe client surface the bridge drives
type intentAPI interface {
	CreateCardMethod(card models.Card) (string, error)
	Confirm(kind Kind, id, secret, paymentMethod, returnURL string) (intentState, error)
	Get(kind Kind, id, secret string) (intentState, error)
}

type Bridge struct {
	intents      intentAPI
	action       ActionHandler
	returnURL    string
	pollInterval time.Duration
	pollAttempts int
	metrics      *metrics.Metrics
}

// NewBridge builds a bridge on the Stripe API using the publishable key.
// action may be nil, in which case intents needing extra authentication
// fail.
func NewBridge(conf config.Config, action ActionHandler, m *metrics.Metrics) (*Bridge, error) {
	if conf.Stripe.PublishableKey == "" {
		return nil, fmt.Errorf("stripe.publishableKey is not configured")
	}
	return newBridge(newStripeIntents(conf.Stripe.PublishableKey), action, conf, m), nil
}

func newBridge(intents intentAPI, action ActionHandler, conf config.Config, m *metrics.Metrics) *Bridge {
	attempts := conf.Confirm.PollAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Bridge{
		intents:      intents,
		action:       action,
		returnURL:    conf.Stripe.ReturnURL,
		pollInterval: conf.Confirm.PollInterval,
		pollAttempts: attempts,
		metrics:      m,
	}
}

// IntentIDFromSecret extracts the intent id from a client secret of the form
// <id>_secret_<random>.
func IntentIDFromSecret(secret string) (string, error) {
	idx := strings.Index(secret, "_secret_")
	if idx <= 0 {
		return "", fmt.Errorf("malformed client secret")
	}
	return secret[:idx], nil
}

func (k Kind) idPrefix() string {
	if k == KindSetup {
		return "seti_"
	}
	return "pi_"
}

// ConfirmSetup attaches card to the customer behind a setup intent secret
func (b *Bridge) ConfirmSetup(ctx context.Context, secret string, card models.Card) Result {
	return b.confirm(ctx, KindSetup, secret, card)
}

// ConfirmPayment charges card against a payment intent secret
func (b *Bridge) ConfirmPayment(ctx context.Context, secret string, card models.Card) Result {
	return b.confirm(ctx, KindPayment, secret, card)
}

func (b *Bridge) confirm(ctx context.Context, kind Kind, secret string, card models.Card) Result {
	res := b.run(ctx, kind, secret, card)
	b.metrics.ObserveConfirmation(string(kind), string(res.Outcome))
	return res
}

func (b *Bridge) run(ctx context.Context, kind Kind, secret string, card models.Card) Result {
	id, err := IntentIDFromSecret(secret)
	if err != nil {
		return failed(Result{}, err.Error())
	}
	if !strings.HasPrefix(id, kind.idPrefix()) {
		return failed(Result{IntentID: id}, fmt.Sprintf("client secret does not belong to a %v intent", kind))
	}
	res := Result{IntentID: id}

	paymentMethod := card.Token
	if paymentMethod == "" {
		paymentMethod, err = b.intents.CreateCardMethod(card)
		if err != nil {
			return failedWithError(res, err)
		}
	}

	state, err := b.intents.Confirm(kind, id, secret, paymentMethod, b.returnURL)
	if err != nil {
		return failedWithError(res, err)
	}

	if state.Status == statusRequiresAction {
		res.RequiredAction = true
		if state.ActionURL == "" {
			res.Status = state.Status
			return failed(res, "authentication requires an action that cannot be completed here")
		}
		if b.action == nil {
			res.Status = state.Status
			return failed(res, "authentication required but no action handler is available")
		}
		err = b.action.HandleAction(ctx, state.ActionURL)
		if err != nil {
			res.Status = state.Status
			return failed(res, fmt.Sprintf("authentication was not completed: %v", err))
		}
	}

	if state.Status == statusRequiresAction || state.Status == statusProcessing {
		state, err = b.poll(ctx, kind, id, secret)
		if err != nil {
			return failedWithError(res, err)
		}
	}

	res.Status = state.Status
	if state.Status == statusSucceeded {
		res.Outcome = OutcomeSucceeded
		return res
	}
	if state.LastError != "" {
		return failed(res, state.LastError)
	}
	return failed(res, fmt.Sprintf("%v intent ended in status %v", kind, state.Status))
}

// poll re-reads the intent until it leaves the pending statuses or the
// attempts run out.
func (b *Bridge) poll(ctx context.Context, kind Kind, id, secret string) (intentState, error) {
	var state intentState
	for i := 0; i < b.pollAttempts; i++ {
		if i > 0 || b.pollInterval > 0 {
			select {
			case <-ctx.Done():
				return state, ctx.Err()
			case <-time.After(b.pollInterval):
			}
		}
		var err error
		state, err = b.intents.Get(kind, id, secret)
		if err != nil {
			return state, err
		}
		if state.Status != statusRequiresAction && state.Status != statusProcessing {
			return state, nil
		}
	}
	log.Printf("%v intent %v still %v after %d checks", kind, id, state.Status, b.pollAttempts)
	return state, nil
}

func failed(res Result, reason string) Result {
	res.Outcome = OutcomeFailed
	res.Reason = reason
	return res
}

func failedWithError(res Result, err error) Result {
	reason, declineCode := describeError(err)
	res.DeclineCode = declineCode
	return failed(res, reason)
}
