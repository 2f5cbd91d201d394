package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"payflow/config"
	"payflow/metrics"
	"payflow/models"

	"github.com/stripe/stripe-go/v72"
)

type confirmCall struct {
	kind          Kind
	id            string
	secret        string
	paymentMethod string
}

type fakeIntents struct {
	cardErr    error
	confirm    intentState
	confirmErr error
	gets       []intentState
	getCalls   int
	cards      int
	confirms   []confirmCall
}

func (f *fakeIntents) CreateCardMethod(card models.Card) (string, error) {
	f.cards++
	if f.cardErr != nil {
		return "", f.cardErr
	}
	return "pm_from_card", nil
}

func (f *fakeIntents) Confirm(kind Kind, id, secret, paymentMethod, returnURL string) (intentState, error) {
	f.confirms = append(f.confirms, confirmCall{kind: kind, id: id, secret: secret, paymentMethod: paymentMethod})
	return f.confirm, f.confirmErr
}

func (f *fakeIntents) Get(kind Kind, id, secret string) (intentState, error) {
	idx := f.getCalls
	f.getCalls++
	if idx >= len(f.gets) {
		return f.gets[len(f.gets)-1], nil
	}
	return f.gets[idx], nil
}

func testConfig() config.Config {
	conf := config.Config{}
	conf.Confirm.PollAttempts = 3
	conf.Confirm.PollInterval = time.Millisecond
	return conf
}

var visa = models.Card{Number: "4242424242424242", ExpMonth: "12", ExpYear: "2030", CVC: "123"}

func TestIntentIDFromSecret(t *testing.T) {
	id, err := IntentIDFromSecret("pi_123_secret_abc")
	if err != nil || id != "pi_123" {
		t.Errorf("IntentIDFromSecret = %q, %v", id, err)
	}
	for _, bad := range []string{"", "secret_abc", "_secret_abc", "pi_123"} {
		if _, err := IntentIDFromSecret(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestConfirmSetupSucceeded(t *testing.T) {
	fake := &fakeIntents{confirm: intentState{ID: "seti_1", Status: "succeeded"}}
	m := metrics.New()
	bridge := newBridge(fake, nil, testConfig(), m)

	res := bridge.ConfirmSetup(context.Background(), "seti_1_secret_x", visa)
	if !res.Succeeded() {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.RequiredAction {
		t.Error("Did not expect RequiredAction")
	}
	if fake.cards != 1 {
		t.Errorf("Expected card tokenised once, got %d", fake.cards)
	}
	call := fake.confirms[0]
	if call.kind != KindSetup || call.id != "seti_1" || call.secret != "seti_1_secret_x" || call.paymentMethod != "pm_from_card" {
		t.Errorf("Unexpected confirm call %+v", call)
	}
}

func TestConfirmUsesToken(t *testing.T) {
	fake := &fakeIntents{confirm: intentState{ID: "pi_1", Status: "succeeded"}}
	bridge := newBridge(fake, nil, testConfig(), nil)

	res := bridge.ConfirmPayment(context.Background(), "pi_1_secret_x", models.Card{Token: "pm_card_visa"})
	if !res.Succeeded() {
		t.Fatalf("Expected success, got %+v", res)
	}
	if fake.cards != 0 {
		t.Error("Token should skip card tokenisation")
	}
	if fake.confirms[0].paymentMethod != "pm_card_visa" {
		t.Errorf("Expected token passed through, got %q", fake.confirms[0].paymentMethod)
	}
}

func TestConfirmDeclineReasonVerbatim(t *testing.T) {
	fake := &fakeIntents{confirmErr: &stripe.Error{
		Msg:         "Your card was declined.",
		Code:        stripe.ErrorCode("card_declined"),
		DeclineCode: stripe.DeclineCode("generic_decline"),
	}}
	bridge := newBridge(fake, nil, testConfig(), nil)

	res := bridge.ConfirmPayment(context.Background(), "pi_9_secret_x", visa)
	if res.Succeeded() {
		t.Fatal("Expected failure")
	}
	if res.Reason != "Your card was declined." {
		t.Errorf("Expected verbatim reason, got %q", res.Reason)
	}
	if res.DeclineCode != "generic_decline" {
		t.Errorf("Expected decline code, got %q", res.DeclineCode)
	}
}

func TestConfirmCardTokenisationError(t *testing.T) {
	fake := &fakeIntents{cardErr: &stripe.Error{Msg: "Your card number is incorrect."}}
	bridge := newBridge(fake, nil, testConfig(), nil)

	res := bridge.ConfirmSetup(context.Background(), "seti_1_secret_x", visa)
	if res.Succeeded() || res.Reason != "Your card number is incorrect." {
		t.Errorf("Unexpected result %+v", res)
	}
	if len(fake.confirms) != 0 {
		t.Error("Confirm must not run after tokenisation failed")
	}
}

func TestConfirmMalformedSecretMakesNoCalls(t *testing.T) {
	fake := &fakeIntents{}
	bridge := newBridge(fake, nil, testConfig(), nil)

	res := bridge.ConfirmSetup(context.Background(), "secret_abc", visa)
	if res.Succeeded() {
		t.Fatal("Expected failure")
	}
	if fake.cards != 0 || len(fake.confirms) != 0 {
		t.Error("Expected no Stripe calls for a malformed secret")
	}

	res = bridge.ConfirmSetup(context.Background(), "pi_1_secret_abc", visa)
	if res.Succeeded() || !strings.Contains(res.Reason, "setup intent") {
		t.Errorf("Expected kind mismatch failure, got %+v", res)
	}
}

func TestConfirmRequiresActionResolved(t *testing.T) {
	fake := &fakeIntents{
		confirm: intentState{ID: "pi_1", Status: "requires_action", ActionURL: "https://hooks.stripe.com/3ds"},
		gets: []intentState{
			{ID: "pi_1", Status: "requires_action"},
			{ID: "pi_1", Status: "succeeded"},
		},
	}
	visited := ""
	action := ActionHandlerFunc(func(ctx context.Context, url string) error {
		visited = url
		return nil
	})
	bridge := newBridge(fake, action, testConfig(), nil)

	res := bridge.ConfirmPayment(context.Background(), "pi_1_secret_x", visa)
	if !res.Succeeded() || !res.RequiredAction {
		t.Fatalf("Expected resolved action success, got %+v", res)
	}
	if visited != "https://hooks.stripe.com/3ds" {
		t.Errorf("Action handler got %q", visited)
	}
	if fake.getCalls != 2 {
		t.Errorf("Expected 2 polls, got %d", fake.getCalls)
	}
}

func TestConfirmRequiresActionFailed(t *testing.T) {
	fake := &fakeIntents{
		confirm: intentState{ID: "pi_1", Status: "requires_action", ActionURL: "https://hooks.stripe.com/3ds"},
		gets:    []intentState{{ID: "pi_1", Status: "requires_payment_method", LastError: "We are unable to authenticate your payment method."}},
	}
	action := ActionHandlerFunc(func(ctx context.Context, url string) error { return nil })
	bridge := newBridge(fake, action, testConfig(), nil)

	res := bridge.ConfirmPayment(context.Background(), "pi_1_secret_x", visa)
	if res.Succeeded() {
		t.Fatal("Expected failure")
	}
	if res.Reason != "We are unable to authenticate your payment method." {
		t.Errorf("Unexpected reason %q", res.Reason)
	}
}

func TestConfirmRequiresActionWithoutHandler(t *testing.T) {
	fake := &fakeIntents{confirm: intentState{ID: "pi_1", Status: "requires_action", ActionURL: "https://x"}}
	bridge := newBridge(fake, nil, testConfig(), nil)

	res := bridge.ConfirmPayment(context.Background(), "pi_1_secret_x", visa)
	if res.Succeeded() || !res.RequiredAction {
		t.Errorf("Expected failed action result, got %+v", res)
	}
	if fake.getCalls != 0 {
		t.Error("Expected no polling without a handler")
	}
}

func TestConfirmActionHandlerError(t *testing.T) {
	fake := &fakeIntents{confirm: intentState{ID: "pi_1", Status: "requires_action", ActionURL: "https://x"}}
	action := ActionHandlerFunc(func(ctx context.Context, url string) error { return errors.New("closed") })
	bridge := newBridge(fake, action, testConfig(), nil)

	res := bridge.ConfirmPayment(context.Background(), "pi_1_secret_x", visa)
	if res.Succeeded() || !strings.Contains(res.Reason, "closed") {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestPollGivesUp(t *testing.T) {
	fake := &fakeIntents{
		confirm: intentState{ID: "pi_1", Status: "processing"},
		gets:    []intentState{{ID: "pi_1", Status: "processing"}},
	}
	bridge := newBridge(fake, nil, testConfig(), nil)

	res := bridge.ConfirmPayment(context.Background(), "pi_1_secret_x", visa)
	if res.Succeeded() {
		t.Fatal("Expected failure when intent never settles")
	}
	if fake.getCalls != 3 {
		t.Errorf("Expected 3 polls, got %d", fake.getCalls)
	}
	if res.Status != "processing" {
		t.Errorf("Expected last status processing, got %q", res.Status)
	}
}

func TestNewBridgeRequiresKey(t *testing.T) {
	if _, err := NewBridge(config.Config{}, nil, nil); err == nil {
		t.Error("Expected error without publishable key")
	}
}

func TestPromptHandler(t *testing.T) {
	var out strings.Builder
	p := PromptHandler{Out: &out, In: strings.NewReader("\n")}
	if err := p.HandleAction(context.Background(), "https://x"); err != nil {
		t.Fatalf("HandleAction failed: %v", err)
	}
	if !strings.Contains(out.String(), "https://x") {
		t.Errorf("Expected url in prompt, got %q", out.String())
	}
}
