package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"payflow/api"
	"payflow/config"
	"payflow/metrics"
	"payflow/models"
	"payflow/payments"
	"payflow/session"
	"payflow/testutil"
)

type confirmCall struct {
	kind         payments.Kind
	secret       string
	backendCalls int
}

// fakeConfirmer answers confirmations from a queue; an empty queue succeeds
type fakeConfirmer struct {
	mu      sync.Mutex
	backend *testutil.Backend
	results []payments.Result
	calls   []confirmCall
	block   chan struct{}
}

func (f *fakeConfirmer) ConfirmSetup(ctx context.Context, secret string, card models.Card) payments.Result {
	return f.confirm(payments.KindSetup, secret)
}

func (f *fakeConfirmer) ConfirmPayment(ctx context.Context, secret string, card models.Card) payments.Result {
	return f.confirm(payments.KindPayment, secret)
}

func (f *fakeConfirmer) confirm(kind payments.Kind, secret string) payments.Result {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, confirmCall{kind: kind, secret: secret, backendCalls: len(f.backend.Calls())})
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res
	}
	id, _ := payments.IntentIDFromSecret(secret)
	return payments.Result{Outcome: payments.OutcomeSucceeded, IntentID: id, Status: "succeeded"}
}

func (f *fakeConfirmer) Calls() []confirmCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]confirmCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type harness struct {
	backend   *testutil.Backend
	store     *session.MemoryStore
	confirmer *fakeConfirmer
	orch      *Orchestrator

	mu       sync.Mutex
	created  []string
	bought   []string
	statuses []models.SubscriptionStatus
}

func newHarness(t *testing.T, variant config.Variant) *harness {
	t.Helper()
	h := &harness{
		backend: testutil.NewBackend(t),
		store:   session.NewMemoryStore(),
	}
	h.confirmer = &fakeConfirmer{backend: h.backend}

	orch, err := NewOrchestrator(context.Background(), Options{
		Store:   h.store,
		Variant: variant,
		Metrics: metrics.New(),
		Hooks: Hooks{
			OnProductsCreated: func(priceID string) {
				h.mu.Lock()
				h.created = append(h.created, priceID)
				h.mu.Unlock()
			},
			OnProductPurchased: func(name string) {
				h.mu.Lock()
				h.bought = append(h.bought, name)
				h.mu.Unlock()
			},
			OnStatusUpdate: func(status models.SubscriptionStatus) {
				h.mu.Lock()
				h.statuses = append(h.statuses, status)
				h.mu.Unlock()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	conf := config.Config{Variant: variant}
	conf.API.BaseURL = h.backend.URL()
	conf.API.Routes = config.DefaultRoutes(variant)
	conf.API.Timeout = 5 * time.Second
	orch.Use(api.New(conf, orch, nil), h.confirmer)
	h.orch = orch
	return h
}

// signIn authenticates and waits for the silent customer lookup
func (h *harness) signIn(t *testing.T) LookupResult {
	t.Helper()
	lookup, err := h.orch.Authenticated(context.Background(), "token-123")
	if err != nil {
		t.Fatalf("Authenticated failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := lookup.Wait(ctx)
	if res.State == LookupPending {
		t.Fatal("customer lookup did not finish")
	}
	return res
}

// ready signs in and creates a customer and a price
func (h *harness) ready(t *testing.T) {
	t.Helper()
	h.signIn(t)
	ctx := context.Background()
	if err := h.orch.SetCustomerID(ctx, "cus_new"); err != nil {
		t.Fatalf("SetCustomerID failed: %v", err)
	}
	if err := h.orch.ProductsCreated(ctx, "price_123"); err != nil {
		t.Fatalf("ProductsCreated failed: %v", err)
	}
	if h.orch.Stage() != StageReady {
		t.Fatalf("Expected ready stage, got %v", h.orch.Stage())
	}
}

var visa = models.Card{Token: "pm_card_visa"}

func TestDeriveStage(t *testing.T) {
	tests := []struct {
		name    string
		session models.Session
		variant config.Variant
		want    Stage
	}{
		{"empty", models.Session{}, config.VariantAdvanced, StageUnauthenticated},
		{"ids without token", models.Session{CustomerID: "cus_1", PriceID: "price_1"}, config.VariantBasic, StageUnauthenticated},
		{"advanced token only", models.Session{AuthToken: "t"}, config.VariantAdvanced, StageCustomerPending},
		{"basic token only", models.Session{AuthToken: "t"}, config.VariantBasic, StageProductsPending},
		{"basic customer without price", models.Session{AuthToken: "t", CustomerID: "cus_1"}, config.VariantBasic, StageProductsPending},
		{"basic price without customer", models.Session{AuthToken: "t", PriceID: "price_1"}, config.VariantBasic, StageCustomerPending},
		{"advanced customer", models.Session{AuthToken: "t", CustomerID: "cus_1"}, config.VariantAdvanced, StageReady},
		{"basic all", models.Session{AuthToken: "t", CustomerID: "cus_1", PriceID: "price_1"}, config.VariantBasic, StageReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStage(tt.session, tt.variant); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSignUpWithoutExistingCustomer(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)

	res := h.signIn(t)
	if res.State != LookupAbsent {
		t.Fatalf("Expected absent lookup, got %v", res.State)
	}

	stored, _ := h.store.Load(context.Background())
	if stored.AuthToken != "token-123" {
		t.Errorf("Expected token stored, got %+v", stored)
	}
	if h.orch.Stage() != StageCustomerPending {
		t.Errorf("Expected customer-pending, got %v", h.orch.Stage())
	}

	card := h.orch.CardSaving()
	pay := h.orch.OneTimePayment()
	if card.Enabled() || pay.Enabled() {
		t.Fatal("Customer dependent steps must be disabled")
	}
	if !strings.Contains(card.View().Message, "Create a customer first") {
		t.Errorf("Unexpected disabled message %q", card.View().Message)
	}

	before := len(h.backend.Calls())
	if err := card.Submit(context.Background(), visa); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
	if _, err := pay.Submit(context.Background(), 2000, visa); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
	if after := len(h.backend.Calls()); after != before {
		t.Errorf("Disabled steps made %d network calls", after-before)
	}
}

func TestLookupFoundIsIdempotent(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.backend.Set(func(b *testutil.Backend) { b.ExistingCustomerID = "cus_existing" })

	res := h.signIn(t)
	if res.State != LookupFound || res.CustomerID != "cus_existing" {
		t.Fatalf("Unexpected lookup result %+v", res)
	}
	writes := h.store.Writes()

	// a second lookup against the same backend answer
	gateway, _ := h.orch.deps()
	l := newCustomerLookup()
	h.orch.runLookup(l, gateway, h.orch.Generation())
	if got := l.Result(); got.State != LookupFound || got.CustomerID != "cus_existing" {
		t.Errorf("Unexpected second lookup result %+v", got)
	}
	if err := h.orch.SetCustomerID(context.Background(), "cus_existing"); err != nil {
		t.Fatalf("SetCustomerID failed: %v", err)
	}
	if h.store.Writes() != writes {
		t.Errorf("Expected no further writes, got %d more", h.store.Writes()-writes)
	}
	stored, _ := h.store.Load(context.Background())
	if stored.CustomerID != "cus_existing" {
		t.Errorf("Expected stored customer id, got %q", stored.CustomerID)
	}

	// a known id resolves without a request
	calls := h.backend.Count("/users/stripe-customer")
	if got := h.orch.LookupCustomer().Result(); got.State != LookupFound {
		t.Errorf("Expected found, got %v", got.State)
	}
	if h.backend.Count("/users/stripe-customer") != calls {
		t.Error("Known customer id should not trigger a lookup request")
	}
}

func TestLookupErrorIsAbsent(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.backend.Fail("/users/stripe-customer", 500, "boom")

	lookup, err := h.orch.Authenticated(context.Background(), "token-123")
	if err != nil {
		t.Fatalf("Authenticated failed: %v", err)
	}
	res := lookup.Wait(context.Background())
	if res.State != LookupAbsent {
		t.Errorf("Expected absent, got %v", res.State)
	}
	if lookup.Err() == nil {
		t.Error("Expected the lookup error to be kept")
	}
	if h.orch.Session().CustomerID != "" {
		t.Error("Expected no customer id")
	}
}

func TestProductSetup(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.signIn(t)

	step := h.orch.ProductSetup()
	priceID, err := step.Submit(context.Background(), ProductInput{Name: "Shirt", Description: "Cool", Price: 2000})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if priceID != "price_123" {
		t.Errorf("Expected price_123, got %q", priceID)
	}

	stored, _ := h.store.Load(context.Background())
	if stored.PriceID != "price_123" {
		t.Errorf("Expected price stored, got %+v", stored)
	}
	if len(h.created) != 1 || h.created[0] != "price_123" {
		t.Errorf("Expected one products created callback, got %v", h.created)
	}
	if step.Attempt().Status != StatusSucceeded {
		t.Errorf("Expected succeeded attempt, got %v", step.Attempt().Status)
	}
	if !strings.Contains(step.View().Message, "price_123") {
		t.Errorf("Expected created view, got %q", step.View().Message)
	}

	body := h.backend.Calls()[len(h.backend.Calls())-1].Body
	if body["name"] != "Shirt" || body["description"] != "Cool" || body["price"] != float64(2000) {
		t.Errorf("Unexpected request body %v", body)
	}
}

func TestProductSetupValidation(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.signIn(t)
	before := len(h.backend.Calls())

	step := h.orch.ProductSetup()
	for _, in := range []ProductInput{
		{Description: "Cool", Price: 2000},
		{Name: "Shirt", Price: 2000},
		{Name: "Shirt", Description: "Cool"},
		{Name: "Shirt", Description: "Cool", Price: -5},
	} {
		if _, err := step.Submit(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected invalid input for %+v, got %v", in, err)
		}
	}
	if len(h.backend.Calls()) != before {
		t.Error("Invalid input must not reach the backend")
	}
}

func TestSubscriptionProductSetupUsesSubscriptionRoute(t *testing.T) {
	h := newHarness(t, config.VariantBasic)
	h.signIn(t)

	_, err := h.orch.ProductSetup().Submit(context.Background(), ProductInput{
		Name: "Pro", Description: "Monthly", Price: 999, Type: models.ProductTypeSubscription,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if h.backend.Count("/setup-subscription") != 1 {
		t.Error("Expected the subscription setup route")
	}
	if h.orch.Stage() != StageCustomerPending {
		t.Errorf("Expected customer-pending, got %v", h.orch.Stage())
	}
}

func TestCardSaveDecline(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	h.backend.Set(func(b *testutil.Backend) { b.NextSecret = "secret_abc" })
	h.confirmer.results = []payments.Result{{Outcome: payments.OutcomeFailed, Reason: "Your card was declined."}}

	before, _ := h.store.Load(context.Background())
	writes := h.store.Writes()

	step := h.orch.CardSaving()
	err := step.Submit(context.Background(), visa)
	var confirmErr *ConfirmError
	if !errors.As(err, &confirmErr) {
		t.Fatalf("Expected ConfirmError, got %v", err)
	}

	calls := h.confirmer.Calls()
	if len(calls) != 1 || calls[0].secret != "secret_abc" || calls[0].kind != payments.KindSetup {
		t.Errorf("Unexpected confirm calls %+v", calls)
	}
	view := step.View()
	if view.Attempt.Loading() {
		t.Error("Expected loading to be cleared")
	}
	if view.Attempt.Status != StatusFailed || view.Attempt.Error != "Your card was declined." {
		t.Errorf("Unexpected attempt %+v", view.Attempt)
	}
	after, _ := h.store.Load(context.Background())
	if after != before || h.store.Writes() != writes {
		t.Error("A failed card save must not touch the session")
	}
}

func TestResubmitRequestsNewSecret(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	h.confirmer.results = []payments.Result{{Outcome: payments.OutcomeFailed, Reason: "Your card was declined."}}

	step := h.orch.CardSaving()
	if err := step.Submit(context.Background(), visa); err == nil {
		t.Fatal("Expected the first attempt to fail")
	}
	step.Reset()
	if step.Attempt().Status != StatusIdle {
		t.Errorf("Expected idle after reset, got %v", step.Attempt().Status)
	}
	if err := step.Submit(context.Background(), visa); err != nil {
		t.Fatalf("Second attempt failed: %v", err)
	}

	if h.backend.Count("/payment/save-card") != 2 {
		t.Errorf("Expected two setup calls, got %d", h.backend.Count("/payment/save-card"))
	}
	calls := h.confirmer.Calls()
	if len(calls) != 2 {
		t.Fatalf("Expected two confirmations, got %d", len(calls))
	}
	if calls[0].secret == calls[1].secret {
		t.Error("Expected a fresh secret for the second confirmation")
	}
	if calls[1].backendCalls <= calls[0].backendCalls {
		t.Error("Expected a new setup call before the second confirmation")
	}
	if step.View().Message != "Payment method saved successfully!" {
		t.Errorf("Unexpected view %q", step.View().Message)
	}
}

func TestSubmitWhileInFlight(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	h.confirmer.block = make(chan struct{})

	step := h.orch.OneTimePayment()
	done := make(chan error, 1)
	go func() {
		_, err := step.Submit(context.Background(), 2000, visa)
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !step.Attempt().Loading() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := step.Submit(context.Background(), 2000, visa); !errors.Is(err, ErrInFlight) {
		t.Errorf("Expected ErrInFlight, got %v", err)
	}

	close(h.confirmer.block)
	if err := <-done; err != nil {
		t.Fatalf("First attempt failed: %v", err)
	}
	if n := h.backend.Count("/payment/create-payment-intent"); n != 1 {
		t.Errorf("Expected a single intent request, got %d", n)
	}
	body := h.backend.Calls()[len(h.backend.Calls())-1].Body
	if body["amount"] != float64(2000) || body["customer_id"] != "cus_new" {
		t.Errorf("Unexpected request body %v", body)
	}
}

func TestBasicVariantNeedsPrice(t *testing.T) {
	h := newHarness(t, config.VariantBasic)
	h.signIn(t)
	if err := h.orch.SetCustomerID(context.Background(), "cus_new"); err != nil {
		t.Fatal(err)
	}

	step := h.orch.CardSaving()
	if step.Enabled() {
		t.Fatal("Expected card saving disabled without a price")
	}
	if msg := step.View().Message; msg != "Create a product first to save payment methods" {
		t.Errorf("Unexpected message %q", msg)
	}
	if err := h.orch.ProductsCreated(context.Background(), "price_123"); err != nil {
		t.Fatal(err)
	}
	if !step.Enabled() {
		t.Error("Expected card saving enabled once the price is known")
	}
}

func TestCustomerCreationGetOrCreate(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.signIn(t)

	step := h.orch.CustomerCreation()
	id, err := step.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "cus_new" || h.orch.Session().CustomerID != "cus_new" {
		t.Errorf("Expected cus_new, got %q", id)
	}
	if h.backend.Count("/payment/create-customer") != 1 {
		t.Error("Expected a create call")
	}
	if !strings.Contains(step.View().Message, "cus_new") {
		t.Errorf("Unexpected view %q", step.View().Message)
	}

	if err := step.ResetCustomer(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.backend.Set(func(b *testutil.Backend) { b.ExistingCustomerID = "cus_existing" })
	id, err = step.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if id != "cus_existing" {
		t.Errorf("Expected the existing customer, got %q", id)
	}
	if h.backend.Count("/payment/create-customer") != 1 {
		t.Error("An existing customer must not be created again")
	}
}

func TestBuyProduct(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	h.backend.Set(func(b *testutil.Backend) {
		b.Products = []models.Product{
			{ID: "prod_1", Name: "Shirt", Price: 2000, PriceID: "price_1", Type: models.ProductTypeOneTime},
			{ID: "prod_2", Name: "Club", Price: 500, PriceID: "price_2", Type: models.ProductTypeSubscription},
		}
	})

	step := h.orch.BuyProduct()
	if err := step.Submit(context.Background(), visa); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected invalid input without a selection, got %v", err)
	}
	products, err := step.FetchProducts(context.Background())
	if err != nil || len(products) != 2 {
		t.Fatalf("FetchProducts = %v, %v", products, err)
	}
	if err := step.Select("prod_9"); err == nil {
		t.Error("Expected unknown product to be rejected")
	}

	if err := step.Select("prod_1"); err != nil {
		t.Fatal(err)
	}
	if err := step.Submit(context.Background(), visa); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if step.View().Message != "Successfully purchased Shirt!" {
		t.Errorf("Unexpected view %q", step.View().Message)
	}

	step.Reset()
	if err := step.Select("prod_2"); err != nil {
		t.Fatal(err)
	}
	if err := step.Submit(context.Background(), visa); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if h.backend.Count("/payment/purchase-product") != 1 || h.backend.Count("/payment/subscribe-to-product") != 1 {
		t.Error("Expected one purchase and one product subscription request")
	}
	if got := h.orch.PurchasedProducts(); len(got) != 2 || got[0] != "Shirt" || got[1] != "Club" {
		t.Errorf("Unexpected purchased products %v", got)
	}
	if len(h.bought) != 2 {
		t.Errorf("Expected two purchase callbacks, got %d", len(h.bought))
	}
}

func TestBuyProductCatalogRetry(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	h.backend.Fail("/payment/products", 500, "catalog unavailable")

	step := h.orch.BuyProduct()
	if _, err := step.FetchProducts(context.Background()); err == nil {
		t.Fatal("Expected fetch failure")
	}
	view := step.View()
	if view.Message != "catalog unavailable" || view.Actions[0] != "retry" {
		t.Errorf("Unexpected view %+v", view)
	}

	h.backend.Recover("/payment/products")
	if _, err := step.FetchProducts(context.Background()); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if step.View().Message != "No products available" {
		t.Errorf("Unexpected view %q", step.View().Message)
	}
}

func TestSubscribeToSiteAlreadySubscribed(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.signIn(t)
	h.backend.Set(func(b *testutil.Backend) {
		b.Status = models.SubscriptionStatus{HasAccess: true, Status: "active", CancelAtPeriodEnd: false}
	})

	step := h.orch.SubscribeToSite()
	if _, err := step.RefreshStatus(context.Background()); err != nil {
		t.Fatalf("RefreshStatus failed: %v", err)
	}
	view := step.View()
	if !strings.Contains(view.Message, "already subscribed") || !strings.Contains(view.Message, "renew automatically") {
		t.Errorf("Unexpected message %q", view.Message)
	}
	for _, a := range view.Actions {
		if a == "subscribe" {
			t.Error("Subscribe action must not be offered to a subscriber")
		}
	}
	if len(h.statuses) != 1 || !h.statuses[0].HasAccess {
		t.Errorf("Expected one status callback, got %v", h.statuses)
	}
	if err := step.Subscribe(context.Background(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected already subscribed error, got %v", err)
	}
}

func TestSubscribeToSite(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.signIn(t)

	step := h.orch.SubscribeToSite()
	if _, err := step.RefreshStatus(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(step.View().Message, "Subscribe to the Pro plan") {
		t.Errorf("Unexpected message %q", step.View().Message)
	}
	if err := step.Subscribe(context.Background(), nil); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	status, ok := h.orch.SubscriptionStatus()
	if !ok || !status.HasAccess || status.Status != "active" {
		t.Errorf("Expected refreshed active status, got %+v", status)
	}
}

func TestSubscriptionCreation(t *testing.T) {
	h := newHarness(t, config.VariantBasic)
	h.ready(t)

	step := h.orch.SubscriptionCreation()
	if _, err := step.Submit(context.Background(), "not-an-email", visa); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected invalid email error, got %v", err)
	}
	subID, err := step.Submit(context.Background(), "a@b.co", visa)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !strings.HasPrefix(subID, "sub_") {
		t.Errorf("Expected a subscription id, got %q", subID)
	}
	body := h.backend.Calls()[len(h.backend.Calls())-1].Body
	if body["price_id"] != "price_123" || body["customer_id"] != "cus_new" || body["email"] != "a@b.co" {
		t.Errorf("Unexpected request body %v", body)
	}
}

func TestSignInAsAnotherUserStartsClean(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	stale := h.orch.CardSaving()
	ctx := context.Background()

	lookup, err := h.orch.Authenticated(ctx, "token-user-b")
	if err != nil {
		t.Fatalf("Authenticated failed: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if res := lookup.Wait(waitCtx); res.State != LookupAbsent {
		t.Errorf("Expected absent lookup for the new user, got %+v", res)
	}

	want := models.Session{AuthToken: "token-user-b"}
	if got := h.orch.Session(); got != want {
		t.Errorf("Session() = %+v, want %+v", got, want)
	}
	if stored, _ := h.store.Load(ctx); stored != want {
		t.Errorf("stored session = %+v, want %+v", stored, want)
	}
	if h.orch.Stage() != StageCustomerPending {
		t.Errorf("Expected customer-pending, got %v", h.orch.Stage())
	}

	before := h.backend.Count("/payment/save-card")
	if err := stale.Submit(ctx, visa); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected step from the previous user disabled, got %v", err)
	}
	if err := h.orch.CardSaving().Submit(ctx, visa); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected card saving disabled without a customer, got %v", err)
	}
	if h.backend.Count("/payment/save-card") != before {
		t.Error("Card save must not reach the backend for the new user")
	}
}

func TestSignInWithSameTokenKeepsSession(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	gen := h.orch.Generation()

	res := h.signIn(t)
	if res.State != LookupFound || res.CustomerID != "cus_new" {
		t.Errorf("Expected stored customer, got %+v", res)
	}
	if h.orch.Generation() != gen {
		t.Error("Re-authenticating with the same token must not reset the session")
	}
	if h.orch.Stage() != StageReady {
		t.Errorf("Expected ready, got %v", h.orch.Stage())
	}
}

func TestResetDisablesEverything(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	stale := h.orch.CardSaving()

	if err := h.orch.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	stored, _ := h.store.Load(context.Background())
	if !stored.IsEmpty() {
		t.Errorf("Expected empty store, got %+v", stored)
	}
	if h.orch.Stage() != StageUnauthenticated {
		t.Errorf("Expected unauthenticated, got %v", h.orch.Stage())
	}

	// a fresh load of the same store behaves the same
	reloaded, err := NewOrchestrator(context.Background(), Options{Store: h.store, Variant: config.VariantAdvanced})
	if err != nil {
		t.Fatal(err)
	}
	reloaded.Use(h.orch.gateway, h.confirmer)

	before := len(h.backend.Calls())
	for _, o := range []*Orchestrator{h.orch, reloaded} {
		steps := []interface{ Enabled() bool }{
			o.ProductSetup(), o.CustomerCreation(), o.CardSaving(), o.OneTimePayment(),
			o.BuyProduct(), o.SubscribeToSite(), o.SubscriptionCreation(),
		}
		for _, s := range steps {
			if s.Enabled() {
				t.Errorf("Expected %T disabled after reset", s)
			}
		}
	}
	if err := stale.Submit(context.Background(), visa); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected stale step disabled, got %v", err)
	}
	if len(h.backend.Calls()) != before {
		t.Error("Disabled steps must not reach the backend")
	}
}

func TestStaleStepStaysDisabledAfterSignIn(t *testing.T) {
	h := newHarness(t, config.VariantAdvanced)
	h.ready(t)
	stale := h.orch.CardSaving()

	if err := h.orch.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.ready(t)
	if stale.Enabled() {
		t.Error("A step built before reset must stay disabled")
	}
	if !h.orch.CardSaving().Enabled() {
		t.Error("A fresh step should be enabled")
	}
}
