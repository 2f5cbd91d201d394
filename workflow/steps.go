package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"payflow/api"
	"payflow/helpers"
	"payflow/models"
	"payflow/payments"
)

type StepName string

const (
	StepProductSetup         StepName = "product_setup"
	StepCustomerCreation     StepName = "customer_creation"
	StepCardSaving           StepName = "card_saving"
	StepOneTimePayment       StepName = "one_time_payment"
	StepBuyProduct           StepName = "buy_product"
	StepSubscribeToSite      StepName = "subscribe_to_site"
	StepSubscriptionCreation StepName = "subscription_creation"
)

// purposes complete the disabled message of each step
var purposes = map[StepName]string{
	StepProductSetup:         "to create products",
	StepCustomerCreation:     "to create a customer",
	StepCardSaving:           "to save payment methods",
	StepOneTimePayment:       "to process payments",
	StepBuyProduct:           "to purchase products",
	StepSubscribeToSite:      "to manage your subscription",
	StepSubscriptionCreation: "to create a subscription",
}

// StepView is what a front end renders for a step
type StepView struct {
	Step    StepName `json:"step"`
	Enabled bool     `json:"enabled"`
	Message string   `json:"message,omitempty"`
	Attempt Attempt  `json:"attempt"`
	Actions []string `json:"actions,omitempty"`
}

// step holds what every step shares: its precondition check, its attempt
// guard and the generation it was built for.
type step struct {
	name       StepName
	orch       *Orchestrator
	generation int
	guard      *attemptGuard
}

// disabledReason is empty when the step may run
func (s step) disabledReason() string {
	sess, stage, gen := s.orch.snapshot()
	if gen != s.generation {
		return "The session was reset, reload to continue"
	}
	gateway, confirmer := s.orch.deps()
	if gateway == nil || confirmer == nil {
		return "Not connected to a payment backend"
	}

	prereq := ""
	switch s.name {
	case StepProductSetup, StepCustomerCreation, StepSubscribeToSite:
		if stage == StageUnauthenticated {
			prereq = stage.prerequisite()
		}
	case StepCardSaving, StepOneTimePayment, StepBuyProduct:
		if stage != StageReady {
			prereq = stage.prerequisite()
		}
	case StepSubscriptionCreation:
		if stage != StageReady {
			prereq = stage.prerequisite()
		} else if sess.PriceID == "" {
			prereq = StageProductsPending.prerequisite()
		}
	}
	if prereq == "" {
		return ""
	}
	return fmt.Sprintf("%v %v", prereq, purposes[s.name])
}

func (s step) Enabled() bool {
	return s.disabledReason() == ""
}

func (s step) Name() StepName {
	return s.name
}

// Reset returns the step to idle without refetching anything
func (s step) Reset() {
	s.guard.reset()
}

func (s step) Attempt() Attempt {
	return s.guard.current()
}

func (s step) baseView() StepView {
	v := StepView{Step: s.name, Attempt: s.guard.current()}
	if reason := s.disabledReason(); reason != "" {
		v.Message = reason
		return v
	}
	v.Enabled = true
	return v
}

func (s step) begin() (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	return s.guard.begin()
}

func (s step) fail(id, fallback string, err error) error {
	msg := displayError(fallback, err)
	if s.guard.finish(id, StatusFailed, msg) {
		s.orch.metrics.ObserveAttempt(string(s.name), string(StatusFailed))
		s.orch.debugf("%v failed: %v", s.name, err)
	}
	return err
}

// succeed marks attempt id succeeded with result. It returns false when the
// attempt was superseded, in which case no callback may run.
func (s step) succeed(id, result string) bool {
	if s.orch.Generation() != s.generation {
		s.guard.finish(id, StatusIdle, "")
		return false
	}
	if !s.guard.finish(id, StatusSucceeded, "") {
		return false
	}
	s.guard.setResult(id, result)
	s.orch.metrics.ObserveAttempt(string(s.name), string(StatusSucceeded))
	return true
}

// confirm hands secret and card to the payment SDK. Only a succeeded
// confirmation counts; issuing the secret alone never does.
func (s step) confirm(ctx context.Context, kind payments.Kind, secret string, card models.Card) (payments.Result, error) {
	_, confirmer := s.orch.deps()
	var res payments.Result
	if kind == payments.KindSetup {
		res = confirmer.ConfirmSetup(ctx, secret, card)
	} else {
		res = confirmer.ConfirmPayment(ctx, secret, card)
	}
	if !res.Succeeded() {
		return res, &ConfirmError{Result: res}
	}
	return res, nil
}

func validateCard(card models.Card) error {
	if card.Token != "" {
		return nil
	}
	if card.Number == "" || card.ExpMonth == "" || card.ExpYear == "" || card.CVC == "" {
		return fmt.Errorf("%w: card number, expiry and cvc are required", ErrInvalidInput)
	}
	return nil
}

// ProductInput describes a product to create. Price is in cents.
type ProductInput struct {
	Name        string
	Description string
	Price       int64
	Type        models.ProductType
}

func (in ProductInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	case strings.TrimSpace(in.Description) == "":
		return fmt.Errorf("%w: product description is required", ErrInvalidInput)
	case in.Price <= 0:
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
	}
	return nil
}

// ProductSetup creates a catalog product and price on the backend
type ProductSetup struct {
	step
}

func (p *ProductSetup) View() StepView {
	v := p.baseView()
	if !v.Enabled {
		return v
	}
	if priceID := p.orch.Session().PriceID; priceID != "" {
		v.Message = fmt.Sprintf("Products created (price %v)", priceID)
	}
	v.Actions = []string{"create"}
	return v
}

func (p *ProductSetup) Submit(ctx context.Context, in ProductInput) (string, error) {
	if !p.Enabled() {
		return "", ErrDisabled
	}
	err := in.validate()
	if err != nil {
		return "", err
	}
	id, err := p.begin()
	if err != nil {
		return "", err
	}

	gateway, _ := p.orch.deps()
	req := api.ProductRequest{Name: in.Name, Description: in.Description, Price: in.Price}
	var priceID string
	if in.Type == models.ProductTypeSubscription {
		priceID, err = gateway.SetupSubscription(ctx, req)
	} else {
		priceID, err = gateway.SetupProducts(ctx, req)
	}
	if err != nil {
		return "", p.fail(id, "Failed to setup products", err)
	}

	err = p.orch.productsCreated(ctx, priceID, p.generation)
	if errors.Is(err, errStaleGeneration) {
		p.guard.finish(id, StatusIdle, "")
		return "", ErrSuperseded
	}
	if err != nil {
		return "", p.fail(id, "Failed to save the new price", err)
	}
	if !p.succeed(id, priceID) {
		return "", ErrSuperseded
	}
	return priceID, nil
}

// CustomerCreation gets or creates the payment customer of the signed in
// user.
type CustomerCreation struct {
	step
}

func (c *CustomerCreation) View() StepView {
	v := c.baseView()
	if !v.Enabled {
		return v
	}
	customerID := c.orch.Session().CustomerID
	switch {
	case customerID != "":
		v.Message = fmt.Sprintf("Customer ID: %v", customerID)
		v.Actions = []string{"reset"}
	case c.orch.lookupPending():
		v.Message = "Checking for an existing customer..."
	default:
		v.Actions = []string{"create"}
	}
	return v
}

// Mount reports a stored customer id at once, otherwise it starts the silent
// lookup.
func (c *CustomerCreation) Mount() *CustomerLookup {
	if !c.Enabled() {
		return resolvedLookup(LookupResult{State: LookupAbsent})
	}
	return c.orch.LookupCustomer()
}

func (c *CustomerCreation) Submit(ctx context.Context) (string, error) {
	id, err := c.begin()
	if err != nil {
		return "", err
	}
	gateway, _ := c.orch.deps()

	customerID := ""
	existing, err := gateway.ExistingCustomer(ctx)
	if err != nil {
		c.orch.debugf("existing customer check failed, creating one: %v", err)
	} else if existing.Found() {
		customerID = existing.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = gateway.CreateCustomer(ctx)
		if err != nil {
			return "", c.fail(id, "Failed to create customer", err)
		}
	}

	err = c.orch.setCustomerID(ctx, customerID, c.generation)
	if errors.Is(err, errStaleGeneration) {
		c.guard.finish(id, StatusIdle, "")
		return "", ErrSuperseded
	}
	if err != nil {
		return "", c.fail(id, "Failed to save the customer", err)
	}
	if !c.succeed(id, customerID) {
		return "", ErrSuperseded
	}
	return customerID, nil
}

// ResetCustomer forgets the stored customer id so a new one can be created
func (c *CustomerCreation) ResetCustomer(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	err := c.orch.ClearCustomer(ctx)
	if err != nil {
		return err
	}
	c.guard.reset()
	return nil
}

// CardSaving attaches a card to the customer through a setup intent
type CardSaving struct {
	step
}

func (c *CardSaving) View() StepView {
	v := c.baseView()
	if !v.Enabled {
		return v
	}
	if v.Attempt.Status == StatusSucceeded {
		v.Message = "Payment method saved successfully!"
		v.Actions = []string{"reset"}
		return v
	}
	v.Actions = []string{"save"}
	return v
}

func (c *CardSaving) Submit(ctx context.Context, card models.Card) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	err := validateCard(card)
	if err != nil {
		return err
	}
	id, err := c.begin()
	if err != nil {
		return err
	}

	gateway, _ := c.orch.deps()
	customerID := c.orch.Session().CustomerID
	secret, err := gateway.SaveCard(ctx, customerID)
	if err != nil {
		return c.fail(id, "Failed to save payment method", err)
	}
	res, err := c.confirm(ctx, payments.KindSetup, secret.ClientSecret, card)
	if err != nil {
		return c.fail(id, "Failed to save payment method", err)
	}
	if !c.succeed(id, res.IntentID) {
		return ErrSuperseded
	}
	if c.orch.hooks.OnCardSaved != nil {
		c.orch.hooks.OnCardSaved(customerID)
	}
	return nil
}

// OneTimePayment charges an arbitrary amount through a payment intent
type OneTimePayment struct {
	step
}

func (p *OneTimePayment) View() StepView {
	v := p.baseView()
	if !v.Enabled {
		return v
	}
	if v.Attempt.Status == StatusSucceeded {
		v.Message = "Payment successful!"
		v.Actions = []string{"reset"}
		return v
	}
	v.Actions = []string{"pay"}
	return v
}

// Submit charges amount cents to card and returns the payment intent id
func (p *OneTimePayment) Submit(ctx context.Context, amount int64, card models.Card) (string, error) {
	if !p.Enabled() {
		return "", ErrDisabled
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	err := validateCard(card)
	if err != nil {
		return "", err
	}
	id, err := p.begin()
	if err != nil {
		return "", err
	}

	gateway, _ := p.orch.deps()
	secret, err := gateway.CreatePaymentIntent(ctx, amount, p.orch.Session().CustomerID)
	if err != nil {
		return "", p.fail(id, "Payment failed", err)
	}
	res, err := p.confirm(ctx, payments.KindPayment, secret.ClientSecret, card)
	if err != nil {
		return "", p.fail(id, "Payment failed", err)
	}
	if !p.succeed(id, res.IntentID) {
		return "", ErrSuperseded
	}
	log.Printf("payment of %v succeeded: %v", helpers.FormatCents(amount), res.IntentID)
	if p.orch.hooks.OnPaymentSucceeded != nil {
		p.orch.hooks.OnPaymentSucceeded(res.IntentID)
	}
	return res.IntentID, nil
}

// BuyProduct lists the catalog and buys or subscribes to one product
type BuyProduct struct {
	step

	catalog  attemptGuard
	mu       sync.Mutex
	products []models.Product
	selected string
}

func (b *BuyProduct) View() StepView {
	v := b.baseView()
	if !v.Enabled {
		return v
	}
	catalog := b.catalog.current()
	selected, ok := b.Selected()
	switch {
	case catalog.Loading():
		v.Message = "Loading products..."
	case catalog.Status == StatusFailed:
		v.Message = catalog.Error
		v.Actions = []string{"retry"}
	case v.Attempt.Status == StatusSucceeded && ok:
		v.Message = fmt.Sprintf("Successfully purchased %v!", selected.Name)
		v.Actions = []string{"reset"}
	case len(b.Products()) == 0 && catalog.Status == StatusSucceeded:
		v.Message = "No products available"
		v.Actions = []string{"retry"}
	case ok:
		v.Message = fmt.Sprintf("%v: %v", selected.Name, helpers.FormatCents(selected.Price))
		v.Actions = []string{"select", "buy"}
	default:
		v.Actions = []string{"select"}
	}
	return v
}

// FetchProducts loads the catalog. It may be retried after a failure.
func (b *BuyProduct) FetchProducts(ctx context.Context) ([]models.Product, error) {
	if !b.Enabled() {
		return nil, ErrDisabled
	}
	id, err := b.catalog.begin()
	if err != nil {
		return nil, err
	}
	gateway, _ := b.orch.deps()
	products, err := gateway.ListProducts(ctx)
	if err != nil {
		b.catalog.finish(id, StatusFailed, displayError("Failed to load products", err))
		return nil, err
	}
	b.mu.Lock()
	b.products = products
	b.mu.Unlock()
	b.catalog.finish(id, StatusSucceeded, "")
	return products, nil
}

func (b *BuyProduct) Products() []models.Product {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Product, len(b.products))
	copy(out, b.products)
	return out
}

// Select picks the product to buy from the loaded catalog
func (b *BuyProduct) Select(productID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.products {
		if p.ID == productID {
			b.selected = productID
			return nil
		}
	}
	return fmt.Errorf("%w: unknown product %q", ErrInvalidInput, productID)
}

func (b *BuyProduct) Selected() (models.Product, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.products {
		if p.ID == b.selected {
			return p, true
		}
	}
	return models.Product{}, false
}

// Reset clears the attempt and the selection, keeping the loaded catalog
func (b *BuyProduct) Reset() {
	b.guard.reset()
	b.mu.Lock()
	b.selected = ""
	b.mu.Unlock()
}

// Submit buys the selected product with card. Subscription products go
// through the subscribe route, everything else through purchase.
func (b *BuyProduct) Submit(ctx context.Context, card models.Card) error {
	if !b.Enabled() {
		return ErrDisabled
	}
	product, ok := b.Selected()
	if !ok {
		return fmt.Errorf("%w: no product selected", ErrInvalidInput)
	}
	err := validateCard(card)
	if err != nil {
		return err
	}
	id, err := b.begin()
	if err != nil {
		return err
	}

	gateway, _ := b.orch.deps()
	customerID := b.orch.Session().CustomerID
	var secret api.IntentSecret
	if product.IsSubscription() {
		secret, err = gateway.SubscribeToProduct(ctx, product.ID, customerID)
	} else {
		secret, err = gateway.PurchaseProduct(ctx, product.ID, customerID)
	}
	if err != nil {
		return b.fail(id, "Purchase failed", err)
	}
	res, err := b.confirm(ctx, payments.KindPayment, secret.ClientSecret, card)
	if err != nil {
		return b.fail(id, "Purchase failed", err)
	}
	if !b.succeed(id, res.IntentID) {
		return ErrSuperseded
	}
	b.orch.productPurchased(product.Name, b.generation)
	return nil
}

// SubscribeToSite shows the site plan subscription status and subscribes
// to it.
type SubscribeToSite struct {
	step

	status      attemptGuard
	checkoutMu  sync.Mutex
	checkoutURL string
}

func (s *SubscribeToSite) View() StepView {
	v := s.baseView()
	if !v.Enabled {
		return v
	}
	status, known := s.orch.SubscriptionStatus()
	load := s.status.current()
	switch {
	case load.Loading():
		v.Message = "Checking subscription status..."
	case known && status.HasAccess:
		renewal := "Your subscription will renew automatically."
		if status.CancelAtPeriodEnd {
			renewal = "Your subscription will end at the end of the current period."
		}
		v.Message = fmt.Sprintf("You're already subscribed! Status: %v. %v", status.Status, renewal)
		v.Actions = []string{"refresh"}
	case s.CheckoutURL() != "":
		v.Message = fmt.Sprintf("Complete checkout at %v", s.CheckoutURL())
		v.Actions = []string{"refresh"}
	case load.Status == StatusFailed:
		v.Message = load.Error
		v.Actions = []string{"refresh", "subscribe"}
	default:
		v.Message = "Subscribe to the Pro plan"
		if known && status.Status != "" {
			v.Message = fmt.Sprintf("Subscribe to the Pro plan (current status: %v)", status.Status)
		}
		v.Actions = []string{"subscribe"}
	}
	return v
}

func (s *SubscribeToSite) CheckoutURL() string {
	s.checkoutMu.Lock()
	defer s.checkoutMu.Unlock()
	return s.checkoutURL
}

// RefreshStatus fetches the subscription status and reports it upward
func (s *SubscribeToSite) RefreshStatus(ctx context.Context) (models.SubscriptionStatus, error) {
	if !s.Enabled() {
		return models.SubscriptionStatus{}, ErrDisabled
	}
	id, err := s.status.begin()
	if err != nil {
		return models.SubscriptionStatus{}, err
	}
	gateway, _ := s.orch.deps()
	status, err := gateway.SubscriptionStatus(ctx)
	if err != nil {
		s.status.finish(id, StatusFailed, displayError("Failed to fetch subscription status", err))
		return status, err
	}
	s.status.finish(id, StatusSucceeded, "")
	s.orch.statusUpdated(status, s.generation)
	return status, nil
}

// Subscribe subscribes to the site plan. card is only used when the backend
// answers with a payment to confirm; it may be nil otherwise.
func (s *SubscribeToSite) Subscribe(ctx context.Context, card *models.Card) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if status, known := s.orch.SubscriptionStatus(); known && status.HasAccess {
		return fmt.Errorf("%w: already subscribed", ErrInvalidInput)
	}
	id, err := s.begin()
	if err != nil {
		return err
	}

	gateway, _ := s.orch.deps()
	result, err := gateway.Subscribe(ctx, "")
	if err != nil {
		return s.fail(id, "Failed to subscribe", err)
	}

	switch {
	case result.ClientSecret != "":
		if card == nil {
			err = fmt.Errorf("%w: a card is required to confirm the subscription payment", ErrInvalidInput)
			return s.fail(id, "A card is required to confirm the subscription payment", err)
		}
		_, err = s.confirm(ctx, payments.KindPayment, result.ClientSecret, *card)
		if err != nil {
			return s.fail(id, "Failed to subscribe", err)
		}
	case result.CheckoutURL != "":
		s.checkoutMu.Lock()
		s.checkoutURL = result.CheckoutURL
		s.checkoutMu.Unlock()
		s.guard.finish(id, StatusIdle, "")
		return nil
	}

	if !s.succeed(id, result.Status) {
		return ErrSuperseded
	}
	_, err = s.RefreshStatus(ctx)
	if err != nil {
		log.Printf("subscribed, but failed to refresh subscription status: %v", err)
	}
	return nil
}

// SubscriptionCreation subscribes the customer to the price created in the
// product setup step.
type SubscriptionCreation struct {
	step
}

func (s *SubscriptionCreation) View() StepView {
	v := s.baseView()
	if !v.Enabled {
		return v
	}
	if v.Attempt.Status == StatusSucceeded {
		v.Message = fmt.Sprintf("Subscription created: %v", v.Attempt.Result)
		v.Actions = []string{"reset"}
		return v
	}
	v.Actions = []string{"subscribe"}
	return v
}

// Submit returns the new subscription id
func (s *SubscriptionCreation) Submit(ctx context.Context, email string, card models.Card) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	err := validateCard(card)
	if err != nil {
		return "", err
	}
	id, err := s.begin()
	if err != nil {
		return "", err
	}

	gateway, _ := s.orch.deps()
	sess := s.orch.Session()
	secret, err := gateway.CreateSubscription(ctx, sess.PriceID, sess.CustomerID, email)
	if err != nil {
		return "", s.fail(id, "Failed to create subscription", err)
	}
	_, err = s.confirm(ctx, payments.KindPayment, secret.ClientSecret, card)
	if err != nil {
		return "", s.fail(id, "Failed to create subscription", err)
	}
	if !s.succeed(id, secret.SubscriptionID) {
		return "", ErrSuperseded
	}
	if s.orch.hooks.OnSubscriptionCreated != nil {
		s.orch.hooks.OnSubscriptionCreated(secret.SubscriptionID)
	}
	return secret.SubscriptionID, nil
}
