// Package workflow drives the payment setup sequence: sign in, product
// setup, customer creation, then the card, payment and subscription steps.
// The Orchestrator owns the session; steps report results back to it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"payflow/api"
	"payflow/config"
	"payflow/metrics"
	"payflow/models"
	"payflow/payments"
	"payflow/session"
)

// Gateway is the slice of the backend client the workflow needs
type Gateway interface {
	CreateCustomer(ctx context.Context) (string, error)
	ExistingCustomer(ctx context.Context) (api.ExistingCustomer, error)
	SetupProducts(ctx context.Context, req api.ProductRequest) (string, error)
	SetupSubscription(ctx context.Context, req api.ProductRequest) (string, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	SaveCard(ctx context.Context, customerID string) (api.IntentSecret, error)
	CreatePaymentIntent(ctx context.Context, amount int64, customerID string) (api.IntentSecret, error)
	PurchaseProduct(ctx context.Context, productID, customerID string) (api.IntentSecret, error)
	SubscribeToProduct(ctx context.Context, productID, customerID string) (api.IntentSecret, error)
	CreateSubscription(ctx context.Context, priceID, customerID, email string) (api.IntentSecret, error)
	Subscribe(ctx context.Context, priceID string) (api.SubscribeResult, error)
	SubscriptionStatus(ctx context.Context) (models.SubscriptionStatus, error)
}

// Confirmer completes intents with card data
type Confirmer interface {
	ConfirmSetup(ctx context.Context, secret string, card models.Card) payments.Result
	ConfirmPayment(ctx context.Context, secret string, card models.Card) payments.Result
}

// Hooks observe orchestrator transitions. Any of them may be nil. They run
// synchronously after the transition is persisted.
type Hooks struct {
	OnAuthenticated       func()
	OnProductsCreated     func(priceID string)
	OnCustomerCreated     func(customerID string)
	OnCardSaved           func(customerID string)
	OnPaymentSucceeded    func(intentID string)
	OnProductPurchased    func(name string)
	OnSubscriptionCreated func(subscriptionID string)
	OnStatusUpdate        func(status models.SubscriptionStatus)
	OnReset               func()
}

type Options struct {
	Store   session.Store
	Variant config.Variant
	Metrics *metrics.Metrics
	Hooks   Hooks
	Verbose bool
}

var errStaleGeneration = errors.New("session was reset")

type Orchestrator struct {
	store   session.Store
	variant config.Variant
	metrics *metrics.Metrics
	hooks   Hooks
	verbose bool

	gateway   Gateway
	confirmer Confirmer

	mu         sync.Mutex
	session    models.Session
	generation int
	purchased  []string
	status     *models.SubscriptionStatus
	lookup     *CustomerLookup
}

// NewOrchestrator loads the stored session. The gateway and confirmer are
// attached afterwards with Use, since the api client reads its credentials
// from the orchestrator.
func NewOrchestrator(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("workflow: a session store is required")
	}
	s, err := opts.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &Orchestrator{
		store:   opts.Store,
		variant: opts.Variant,
		metrics: opts.Metrics,
		hooks:   opts.Hooks,
		verbose: opts.Verbose,
		session: s,
	}, nil
}

// Use attaches the backend gateway and the intent confirmer
func (o *Orchestrator) Use(gateway Gateway, confirmer Confirmer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gateway = gateway
	o.confirmer = confirmer
}

func (o *Orchestrator) debugf(format string, args ...interface{}) {
	if o.verbose {
		log.Printf(format, args...)
	}
}

// AuthToken implements api.Credentials
func (o *Orchestrator) AuthToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.AuthToken
}

// CustomerID implements api.Credentials
func (o *Orchestrator) CustomerID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.CustomerID
}

func (o *Orchestrator) Variant() config.Variant {
	return o.variant
}

// Session returns a copy of the current session
func (o *Orchestrator) Session() models.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return DeriveStage(o.session, o.variant)
}

// Generation changes on every Reset. Steps built for an older generation are
// disabled.
func (o *Orchestrator) Generation() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

func (o *Orchestrator) snapshot() (models.Session, Stage, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session, DeriveStage(o.session, o.variant), o.generation
}

func (o *Orchestrator) deps() (Gateway, Confirmer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gateway, o.confirmer
}

// persistLocked writes next and only then makes it the in-memory session.
// o.mu must be held.
func (o *Orchestrator) persistLocked(ctx context.Context, next models.Session) error {
	if next == o.session {
		return nil
	}
	err := o.store.Save(ctx, next)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	o.session = next
	return nil
}

// Authenticated stores token and starts the silent lookup for an existing
// payment customer. A token other than the stored one starts from an empty
// session, so no identifier of the previous user carries over.
func (o *Orchestrator) Authenticated(ctx context.Context, token string) (*CustomerLookup, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty auth token", ErrInvalidInput)
	}
	o.mu.Lock()
	switched := o.session.AuthToken != "" && o.session.AuthToken != token
	if switched {
		err := o.resetLocked(ctx)
		if err != nil {
			o.mu.Unlock()
			return nil, err
		}
	}
	next := o.session
	next.AuthToken = token
	err := o.persistLocked(ctx, next)
	o.mu.Unlock()
	if switched && o.hooks.OnReset != nil {
		o.hooks.OnReset()
	}
	if err != nil {
		return nil, err
	}
	if o.hooks.OnAuthenticated != nil {
		o.hooks.OnAuthenticated()
	}
	return o.LookupCustomer(), nil
}

// LookupCustomer resolves the customer id in the background. A known id
// resolves immediately; without a token the result is absent. Concurrent
// callers share one pending lookup.
func (o *Orchestrator) LookupCustomer() *CustomerLookup {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session.CustomerID != "" {
		return resolvedLookup(LookupResult{State: LookupFound, CustomerID: o.session.CustomerID})
	}
	if o.session.AuthToken == "" || o.gateway == nil {
		return resolvedLookup(LookupResult{State: LookupAbsent})
	}
	if o.lookup != nil {
		select {
		case <-o.lookup.Done():
		default:
			return o.lookup
		}
	}

	l := newCustomerLookup()
	o.lookup = l
	gateway := o.gateway
	gen := o.generation
	go o.runLookup(l, gateway, gen)
	return l
}

func (o *Orchestrator) runLookup(l *CustomerLookup, gateway Gateway, gen int) {
	ctx := context.Background()
	existing, err := gateway.ExistingCustomer(ctx)
	if err != nil {
		o.debugf("customer lookup failed: %v", err)
		l.finish(LookupResult{State: LookupAbsent}, err)
		return
	}
	if !existing.Found() {
		l.finish(LookupResult{State: LookupAbsent}, nil)
		return
	}
	err = o.setCustomerID(ctx, existing.StripeCustomerID, gen)
	if err != nil {
		o.debugf("customer lookup result dropped: %v", err)
		l.finish(LookupResult{State: LookupAbsent}, err)
		return
	}
	l.finish(LookupResult{State: LookupFound, CustomerID: existing.StripeCustomerID}, nil)
}

// SetCustomerID records a customer id. Setting the id already held is a
// no-op and does not write to the store.
func (o *Orchestrator) SetCustomerID(ctx context.Context, id string) error {
	return o.setCustomerID(ctx, id, o.Generation())
}

func (o *Orchestrator) setCustomerID(ctx context.Context, id string, gen int) error {
	if id == "" {
		return fmt.Errorf("%w: empty customer id", ErrInvalidInput)
	}
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return errStaleGeneration
	}
	changed := o.session.CustomerID != id
	next := o.session
	next.CustomerID = id
	err := o.persistLocked(ctx, next)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	if changed && o.hooks.OnCustomerCreated != nil {
		o.hooks.OnCustomerCreated(id)
	}
	return nil
}

// ClearCustomer forgets the customer id but keeps the rest of the session
func (o *Orchestrator) ClearCustomer(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.session
	next.CustomerID = ""
	return o.persistLocked(ctx, next)
}

// ProductsCreated persists priceID, then makes it current
func (o *Orchestrator) ProductsCreated(ctx context.Context, priceID string) error {
	return o.productsCreated(ctx, priceID, o.Generation())
}

func (o *Orchestrator) productsCreated(ctx context.Context, priceID string, gen int) error {
	if priceID == "" {
		return fmt.Errorf("%w: empty price id", ErrInvalidInput)
	}
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return errStaleGeneration
	}
	next := o.session
	next.PriceID = priceID
	err := o.persistLocked(ctx, next)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	if o.hooks.OnProductsCreated != nil {
		o.hooks.OnProductsCreated(priceID)
	}
	return nil
}

func (o *Orchestrator) productPurchased(name string, gen int) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.purchased = append(o.purchased, name)
	o.mu.Unlock()
	if o.hooks.OnProductPurchased != nil {
		o.hooks.OnProductPurchased(name)
	}
}

// PurchasedProducts lists product names bought in this process
func (o *Orchestrator) PurchasedProducts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.purchased))
	copy(out, o.purchased)
	return out
}

func (o *Orchestrator) statusUpdated(status models.SubscriptionStatus, gen int) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.status = &status
	o.mu.Unlock()
	if o.hooks.OnStatusUpdate != nil {
		o.hooks.OnStatusUpdate(status)
	}
}

// SubscriptionStatus returns the last status a step reported, if any
func (o *Orchestrator) SubscriptionStatus() (models.SubscriptionStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == nil {
		return models.SubscriptionStatus{}, false
	}
	return *o.status, true
}

// Reset clears the store and every identifier held in memory. Steps built
// before the reset stay disabled; results of requests still in flight are
// dropped when they arrive.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	err := o.resetLocked(ctx)
	o.mu.Unlock()
	if err != nil {
		return err
	}

	if o.hooks.OnReset != nil {
		o.hooks.OnReset()
	}
	return nil
}

// resetLocked clears the store and memory. o.mu must be held.
func (o *Orchestrator) resetLocked(ctx context.Context) error {
	err := o.store.Clear(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	o.session = models.Session{}
	o.purchased = nil
	o.status = nil
	o.lookup = nil
	o.generation++
	return nil
}

// ProductSetup builds the product setup step for the current generation
func (o *Orchestrator) ProductSetup() *ProductSetup {
	return &ProductSetup{step: o.newStep(StepProductSetup)}
}

func (o *Orchestrator) CustomerCreation() *CustomerCreation {
	return &CustomerCreation{step: o.newStep(StepCustomerCreation)}
}

func (o *Orchestrator) CardSaving() *CardSaving {
	return &CardSaving{step: o.newStep(StepCardSaving)}
}

func (o *Orchestrator) OneTimePayment() *OneTimePayment {
	return &OneTimePayment{step: o.newStep(StepOneTimePayment)}
}

func (o *Orchestrator) BuyProduct() *BuyProduct {
	return &BuyProduct{step: o.newStep(StepBuyProduct)}
}

func (o *Orchestrator) SubscribeToSite() *SubscribeToSite {
	return &SubscribeToSite{step: o.newStep(StepSubscribeToSite)}
}

func (o *Orchestrator) SubscriptionCreation() *SubscriptionCreation {
	return &SubscriptionCreation{step: o.newStep(StepSubscriptionCreation)}
}

func (o *Orchestrator) newStep(name StepName) step {
	return step{name: name, orch: o, generation: o.Generation(), guard: &attemptGuard{}}
}

func (o *Orchestrator) lookupPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lookup == nil {
		return false
	}
	select {
	case <-o.lookup.Done():
		return false
	default:
		return true
	}
}
