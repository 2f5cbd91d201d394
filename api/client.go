// Package api is the HTTP gateway to the payment backend. Every backend
// operation has exactly one method here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"payflow/config"
	"payflow/metrics"
	"payflow/models"

	"golang.org/x/time/rate"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderCustomerID    = "X-Customer-Id"
)

// ErrMissingSecret is returned when a "begin" call succeeds without handing
// out a client secret.
var ErrMissingSecret = errors.New("backend response did not include a client_secret")

// Credentials supplies the identifiers attached to every outgoing request.
// Either value may be empty, in which case its header is omitted.
type Credentials interface {
	AuthToken() string
	CustomerID() string
}

type Client struct {
	baseURL string
	routes  config.Routes
	hc      *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	verbose bool
}

// New builds a client for the configured backend. creds is consulted on
// every request, so a token obtained mid-run is picked up immediately.
func New(conf config.Config, creds Credentials, m *metrics.Metrics) *Client {
	var limiter *rate.Limiter
	if conf.API.RateLimit > 0 {
		burst := conf.API.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(conf.API.RateLimit), burst)
	}

	return &Client{
		baseURL: conf.API.BaseURL,
		routes:  conf.API.Routes,
		hc: &http.Client{
			Timeout:   conf.API.Timeout,
			Transport: &headerTransport{base: http.DefaultTransport, creds: creds},
		},
		limiter: limiter,
		metrics: m,
		verbose: conf.Verbose,
	}
}

// headerTransport attaches the bearer token and customer id headers
type headerTransport struct {
	base  http.RoundTripper
	creds Credentials
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.creds == nil {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	if token := t.creds.AuthToken(); token != "" {
		r.Header.Set(HeaderAuthorization, "Bearer "+token)
	}
	if customerID := t.creds.CustomerID(); customerID != "" {
		r.Header.Set(HeaderCustomerID, customerID)
	}
	return t.base.RoundTrip(r)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = "transport_error"
			var apiErr *Error
			if errors.As(err, &apiErr) {
				outcome = "backend_error"
			}
		}
		c.metrics.ObserveRequest(op, outcome, time.Since(start))
	}()

	if c.limiter != nil {
		err = c.limiter.Wait(ctx)
		if err != nil {
			return fmt.Errorf("%v: rate limiter: %w", op, err)
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%v: failed to marshal request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%v: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.verbose {
		log.Printf("api: %v %v %v", op, method, req.URL.String())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%v: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%v: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Operation: op, StatusCode: resp.StatusCode}
		eb := errorBody{}
		if json.Unmarshal(respBody, &eb) == nil {
			apiErr.Message = eb.Error
			if apiErr.Message == "" {
				apiErr.Message = eb.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	err = json.Unmarshal(respBody, out)
	if err != nil {
		return fmt.Errorf("%v: failed to decode response: %w", op, err)
	}
	return nil
}

func routeWithID(route, id string) string {
	return fmt.Sprintf(route, url.PathEscape(id))
}

func (c *Client) SignUp(ctx context.Context, creds models.Credentials) (string, error) {
	resp := authResponse{}
	err := c.do(ctx, "signup", http.MethodPost, c.routes.SignUp, creds, &resp)
	if err != nil {
		return "", err
	}
	if resp.value() == "" {
		return "", fmt.Errorf("signup: backend response did not include a token")
	}
	return resp.value(), nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	resp := authResponse{}
	err := c.do(ctx, "signin", http.MethodPost, c.routes.SignIn, models.Credentials{Email: email, Password: password}, &resp)
	if err != nil {
		return "", err
	}
	if resp.value() == "" {
		return "", fmt.Errorf("signin: backend response did not include a token")
	}
	return resp.value(), nil
}

// CreateCustomer asks the backend to get or create the payment customer for
// the signed in user.
func (c *Client) CreateCustomer(ctx context.Context) (string, error) {
	resp := customerResponse{}
	err := c.do(ctx, "create_customer", http.MethodPost, c.routes.CreateCustomer, nil, &resp)
	if err != nil {
		return "", err
	}
	id := resp.CustomerID
	if id == "" {
		id = resp.CustomerIDAlt
	}
	if id == "" {
		return "", fmt.Errorf("create_customer: backend response did not include a customer id")
	}
	return id, nil
}

func (c *Client) ExistingCustomer(ctx context.Context) (ExistingCustomer, error) {
	resp := ExistingCustomer{}
	err := c.do(ctx, "existing_customer", http.MethodGet, c.routes.ExistingCustomer, nil, &resp)
	return resp, err
}

func (c *Client) SetupProducts(ctx context.Context, req ProductRequest) (string, error) {
	return c.setup(ctx, "setup_products", c.routes.SetupProducts, req)
}

func (c *Client) SetupSubscription(ctx context.Context, req ProductRequest) (string, error) {
	return c.setup(ctx, "setup_subscription", c.routes.SetupSubscription, req)
}

func (c *Client) setup(ctx context.Context, op, path string, req ProductRequest) (string, error) {
	resp := setupResponse{}
	err := c.do(ctx, op, http.MethodPost, path, req, &resp)
	if err != nil {
		return "", err
	}
	priceID := resp.PriceID
	if priceID == "" {
		priceID = resp.SubscriptionPriceID
	}
	if priceID == "" {
		return "", fmt.Errorf("%v: backend response did not include a price id", op)
	}
	return priceID, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	resp := productsResponse{}
	err := c.do(ctx, "list_products", http.MethodGet, c.routes.ListProducts, nil, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Products == nil {
		resp.Products = []models.Product{}
	}
	return resp.Products, nil
}

// SaveCard begins the card save flow and returns the setup intent secret
func (c *Client) SaveCard(ctx context.Context, customerID string) (IntentSecret, error) {
	return c.intent(ctx, "save_card", c.routes.SaveCard, customerRequest{CustomerID: customerID})
}

func (c *Client) CreatePaymentIntent(ctx context.Context, amount int64, customerID string) (IntentSecret, error) {
	return c.intent(ctx, "create_payment_intent", c.routes.CreatePaymentIntent, paymentIntentRequest{Amount: amount, CustomerID: customerID})
}

func (c *Client) PurchaseProduct(ctx context.Context, productID, customerID string) (IntentSecret, error) {
	return c.intent(ctx, "purchase_product", c.routes.PurchaseProduct, productPurchaseRequest{ProductID: productID, CustomerID: customerID})
}

func (c *Client) SubscribeToProduct(ctx context.Context, productID, customerID string) (IntentSecret, error) {
	return c.intent(ctx, "subscribe_to_product", c.routes.SubscribeToProduct, productPurchaseRequest{ProductID: productID, CustomerID: customerID})
}

func (c *Client) CreateSubscription(ctx context.Context, priceID, customerID, email string) (IntentSecret, error) {
	return c.intent(ctx, "create_subscription", c.routes.CreateSubscription, createSubscriptionRequest{PriceID: priceID, CustomerID: customerID, Email: email})
}

func (c *Client) intent(ctx context.Context, op, path string, req interface{}) (IntentSecret, error) {
	resp := intentResponse{}
	err := c.do(ctx, op, http.MethodPost, path, req, &resp)
	if err != nil {
		return IntentSecret{}, err
	}
	secret := resp.secret()
	if secret.ClientSecret == "" {
		return secret, fmt.Errorf("%v: %w", op, ErrMissingSecret)
	}
	return secret, nil
}

// Subscribe subscribes the signed in user to the site plan. priceID may be
// empty, in which case the backend uses its pre-configured plan.
func (c *Client) Subscribe(ctx context.Context, priceID string) (SubscribeResult, error) {
	resp := SubscribeResult{}
	err := c.do(ctx, "subscribe", http.MethodPost, c.routes.Subscribe, subscribeRequest{PriceID: priceID}, &resp)
	return resp, err
}

func (c *Client) SubscriptionStatus(ctx context.Context) (models.SubscriptionStatus, error) {
	resp := models.SubscriptionStatus{}
	err := c.do(ctx, "subscription_status", http.MethodGet, c.routes.SubscriptionStatus, nil, &resp)
	return resp, err
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error) {
	raw := json.RawMessage{}
	err := c.do(ctx, "list_payment_methods", http.MethodGet, routeWithID(c.routes.ListPaymentMethods, customerID), nil, &raw)
	if err != nil {
		return nil, err
	}
	methods, err := decodePaymentMethods(bytes.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("list_payment_methods: failed to decode response: %w", err)
	}
	return methods, nil
}

func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	return c.do(ctx, "detach_payment_method", http.MethodDelete, routeWithID(c.routes.DetachPaymentMethod, paymentMethodID), nil, nil)
}
