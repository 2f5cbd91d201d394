// Package testutil provides an in-process stand-in for the payment backend,
// used by the api, workflow, auth and routes tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"payflow/models"

	"github.com/gin-gonic/gin"
)

// Call is one request observed by the fake backend
type Call struct {
	Method     string
	Path       string
	Auth       string
	CustomerID string
	Body       map[string]interface{}
}

type failure struct {
	status  int
	message string
}

// Backend answers both the advanced and the basic route tables under /api.
// All fields may be changed between requests; access is serialised.
type Backend struct {
	Server *httptest.Server

	mu                 sync.Mutex
	calls              []Call
	failures           map[string]failure
	secretSeq          int
	Token              string
	ExistingCustomerID string
	CustomerID         string
	PriceID            string
	Products           []models.Product
	Status             models.SubscriptionStatus
	PaymentMethods     []models.PaymentMethod
	// NextSecret, when set, is handed out by the next intent call instead of a
	// generated secret.
	NextSecret string
}

// NewBackend starts a fake backend that is shut down when the test ends
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := &Backend{
		failures:   map[string]failure{},
		Token:      "token-123",
		CustomerID: "cus_new",
		PriceID:    "price_123",
		Status:     models.SubscriptionStatus{Status: "none"},
	}

	r := gin.New()
	r.Use(b.record)
	api := r.Group("/api")
	api.POST("/signup", b.auth)
	api.POST("/signin", b.auth)
	api.GET("/users/stripe-customer", b.existingCustomer)
	for _, p := range []string{"/payment/create-customer", "/customers"} {
		api.POST(p, b.createCustomer)
	}
	for _, p := range []string{"/payment/setup-products", "/setup-products"} {
		api.POST(p, b.setupProducts)
	}
	for _, p := range []string{"/payment/setup-subscription", "/setup-subscription"} {
		api.POST(p, b.setupSubscription)
	}
	for _, p := range []string{"/payment/products", "/products"} {
		api.GET(p, b.products)
	}
	for _, p := range []string{"/payment/save-card", "/payment-methods/setup-intent"} {
		api.POST(p, b.intent("seti"))
	}
	for _, p := range []string{
		"/payment/create-payment-intent", "/payments/create-intent",
		"/payment/purchase-product", "/purchase-product",
		"/payment/subscribe-to-product", "/subscribe-to-product",
		"/payment/create-subscription", "/create-subscription",
	} {
		api.POST(p, b.intent("pi"))
	}
	for _, p := range []string{"/payment/subscription/subscribe", "/subscription/subscribe"} {
		api.POST(p, b.subscribe)
	}
	for _, p := range []string{"/payment/subscription/status", "/subscription/status"} {
		api.GET(p, b.status)
	}
	api.GET("/payment-methods/:id", b.paymentMethods)
	api.DELETE("/payment-methods/:id", func(c *gin.Context) { c.JSON(200, gin.H{"detached": true}) })

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the API base url, including the /api prefix
func (b *Backend) URL() string {
	return b.Server.URL + "/api"
}

// Fail makes every request to path answer status with {"error": message}
func (b *Backend) Fail(path string, status int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures["/api"+path] = failure{status: status, message: message}
}

// Recover undoes Fail for path
func (b *Backend) Recover(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, "/api"+path)
}

// Calls returns a copy of every observed request, oldest first
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// Count returns how many requests hit path (relative to /api)
func (b *Backend) Count(path string) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Path == "/api"+path {
			n++
		}
	}
	return n
}

// Set runs fn with the backend locked, for changing canned answers
func (b *Backend) Set(fn func(b *Backend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *Backend) record(c *gin.Context) {
	call := Call{
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Auth:       c.GetHeader("Authorization"),
		CustomerID: c.GetHeader("X-Customer-Id"),
	}
	if c.Request.Body != nil {
		raw, _ := io.ReadAll(c.Request.Body)
		if len(raw) > 0 {
			json.Unmarshal(raw, &call.Body)
		}
	}

	b.mu.Lock()
	b.calls = append(b.calls, call)
	f, failing := b.failures[call.Path]
	b.mu.Unlock()

	if failing {
		c.AbortWithStatusJSON(f.status, gin.H{"error": f.message})
		return
	}
	if !strings.HasSuffix(call.Path, "/signup") && !strings.HasSuffix(call.Path, "/signin") && call.Auth == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (b *Backend) auth(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"access_token": b.Token})
}

func (b *Backend) existingCustomer(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ExistingCustomerID == "" {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": true, "stripe_customer_id": b.ExistingCustomerID})
}

func (b *Backend) createCustomer(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusCreated, gin.H{"customer_id": b.CustomerID})
}

func (b *Backend) setupProducts(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusCreated, gin.H{"price_id": b.PriceID})
}

func (b *Backend) setupSubscription(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusCreated, gin.H{"subscription_price_id": b.PriceID})
}

func (b *Backend) products(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"products": b.Products})
}

func (b *Backend) intent(prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.secretSeq++
		secret := fmt.Sprintf("%v_%d_secret_%d", prefix, b.secretSeq, b.secretSeq)
		if b.NextSecret != "" {
			secret = b.NextSecret
			b.NextSecret = ""
		}
		resp := gin.H{"client_secret": secret}
		if strings.Contains(c.Request.URL.Path, "subscri") {
			resp["subscription_id"] = fmt.Sprintf("sub_%d", b.secretSeq)
			resp["status"] = "incomplete"
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (b *Backend) subscribe(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Status = models.SubscriptionStatus{HasAccess: true, Status: "active"}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (b *Backend) status(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.JSON(http.StatusOK, b.Status)
}

func (b *Backend) paymentMethods(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	methods := b.PaymentMethods
	if methods == nil {
		methods = []models.PaymentMethod{}
	}
	c.JSON(http.StatusOK, gin.H{"payment_methods": methods})
}
