// Package routes serves the local console: workflow state, session reset,
// the OAuth login callback and metrics.
package routes

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"payflow/auth"
	"payflow/config"
	"payflow/helpers"
	"payflow/metrics"
	"payflow/models"
	"payflow/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateResponse is the body of GET /api/state. The auth token is never
// served.
type StateResponse struct {
	Variant      config.Variant             `json:"variant"`
	Stage        workflow.Stage             `json:"stage"`
	Auth         string                     `json:"auth"`
	Session      models.Session             `json:"session"`
	Purchased    []string                   `json:"purchased_products"`
	Subscription *models.SubscriptionStatus `json:"subscription,omitempty"`
	Steps        []workflow.StepView        `json:"steps"`
}

type Console struct {
	orch    *workflow.Orchestrator
	gate    *auth.Gate
	metrics *metrics.Metrics

	mu   sync.Mutex
	flow *auth.OAuthFlow
}

func NewConsole(orch *workflow.Orchestrator, gate *auth.Gate, m *metrics.Metrics) *Console {
	return &Console{orch: orch, gate: gate, metrics: m}
}

// SetFlow registers the OAuth login the callback route completes
func (con *Console) SetFlow(flow *auth.OAuthFlow) {
	con.mu.Lock()
	defer con.mu.Unlock()
	con.flow = flow
}

func (con *Console) currentFlow() *auth.OAuthFlow {
	con.mu.Lock()
	defer con.mu.Unlock()
	return con.flow
}

// Engine builds the gin engine with every console route
func (con *Console) Engine() *gin.Engine {
	r := gin.Default()
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/api/state", func(c *gin.Context) {
		if !AllowLocalOrigin(c) {
			return
		}
		State(c, con.orch, con.gate)
	})
	r.POST("/api/reset", func(c *gin.Context) {
		if !AllowLocalOrigin(c) {
			return
		}
		Reset(c, con.gate)
	})
	r.GET("/auth/oauth-cb", func(c *gin.Context) {
		OauthCallback(c, con.currentFlow())
	})
	if con.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(con.metrics.Registry, promhttp.HandlerOpts{})))
	}
	return r
}

// Serve runs the console on addr until ctx ends
func (con *Console) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: con.Engine(),
	}
	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	log.Printf("console listening on %v", addr)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// AllowLocalOrigin rejects browser requests coming from pages that are not
// served from the loopback interface, and sets the CORS headers for those
// that are. Requests without an Origin or Referer (curl, the cli) pass.
func AllowLocalOrigin(c *gin.Context) bool {
	originHeader := c.Request.Header.Get("Origin")
	if originHeader == "" {
		originHeader = c.Request.Header.Get("Referer")
	}
	if originHeader == "" {
		return true
	}
	parsedURL, err := url.Parse(originHeader)
	if err != nil {
		helpers.Simple403(c)
		return false
	}
	host := parsedURL.Hostname()
	ip := net.ParseIP(host)
	if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		log.Printf("console: rejected request from origin %v", originHeader)
		helpers.Simple403(c)
		return false
	}
	c.Header("Access-Control-Allow-Origin", parsedURL.Scheme+"://"+parsedURL.Host)
	return true
}

// State reports the derived stage, the redacted session and every step view
func State(c *gin.Context, orch *workflow.Orchestrator, gate *auth.Gate) {
	resp := StateResponse{
		Variant:   orch.Variant(),
		Stage:     orch.Stage(),
		Auth:      gate.State().String(),
		Session:   orch.Session().Redacted(),
		Purchased: orch.PurchasedProducts(),
		Steps: []workflow.StepView{
			orch.ProductSetup().View(),
			orch.CustomerCreation().View(),
			orch.CardSaving().View(),
			orch.OneTimePayment().View(),
			orch.BuyProduct().View(),
			orch.SubscribeToSite().View(),
			orch.SubscriptionCreation().View(),
		},
	}
	if status, ok := orch.SubscriptionStatus(); ok {
		resp.Subscription = &status
	}
	c.JSON(200, resp)
}

// Reset signs out and clears the stored session
func Reset(c *gin.Context, gate *auth.Gate) {
	err := gate.SignOut(c.Request.Context())
	if err != nil {
		log.Printf("console: failed to reset session: %v", err)
		helpers.Simple500(c)
		return
	}
	c.Data(200, "text/plain", []byte(helpers.OK))
}

// OauthCallback completes a pending OAuth login with the state and code
// FusionAuth redirected with.
func OauthCallback(c *gin.Context, flow *auth.OAuthFlow) {
	if flow == nil {
		helpers.Simple404(c)
		return
	}
	err := c.Request.ParseForm()
	if err != nil {
		log.Printf("oauth-callback failed to process form: %v", err)
		helpers.Simple403(c)
		return
	}

	oastate, ok := c.Request.Form["state"]
	if !ok {
		log.Printf("login: no state")
		helpers.Simple403(c)
		return
	}
	oacode, ok := c.Request.Form["code"]
	if !ok {
		log.Printf("login: no code")
		helpers.Simple403(c)
		return
	}
	if len(oastate) != 1 || len(oacode) != 1 {
		log.Printf("login: didn't receive 1 state and 1 code")
		helpers.Simple403(c)
		return
	}

	_, err = flow.Callback(c.Request.Context(), models.OauthState{
		State: oastate[0],
		Code:  oacode[0],
	})
	if err != nil {
		log.Printf("err login: %v", err)
		helpers.Simple403(c)
		return
	}
	c.Data(200, "text/plain", []byte("Signed in. You can close this window."))
}
