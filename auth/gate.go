// Package auth gates the workflow behind a signed in user. Tokens come from
// the payment backend, from FusionAuth directly, or from a FusionAuth OAuth
// login in the browser.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"payflow/models"
	"payflow/workflow"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingCredentials = errors.New("email and password are required")

// Authenticator exchanges credentials for an auth token
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	SignUp(ctx context.Context, creds models.Credentials) (string, error)
}

type State int

const (
	StateChecking State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateSignedOut:
		return "signed-out"
	case StateSignedIn:
		return "signed-in"
	}
	return "unknown"
}

// Mode is which form a signed out user sees
type Mode int

const (
	ModeSignIn Mode = iota
	ModeSignUp
)

func (m Mode) String() string {
	if m == ModeSignUp {
		return "sign-up"
	}
	return "sign-in"
}

type Gate struct {
	orch  *workflow.Orchestrator
	authn Authenticator
	now   func() time.Time

	mu    sync.Mutex
	state State
	mode  Mode
}

// NewGate starts in the checking state. authn may be nil when only OAuth
// logins are used.
func NewGate(orch *workflow.Orchestrator, authn Authenticator) *Gate {
	return &Gate{
		orch:  orch,
		authn: authn,
		now:   time.Now,
		state: StateChecking,
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Toggle switches between the sign in and sign up forms
func (g *Gate) Toggle() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == ModeSignIn {
		g.mode = ModeSignUp
	} else {
		g.mode = ModeSignIn
	}
	return g.mode
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Check resolves the checking state from the stored session. An expired
// token signs the user out.
func (g *Gate) Check(ctx context.Context) (State, error) {
	token := g.orch.Session().AuthToken
	if token == "" {
		g.setState(StateSignedOut)
		return StateSignedOut, nil
	}
	if TokenExpired(token, g.now()) {
		log.Printf("stored auth token has expired, signing out")
		err := g.orch.Reset(ctx)
		if err != nil {
			return g.State(), err
		}
		g.setState(StateSignedOut)
		return StateSignedOut, nil
	}
	g.setState(StateSignedIn)
	return StateSignedIn, nil
}

func (g *Gate) SignIn(ctx context.Context, email, password string) (*workflow.CustomerLookup, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if g.authn == nil {
		return nil, fmt.Errorf("no authenticator is configured")
	}
	token, err := g.authn.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return g.Accept(ctx, token)
}

func (g *Gate) SignUp(ctx context.Context, creds models.Credentials) (*workflow.CustomerLookup, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return nil, ErrMissingCredentials
	}
	if g.authn == nil {
		return nil, fmt.Errorf("no authenticator is configured")
	}
	token, err := g.authn.SignUp(ctx, creds)
	if err != nil {
		return nil, err
	}
	return g.Accept(ctx, token)
}

// Accept signs in with a token obtained elsewhere, such as an OAuth login
func (g *Gate) Accept(ctx context.Context, token string) (*workflow.CustomerLookup, error) {
	lookup, err := g.orch.Authenticated(ctx, token)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.state = StateSignedIn
	g.mode = ModeSignIn
	g.mu.Unlock()
	return lookup, nil
}

// SignOut clears every stored identifier at once
func (g *Gate) SignOut(ctx context.Context) error {
	err := g.orch.Reset(ctx)
	if err != nil {
		return err
	}
	g.setState(StateSignedOut)
	return nil
}

// TokenExpired reports whether token is a JWT whose exp claim is before now.
// Opaque tokens never expire here; the backend decides.
func TokenExpired(token string, now time.Time) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
