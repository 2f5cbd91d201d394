package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"payflow/config"
	"payflow/models"

	cv "github.com/nirasan/go-oauth-pkce-code-verifier"
	"github.com/thanhpk/randstr"
	"golang.org/x/oauth2"
)

var ErrStateMismatch = errors.New("oauth state mismatch")

// OAuthFlow is one authorization code login with PKCE against FusionAuth.
// The browser is sent to AuthCodeURL; the console server hands the callback
// to Callback.
type OAuthFlow struct {
	conf        *oauth2.Config
	state       string
	verifier    string
	authCodeURL string
	onToken     func(ctx context.Context, token string) error

	once  sync.Once
	done  chan struct{}
	token string
	err   error
}

// NewOAuthFlow prepares a login whose callback lands on redirectURL. onToken
// runs with the access token before waiters are released.
func NewOAuthFlow(fa config.FusionAuthConfig, redirectURL string, onToken func(ctx context.Context, token string) error) (*OAuthFlow, error) {
	if fa.PublicHost == "" || fa.OauthClientID == "" {
		return nil, fmt.Errorf("fusionauth oauth is not configured")
	}

	// initialize the code verifier for pkce
	codeVerif, err := cv.CreateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize code verifier: %w", err)
	}

	f := &OAuthFlow{
		conf: &oauth2.Config{
			RedirectURL:  redirectURL,
			ClientID:     fa.OauthClientID,
			ClientSecret: fa.OauthClientSecret,
			Scopes:       []string{"openid"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   fmt.Sprintf("%v/oauth2/authorize", fa.PublicHost),
				TokenURL:  fmt.Sprintf("%v/oauth2/token", fa.PublicHost),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		state:    randstr.Hex(16),
		verifier: codeVerif.String(),
		onToken:  onToken,
		done:     make(chan struct{}),
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", "code"),
		oauth2.SetAuthURLParam("code_challenge", codeVerif.CodeChallengeS256()),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if fa.TenantID != "" {
		opts = append(opts, oauth2.SetAuthURLParam("tenantId", fa.TenantID))
	}
	f.authCodeURL = f.conf.AuthCodeURL(f.state, opts...)
	return f, nil
}

func (f *OAuthFlow) AuthCodeURL() string {
	return f.authCodeURL
}

// State is the random value the callback must echo back
func (f *OAuthFlow) State() string {
	return f.state
}

// Callback completes the login with the code and state FusionAuth redirected
// with. Only the first callback counts.
func (f *OAuthFlow) Callback(ctx context.Context, st models.OauthState) (string, error) {
	if st.State != f.state {
		return "", ErrStateMismatch
	}
	if st.Code == "" {
		return "", fmt.Errorf("oauth callback is missing the code")
	}

	first := false
	f.once.Do(func() {
		first = true
		st.Verifier = f.verifier
		f.token, f.err = f.exchange(ctx, st)
		close(f.done)
	})
	if !first {
		return "", fmt.Errorf("oauth login was already completed")
	}
	return f.token, f.err
}

func (f *OAuthFlow) exchange(ctx context.Context, st models.OauthState) (string, error) {
	tok, err := f.conf.Exchange(
		ctx,
		st.Code,
		oauth2.SetAuthURLParam("code_verifier", st.Verifier),
	)
	if err != nil {
		return "", fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("oauth token response did not include an access token")
	}
	if f.onToken != nil {
		err = f.onToken(ctx, tok.AccessToken)
		if err != nil {
			return "", err
		}
	}
	return tok.AccessToken, nil
}

// Wait blocks until a callback completed the flow or ctx ends
func (f *OAuthFlow) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
