package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"payflow/api"
	"payflow/config"
	"payflow/models"

	"github.com/FusionAuth/go-client/pkg/fusionauth"
)

// BackendAuthenticator signs in against the payment backend's own user table
type BackendAuthenticator struct {
	Client *api.Client
}

func (b BackendAuthenticator) SignIn(ctx context.Context, email, password string) (string, error) {
	return b.Client.SignIn(ctx, email, password)
}

func (b BackendAuthenticator) SignUp(ctx context.Context, creds models.Credentials) (string, error) {
	return b.Client.SignUp(ctx, creds)
}

// FusionAuthAuthenticator logs in and registers users of one FusionAuth
// application and hands out the FusionAuth JWT.
type FusionAuthAuthenticator struct {
	fa    *fusionauth.FusionAuthClient
	appID string
}

func NewFusionAuthAuthenticator(conf config.FusionAuthConfig) (*FusionAuthAuthenticator, error) {
	if !conf.Enabled() {
		return nil, fmt.Errorf("fusionauth is not configured")
	}
	faURL, err := url.Parse(conf.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fusionauth url: %w", err)
	}

	// http client with custom options for usage with fusionauth
	hc := &http.Client{
		Timeout: time.Second * 10,
	}

	return &FusionAuthAuthenticator{
		fa:    fusionauth.NewClient(hc, faURL, conf.APIKey),
		appID: conf.AppID,
	}, nil
}

// https://fusionauth.io/docs/v1/tech/apis/login#authenticate-a-user
func (f *FusionAuthAuthenticator) SignIn(ctx context.Context, email, password string) (string, error) {
	resp, faErrs, err := f.fa.Login(fusionauth.LoginRequest{
		BaseLoginRequest: fusionauth.BaseLoginRequest{
			ApplicationId: f.appID,
		},
		LoginId:  email,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("fusionauth login failed: %w", err)
	}
	if msg := describeErrors(faErrs); msg != "" {
		return "", fmt.Errorf("fusionauth login failed: %v", msg)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return "", fmt.Errorf("user %v is not registered for this application", email)
	case http.StatusNotFound:
		return "", fmt.Errorf("invalid email or password")
	default:
		return "", fmt.Errorf("fusionauth login returned status %d", resp.StatusCode)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("fusionauth login did not return a token")
	}
	return resp.Token, nil
}

// https://fusionauth.io/docs/v1/tech/apis/registrations#create-a-user-and-registration-combined
func (f *FusionAuthAuthenticator) SignUp(ctx context.Context, creds models.Credentials) (string, error) {
	user := fusionauth.User{
		Email:    creds.Email,
		FullName: creds.Name,
	}
	user.Password = creds.Password

	resp, faErrs, err := f.fa.Register("", fusionauth.RegistrationRequest{
		Registration: fusionauth.UserRegistration{
			ApplicationId: f.appID,
		},
		User: user,
	})
	if err != nil {
		return "", fmt.Errorf("fusionauth registration failed: %w", err)
	}
	if msg := describeErrors(faErrs); msg != "" {
		return "", fmt.Errorf("fusionauth registration failed: %v", msg)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("fusionauth registration did not return a token")
	}
	return resp.Token, nil
}

// describeErrors flattens FusionAuth validation errors, empty when there are
// none
func describeErrors(faErrs *fusionauth.Errors) string {
	if faErrs == nil {
		return ""
	}
	msgs := []string{}
	for _, e := range faErrs.GeneralErrors {
		msgs = append(msgs, e.Message)
	}
	for field, errs := range faErrs.FieldErrors {
		for _, e := range errs {
			msgs = append(msgs, fmt.Sprintf("%v: %v", field, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}
