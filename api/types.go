package api

import (
	"encoding/json"
	"fmt"

	"payflow/models"
)

// Error is a non-2xx answer from the backend. Message is the backend's own
// error text when it sent one.
type Error struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: backend returned %d: %v", e.Operation, e.StatusCode, e.Message)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	AuthToken   string `json:"auth_token"`
}

func (a authResponse) value() string {
	switch {
	case a.AccessToken != "":
		return a.AccessToken
	case a.Token != "":
		return a.Token
	}
	return a.AuthToken
}

type customerResponse struct {
	CustomerID    string `json:"customer_id"`
	CustomerIDAlt string `json:"customerId"`
}

// ExistingCustomer is the answer to the "who am I in stripe" lookup
type ExistingCustomer struct {
	Exists           bool   `json:"exists"`
	StripeCustomerID string `json:"stripe_customer_id"`
}

// Found reports whether the lookup produced a usable customer id
func (e ExistingCustomer) Found() bool {
	return e.Exists && e.StripeCustomerID != ""
}

// ProductRequest creates a catalog entry; Price is in cents
type ProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

type setupResponse struct {
	PriceID             string `json:"price_id"`
	SubscriptionPriceID string `json:"subscription_price_id"`
}

type productsResponse struct {
	Products []models.Product `json:"products"`
}

type customerRequest struct {
	CustomerID string `json:"customer_id"`
}

type paymentIntentRequest struct {
	Amount     int64  `json:"amount"`
	CustomerID string `json:"customer_id"`
}

type productPurchaseRequest struct {
	ProductID  string `json:"product_id"`
	CustomerID string `json:"customer_id"`
}

type createSubscriptionRequest struct {
	PriceID    string `json:"price_id"`
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
}

type subscribeRequest struct {
	PriceID string `json:"price_id,omitempty"`
}

// IntentSecret is what every "begin" call returns: the single-use client
// secret plus whatever ids the backend chose to include.
type IntentSecret struct {
	ClientSecret   string `json:"client_secret"`
	IntentID       string `json:"payment_intent_id"`
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
}

type intentResponse struct {
	IntentSecret
	PaymentIntentIDAlt string `json:"paymentIntentId"`
	SetupIntentID      string `json:"setupIntentId"`
}

func (r intentResponse) secret() IntentSecret {
	s := r.IntentSecret
	if s.IntentID == "" {
		s.IntentID = r.PaymentIntentIDAlt
	}
	if s.IntentID == "" {
		s.IntentID = r.SetupIntentID
	}
	return s
}

// SubscribeResult is the answer to the site plan subscribe call. Depending on
// the backend it carries a client secret, a hosted checkout url, or only a
// status.
type SubscribeResult struct {
	ClientSecret string `json:"client_secret"`
	CheckoutURL  string `json:"checkout_url"`
	Status       string `json:"status"`
}

type paymentMethodsResponse struct {
	PaymentMethods []models.PaymentMethod `json:"payment_methods"`
	Data           []models.PaymentMethod `json:"data"`
}

// decodePaymentMethods accepts a bare array or an object wrapping one
func decodePaymentMethods(raw json.RawMessage) ([]models.PaymentMethod, error) {
	methods := []models.PaymentMethod{}
	if len(raw) == 0 {
		return methods, nil
	}
	if raw[0] == '[' {
		err := json.Unmarshal(raw, &methods)
		return methods, err
	}
	resp := paymentMethodsResponse{}
	err := json.Unmarshal(raw, &resp)
	if err != nil {
		return methods, err
	}
	if len(resp.PaymentMethods) > 0 {
		return resp.PaymentMethods, nil
	}
	if resp.Data != nil {
		return resp.Data, nil
	}
	return methods, nil
}
