package models

// Session holds the handful of identifiers that survive between runs. An
// empty string means the value is not known yet.
type Session struct {
	AuthToken  string `yaml:"auth_token,omitempty" json:"auth_token,omitempty"`
	CustomerID string `yaml:"customer_id,omitempty" json:"customer_id,omitempty"`
	PriceID    string `yaml:"price_id,omitempty" json:"price_id,omitempty"`
}

// IsEmpty reports whether no identifier is set
func (s Session) IsEmpty() bool {
	return s.AuthToken == "" && s.CustomerID == "" && s.PriceID == ""
}

// Redacted returns a copy that is safe to print or serve
func (s Session) Redacted() Session {
	if s.AuthToken != "" {
		s.AuthToken = "***"
	}
	return s
}

// Session field names, shared by every store backend.
const (
	FieldAuthToken  = "auth_token"
	FieldCustomerID = "customer_id"
	FieldPriceID    = "price_id"
)

// SessionField is a single persisted key/value row
type SessionField struct {
	Profile   string
	Field     string
	Value     string
	UpdatedAt int64
}

type ProductType string

const (
	ProductTypeOneTime      ProductType = "one-time"
	ProductTypeSubscription ProductType = "subscription"
)

// Product is a purchasable catalog entry as listed by the backend
type Product struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       int64       `json:"price"` // cents
	PriceID     string      `json:"price_id"`
	Type        ProductType `json:"type"`
}

// IsSubscription treats anything that is not explicitly a subscription as a
// one-time product, like the backend does.
func (p Product) IsSubscription() bool {
	return p.Type == ProductTypeSubscription
}

type SubscriptionStatus struct {
	HasAccess         bool   `json:"has_access"`
	Status            string `json:"status"` // active, canceled, past_due, none
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// Card is locally entered card data. It only ever goes to the payment SDK.
// Token, when set, names an existing payment method (for example
// pm_card_visa in test mode) and the other fields are ignored.
type Card struct {
	Number   string
	ExpMonth string
	ExpYear  string
	CVC      string
	Token    string
}

type PaymentMethod struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"exp_month"`
	ExpYear  int64  `json:"exp_year"`
}

type OauthState struct {
	State    string `json:"state"`
	Code     string `json:"code"`
	Verifier string
}

// Credentials are sent by the sign in and sign up calls
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}
