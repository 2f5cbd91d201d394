package config

import "fmt"

// Variant selects which backend flavour the client talks to. The two
// backends expose the same operations under slightly different paths and
// gate the workflow differently.
type Variant string

const (
	VariantAdvanced Variant = "advanced"
	VariantBasic    Variant = "basic"
)

// ParseVariant validates a variant name; an empty name means advanced
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case "", VariantAdvanced:
		return VariantAdvanced, nil
	case VariantBasic:
		return VariantBasic, nil
	}
	return "", fmt.Errorf("unknown flow variant %q, expected %q or %q", s, VariantAdvanced, VariantBasic)
}

// RequiresPrice reports whether the variant needs a configured price id
// before the workflow counts as ready. The basic flow subscribes customers
// to the price created in the product setup step, the advanced flow lets
// them pick from the product list instead.
func (v Variant) RequiresPrice() bool {
	return v == VariantBasic
}

// Routes maps every backend operation to a path relative to the API base URL.
// Paths containing %v get a single id substituted.
type Routes struct {
	SignUp              string `mapstructure:"signup" yaml:"signup"`
	SignIn              string `mapstructure:"signin" yaml:"signin"`
	CreateCustomer      string `mapstructure:"createCustomer" yaml:"createCustomer"`
	ExistingCustomer    string `mapstructure:"existingCustomer" yaml:"existingCustomer"`
	SetupProducts       string `mapstructure:"setupProducts" yaml:"setupProducts"`
	SetupSubscription   string `mapstructure:"setupSubscription" yaml:"setupSubscription"`
	ListProducts        string `mapstructure:"listProducts" yaml:"listProducts"`
	SaveCard            string `mapstructure:"saveCard" yaml:"saveCard"`
	CreatePaymentIntent string `mapstructure:"createPaymentIntent" yaml:"createPaymentIntent"`
	PurchaseProduct     string `mapstructure:"purchaseProduct" yaml:"purchaseProduct"`
	SubscribeToProduct  string `mapstructure:"subscribeToProduct" yaml:"subscribeToProduct"`
	CreateSubscription  string `mapstructure:"createSubscription" yaml:"createSubscription"`
	Subscribe           string `mapstructure:"subscribe" yaml:"subscribe"`
	SubscriptionStatus  string `mapstructure:"subscriptionStatus" yaml:"subscriptionStatus"`
	ListPaymentMethods  string `mapstructure:"listPaymentMethods" yaml:"listPaymentMethods"`
	DetachPaymentMethod string `mapstructure:"detachPaymentMethod" yaml:"detachPaymentMethod"`
}

// DefaultRoutes returns the stock route table for a variant
func DefaultRoutes(v Variant) Routes {
	if v == VariantBasic {
		return Routes{
			SignUp:              "/signup",
			SignIn:              "/signin",
			CreateCustomer:      "/customers",
			ExistingCustomer:    "/users/stripe-customer",
			SetupProducts:       "/setup-products",
			SetupSubscription:   "/setup-subscription",
			ListProducts:        "/products",
			SaveCard:            "/payment-methods/setup-intent",
			CreatePaymentIntent: "/payments/create-intent",
			PurchaseProduct:     "/purchase-product",
			SubscribeToProduct:  "/subscribe-to-product",
			CreateSubscription:  "/create-subscription",
			Subscribe:           "/subscription/subscribe",
			SubscriptionStatus:  "/subscription/status",
			ListPaymentMethods:  "/payment-methods/%v",
			DetachPaymentMethod: "/payment-methods/%v",
		}
	}
	return Routes{
		SignUp:              "/signup",
		SignIn:              "/signin",
		CreateCustomer:      "/payment/create-customer",
		ExistingCustomer:    "/users/stripe-customer",
		SetupProducts:       "/payment/setup-products",
		SetupSubscription:   "/payment/setup-subscription",
		ListProducts:        "/payment/products",
		SaveCard:            "/payment/save-card",
		CreatePaymentIntent: "/payment/create-payment-intent",
		PurchaseProduct:     "/payment/purchase-product",
		SubscribeToProduct:  "/payment/subscribe-to-product",
		CreateSubscription:  "/payment/create-subscription",
		Subscribe:           "/payment/subscription/subscribe",
		SubscriptionStatus:  "/payment/subscription/status",
		ListPaymentMethods:  "/payment-methods/%v",
		DetachPaymentMethod: "/payment-methods/%v",
	}
}

// Merge fills every empty route in r with the matching route from defaults
func (r Routes) Merge(defaults Routes) Routes {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Routes{
		SignUp:              pick(r.SignUp, defaults.SignUp),
		SignIn:              pick(r.SignIn, defaults.SignIn),
		CreateCustomer:      pick(r.CreateCustomer, defaults.CreateCustomer),
		ExistingCustomer:    pick(r.ExistingCustomer, defaults.ExistingCustomer),
		SetupProducts:       pick(r.SetupProducts, defaults.SetupProducts),
		SetupSubscription:   pick(r.SetupSubscription, defaults.SetupSubscription),
		ListProducts:        pick(r.ListProducts, defaults.ListProducts),
		SaveCard:            pick(r.SaveCard, defaults.SaveCard),
		CreatePaymentIntent: pick(r.CreatePaymentIntent, defaults.CreatePaymentIntent),
		PurchaseProduct:     pick(r.PurchaseProduct, defaults.PurchaseProduct),
		SubscribeToProduct:  pick(r.SubscribeToProduct, defaults.SubscribeToProduct),
		CreateSubscription:  pick(r.CreateSubscription, defaults.CreateSubscription),
		Subscribe:           pick(r.Subscribe, defaults.Subscribe),
		SubscriptionStatus:  pick(r.SubscriptionStatus, defaults.SubscriptionStatus),
		ListPaymentMethods:  pick(r.ListPaymentMethods, defaults.ListPaymentMethods),
		DetachPaymentMethod: pick(r.DetachPaymentMethod, defaults.DetachPaymentMethod),
	}
}
