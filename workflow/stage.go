package workflow

import (
	"fmt"

	"payflow/config"
	"payflow/models"
)

// Stage is where a session stands in the workflow. It is always derived from
// the session contents, never stored.
type Stage int

const (
	StageUnauthenticated Stage = iota
	StageProductsPending
	StageCustomerPending
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageUnauthenticated:
		return "unauthenticated"
	case StageProductsPending:
		return "products-pending"
	case StageCustomerPending:
		return "customer-pending"
	case StageReady:
		return "ready"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// MarshalText lets stages render by name in JSON and YAML output
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DeriveStage computes the stage for a session under a flow variant. The
// price id only matters for variants that subscribe to the price created in
// the product setup step.
func DeriveStage(s models.Session, v config.Variant) Stage {
	switch {
	case s.AuthToken == "":
		return StageUnauthenticated
	case v.RequiresPrice() && s.PriceID == "":
		return StageProductsPending
	case s.CustomerID == "":
		return StageCustomerPending
	}
	return StageReady
}

// prerequisite describes what is missing to leave a stage, for disabled step
// messages.
func (s Stage) prerequisite() string {
	switch s {
	case StageUnauthenticated:
		return "Sign in first"
	case StageProductsPending:
		return "Create a product first"
	case StageCustomerPending:
		return "Create a customer first"
	case StageReady:
		return ""
	}
	return "Not available"
}
