/*
Package pricing computes the price of a single care event.

PURPOSE:
  Given an event, the service version in force when it starts, an optional
  surcharge policy and an optional funding, PriceEvent returns the
  customer's and the third-party payer's share, tax included and excluded.
  It is a pure function: the updated funding entry is returned, never
  written anywhere.

PRICING STEPS:
  1. Cancelled events price to zero, before anything else
  2. Base price: HOURLY unitPrice × minutes/60, FIXED unitPrice
  3. HOURLY services with a surcharge policy: × the blended multiplier
  4. Funding present: split through funding.Apply, else 100% customer
  5. exclTax = inclTax / (1 + vatRate/100)

SEE ALSO:
  - surcharge/resolve.go: the multiplier
  - funding/apply.go: the customer / third-party split
  - billing/aggregate.go: consumer of PricedEvent
*/
package pricing

import (
	"fmt"
	"time"

	"github.com/warp/care-billing/generic"
)

// =============================================================================
// SERVICE & VERSIONS
// =============================================================================

type Service struct {
	ID       generic.ServiceID `json:"id"`
	Name     string            `json:"name"`
	Versions []ServiceVersion  `json:"versions"`
}

// ServiceVersion is a service's price list from StartDate on. UnitPrice is
// tax included.
type ServiceVersion struct {
	StartDate         time.Time                  `json:"start_date"`
	Nature            generic.Nature             `json:"nature"`
	UnitPrice         generic.Decimal            `json:"unit_price"`
	VATRate           generic.Decimal            `json:"vat_rate"`
	SurchargePolicyID *generic.SurchargePolicyID `json:"surcharge_policy_id,omitempty"`
	BillingItemIDs    []generic.BillingItemID    `json:"billing_item_ids,omitempty"`
}

func (v ServiceVersion) EffectiveFrom() time.Time { return v.StartDate }

// VersionAsOf returns the version in force at the given instant.
func (s Service) VersionAsOf(at time.Time) (ServiceVersion, error) {
	v, ok := generic.AsOf(at, s.Versions)
	if !ok {
		return ServiceVersion{}, &generic.UnresolvableServiceVersionError{ServiceID: s.ID, At: at}
	}
	return v, nil
}

func (s Service) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("service: id is required")
	}
	if len(s.Versions) == 0 {
		return fmt.Errorf("service %s: at least one version is required", s.ID)
	}
	for i, v := range s.Versions {
		if !v.Nature.Valid() {
			return fmt.Errorf("service %s: version %d: invalid nature %q", s.ID, i, v.Nature)
		}
		if v.UnitPrice.IsNegative() || v.VATRate.IsNegative() {
			return fmt.Errorf("service %s: version %d: price and vat rate must not be negative", s.ID, i)
		}
		if v.StartDate.IsZero() {
			return fmt.Errorf("service %s: version %d: start date is required", s.ID, i)
		}
	}
	return nil
}
