/*
Package billing turns priced events into draft bills.

PURPOSE:
  A draft bill is an unfinalized, recomputable projection of what a
  customer and their third-party payers owe for a period. This package
  folds priced events into per-subscription totals (aggregate.go) and
  drives a whole billing run across customers (assembler.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer, Subscription, BillingItem: catalog entities the run reads
  - EventLine: one event as it appears on a draft line
  - DraftBillLine: totals for a subscription, for the customer or one payer
  - BillingItemLine: a flat-fee item billed once per grouped event
  - DraftBills: the output of a run, including updated funding histories
    and the events it priced

OUTPUT SHAPE:
  DraftBills
    └── CustomerDraftBill (one per customer with something to bill)
          ├── CustomerLines     (one per subscription with a non-zero total)
          ├── ThirdPartyPayers  (one per payer, lines per subscription)
          └── BillingItems      (one per billing item with grouped events)

  Absence, not zero: a subscription with nothing billable produces no line.

SEE ALSO:
  - aggregate.go: the per-subscription fold
  - assembler.go: the billing run
  - pricing/price.go: PricedEvent
*/
package billing

import (
	"time"

	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
	"github.com/warp/care-billing/surcharge"
)

// =============================================================================
// CATALOG ENTITIES
// =============================================================================

type Customer struct {
	ID   generic.CustomerID `json:"id"`
	Name string             `json:"name"`
}

type Subscription struct {
	ID         generic.SubscriptionID `json:"id"`
	CustomerID generic.CustomerID     `json:"customer_id"`
	ServiceID  generic.ServiceID      `json:"service_id"`
}

// BillingItem is a flat fee added once per event of the services that
// reference it (travel costs, a meal, a kit).
type BillingItem struct {
	ID          generic.BillingItemID `json:"id"`
	Name        string                `json:"name"`
	UnitInclTax generic.Decimal       `json:"unit_incl_tax"`
	VATRate     generic.Decimal       `json:"vat_rate"`
}

// Catalog is every reference record a store can be loaded with.
type Catalog struct {
	Customers         []Customer
	Subscriptions     []Subscription
	Services          []pricing.Service
	SurchargePolicies []surcharge.Policy
	BillingItems      []BillingItem
	Fundings          []funding.Funding
	Histories         []funding.History
}

// =============================================================================
// DRAFT LINES
// =============================================================================

type EventLine struct {
	EventID     generic.EventID     `json:"event_id"`
	AuxiliaryID generic.AuxiliaryID `json:"auxiliary_id,omitempty"`
	Start       time.Time           `json:"start"`
	End         time.Time           `json:"end"`
	Cancelled   bool                `json:"cancelled"`
	Hours       generic.Decimal     `json:"hours"`
	ExclTax     generic.Decimal     `json:"excl_tax"`
	InclTax     generic.Decimal     `json:"incl_tax"`
	Surcharges  []surcharge.Overlap `json:"surcharges,omitempty"`
}

// DraftBillLine is the total of a subscription for one debtor: the customer
// when ThirdPartyPayerID is empty, a payer otherwise.
type DraftBillLine struct {
	ID                string                    `json:"id"`
	SubscriptionID    generic.SubscriptionID    `json:"subscription_id"`
	ServiceID         generic.ServiceID         `json:"service_id"`
	ServiceName       string                    `json:"service_name"`
	ThirdPartyPayerID generic.ThirdPartyPayerID `json:"third_party_payer_id,omitempty"`
	FundingID         generic.FundingID         `json:"funding_id,omitempty"`
	UnitExclTax       generic.Decimal           `json:"unit_excl_tax"`
	UnitInclTax       generic.Decimal           `json:"unit_incl_tax"`
	VATRate           generic.Decimal           `json:"vat_rate"`
	Discount          generic.Decimal           `json:"discount"`
	PeriodStart       time.Time                 `json:"period_start"`
	PeriodEnd         time.Time                 `json:"period_end"`
	TotalHours        generic.Decimal           `json:"total_hours"`
	TotalExclTax      generic.Decimal           `json:"total_excl_tax"`
	TotalInclTax      generic.Decimal           `json:"total_incl_tax"`
	Events            []EventLine               `json:"events"`
}

type BillingItemLine struct {
	ID             string                 `json:"id"`
	SubscriptionID generic.SubscriptionID `json:"subscription_id"`
	BillingItemID  generic.BillingItemID  `json:"billing_item_id"`
	Name           string                 `json:"name"`
	Quantity       int                    `json:"quantity"`
	UnitExclTax    generic.Decimal        `json:"unit_excl_tax"`
	UnitInclTax    generic.Decimal        `json:"unit_incl_tax"`
	VATRate        generic.Decimal        `json:"vat_rate"`
	TotalExclTax   generic.Decimal        `json:"total_excl_tax"`
	TotalInclTax   generic.Decimal        `json:"total_incl_tax"`
	EventIDs       []generic.EventID      `json:"event_ids"`
}

// =============================================================================
// RUN OUTPUT
// =============================================================================

type PayerDraftBill struct {
	ThirdPartyPayerID generic.ThirdPartyPayerID `json:"third_party_payer_id"`
	Lines             []DraftBillLine           `json:"lines"`
}

type CustomerDraftBill struct {
	CustomerID       generic.CustomerID `json:"customer_id"`
	CustomerLines    []DraftBillLine    `json:"customer_lines"`
	ThirdPartyPayers []PayerDraftBill   `json:"third_party_payers"`
	BillingItems     []BillingItemLine  `json:"billing_items"`
}

func (b CustomerDraftBill) IsEmpty() bool {
	return len(b.CustomerLines) == 0 && len(b.ThirdPartyPayers) == 0 && len(b.BillingItems) == 0
}

// CustomerTotal sums the customer's lines, billing items included.
func (b CustomerDraftBill) CustomerTotal() generic.Decimal {
	total := generic.Zero
	for _, l := range b.CustomerLines {
		total = total.Add(l.TotalInclTax)
	}
	for _, l := range b.BillingItems {
		total = total.Add(l.TotalInclTax)
	}
	return total
}

// Failure records a customer skipped by the run.
type Failure struct {
	CustomerID generic.CustomerID `json:"customer_id"`
	Error      string             `json:"error"`
}

// DraftBills is the outcome of a run. EventIDs lists every event priced for
// the customers billed successfully, cancelled ones included; confirming the
// run marks exactly these as billed.
type DraftBills struct {
	Period    generic.Period      `json:"period"`
	Bills     []CustomerDraftBill `json:"bills"`
	Histories []funding.History   `json:"histories"`
	EventIDs  []generic.EventID   `json:"event_ids"`
	Failures  []Failure           `json:"failures,omitempty"`
}
