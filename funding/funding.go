/*
Package funding implements third-party payer budgets and their consumption.

PURPOSE:
  A funding is a budget granted by a third-party payer (a county council,
  a pension fund, a mutual insurer) that covers part of a customer's care.
  Each event consumes some of it; once the cap is reached the customer pays
  the full price of later events. This package defines fundings, the ledger
  of what has been consumed, and the split of one event's price.

KEY CONCEPTS:
  - Funding: the budget definition (nature, cap, rate, participation, dates)
  - History: consumption so far for one (funding, month) ledger entry
  - Ledger: the set of entries threaded through a billing run
  - Split: customer/third-party share of one event's price

STATE MACHINE (per ledger entry):
  Open (consumed < cap) --consume--> Exhausted (consumed = cap)
  The transition is one way. MONTHLY fundings get a fresh Open entry each
  month; ONCE fundings have a single entry for their whole lifetime.

SEE ALSO:
  - apply.go: Apply, the per-event split
  - ledger.go: Ledger, the immutable entry set
  - match.go: which funding covers an event
*/
package funding

import (
	"fmt"
	"slices"
	"time"

	"github.com/warp/care-billing/generic"
)

// =============================================================================
// FREQUENCY
// =============================================================================

type Frequency string

const (
	FrequencyOnce    Frequency = "once"    // single budget for the funding's lifetime
	FrequencyMonthly Frequency = "monthly" // budget resets each calendar month
)

func (f Frequency) Valid() bool { return f == FrequencyOnce || f == FrequencyMonthly }

// =============================================================================
// FUNDING
// =============================================================================

// Funding is a third-party payer's budget for one subscription.
// CareHours caps HOURLY fundings, Amount caps FIXED ones.
type Funding struct {
	ID                        generic.FundingID         `json:"id"`
	Nature                    generic.Nature            `json:"nature"`
	ThirdPartyPayerID         generic.ThirdPartyPayerID `json:"third_party_payer_id"`
	SubscriptionID            generic.SubscriptionID    `json:"subscription_id"`
	Frequency                 Frequency                 `json:"frequency"`
	CareHours                 generic.Decimal           `json:"care_hours"`
	Amount                    generic.Decimal           `json:"amount"`
	UnitRate                  generic.Decimal           `json:"unit_rate"`
	CustomerParticipationRate generic.Decimal           `json:"customer_participation_rate"`
	StartDate                 time.Time                 `json:"start_date"`
	EndDate                   *time.Time                `json:"end_date,omitempty"`
	CareDays                  []time.Weekday            `json:"care_days,omitempty"`
}

func (f Funding) EffectiveFrom() time.Time { return f.StartDate }

// Cap returns the budget in the funding's unit: hours or money.
func (f Funding) Cap() generic.Decimal {
	if f.Nature == generic.NatureHourly {
		return f.CareHours
	}
	return f.Amount
}

// PeriodKey is the ledger month an event at the given instant consumes from.
// ONCE fundings use the empty key.
func (f Funding) PeriodKey(at time.Time) string {
	if f.Frequency == FrequencyMonthly {
		return generic.MonthKey(at)
	}
	return ""
}

// IsActive reports whether the funding covers an event starting at the
// given instant: within [StartDate, EndDate] and, when care days are set,
// on one of them.
func (f Funding) IsActive(at time.Time) bool {
	if at.Before(f.StartDate) {
		return false
	}
	if f.EndDate != nil && at.After(*f.EndDate) {
		return false
	}
	if len(f.CareDays) > 0 && !slices.Contains(f.CareDays, at.Weekday()) {
		return false
	}
	return true
}

func (f Funding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("funding: id is required")
	}
	if !f.Nature.Valid() {
		return fmt.Errorf("funding %s: invalid nature %q", f.ID, f.Nature)
	}
	if !f.Frequency.Valid() {
		return fmt.Errorf("funding %s: invalid frequency %q", f.ID, f.Frequency)
	}
	if f.ThirdPartyPayerID == "" || f.SubscriptionID == "" {
		return fmt.Errorf("funding %s: third party payer and subscription are required", f.ID)
	}
	if f.Cap().IsNegative() || f.UnitRate.IsNegative() {
		return fmt.Errorf("funding %s: cap and unit rate must not be negative", f.ID)
	}
	if f.CustomerParticipationRate.IsNegative() || f.CustomerParticipationRate.GreaterThan(generic.Hundred) {
		return fmt.Errorf("funding %s: participation rate must be between 0 and 100", f.ID)
	}
	if f.EndDate != nil && f.EndDate.Before(f.StartDate) {
		return fmt.Errorf("funding %s: end date before start date", f.ID)
	}
	return nil
}

// =============================================================================
// HISTORY - One ledger entry
// =============================================================================

// History is what has been consumed from a funding, for one month of a
// MONTHLY funding or over the lifetime of a ONCE funding (Month == "").
type History struct {
	FundingID generic.FundingID `json:"funding_id"`
	Month     string            `json:"month"`
	CareHours generic.Decimal   `json:"care_hours"`
	Amount    generic.Decimal   `json:"amount"`
}

// Consumed returns consumption in the funding's unit.
func (h History) Consumed(nature generic.Nature) generic.Decimal {
	if nature == generic.NatureHourly {
		return h.CareHours
	}
	return h.Amount
}

// Remaining returns what is left of the cap, never negative.
func (f Funding) Remaining(h History) generic.Decimal {
	return f.Cap().Sub(h.Consumed(f.Nature)).Max(generic.Zero)
}

func (f Funding) IsExhausted(h History) bool {
	return !f.Remaining(h).IsPositive()
}
