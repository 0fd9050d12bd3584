package billing

import (
	"time"

	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
)

// =============================================================================
// TOTALS
// =============================================================================

type Totals struct {
	Hours   generic.Decimal
	ExclTax generic.Decimal
	InclTax generic.Decimal
	Events  []EventLine
}

func newTotals() Totals {
	return Totals{Hours: generic.Zero, ExclTax: generic.Zero, InclTax: generic.Zero}
}

func (t *Totals) add(line EventLine) {
	t.Hours = t.Hours.Add(line.Hours)
	t.ExclTax = t.ExclTax.Add(line.ExclTax)
	t.InclTax = t.InclTax.Add(line.InclTax)
	t.Events = append(t.Events, line)
}

// PayerTotals are a third-party payer's totals on one subscription.
type PayerTotals struct {
	Totals
	ThirdPartyPayerID generic.ThirdPartyPayerID
	FundingID         generic.FundingID
}

// ItemGroup is the set of events billed with one billing item.
type ItemGroup struct {
	BillingItemID generic.BillingItemID
	EventIDs      []generic.EventID
}

// =============================================================================
// AGGREGATOR - Fold of priced events for one subscription
// =============================================================================

// Aggregator folds (event, priced event) pairs of one subscription, in the
// order they are added. It is not safe for concurrent use.
type Aggregator struct {
	SubscriptionID generic.SubscriptionID
	Customer       Totals

	payers     map[generic.ThirdPartyPayerID]*PayerTotals
	payerOrder []generic.ThirdPartyPayerID
	items      map[generic.BillingItemID]*ItemGroup
	itemOrder  []generic.BillingItemID

	periodStart time.Time
	periodEnd   time.Time
	count       int
}

func NewAggregator(sub generic.SubscriptionID) *Aggregator {
	return &Aggregator{
		SubscriptionID: sub,
		Customer:       newTotals(),
		payers:         make(map[generic.ThirdPartyPayerID]*PayerTotals),
		items:          make(map[generic.BillingItemID]*ItemGroup),
	}
}

// Add folds one event. items are the billing items of the event's service
// version.
//
//   - the customer totals always receive the event (cancelled ones at zero)
//   - a payer's totals receive it only when its portion is non-zero
//   - every billing item groups it, unless the event is cancelled
func (a *Aggregator) Add(ev generic.Event, priced pricing.PricedEvent, items []generic.BillingItemID) {
	a.trackPeriod(ev)
	a.count++

	hours := generic.Zero
	if !priced.Cancelled {
		// minutes/60 never fails: the divisor is a non-zero constant.
		hours, _ = priced.Minutes.Div(generic.Sixty)
	}

	a.Customer.add(EventLine{
		EventID:     ev.ID,
		AuxiliaryID: ev.AuxiliaryID,
		Start:       ev.Start,
		End:         ev.End,
		Cancelled:   priced.Cancelled,
		Hours:       hours,
		ExclTax:     priced.Customer.ExclTax,
		InclTax:     priced.Customer.InclTax,
		Surcharges:  priced.Surcharges,
	})

	if tpp := priced.TPP; tpp != nil && !tpp.InclTax.IsZero() {
		payer, ok := a.payers[tpp.ThirdPartyPayerID]
		if !ok {
			payer = &PayerTotals{Totals: newTotals(), ThirdPartyPayerID: tpp.ThirdPartyPayerID}
			a.payers[tpp.ThirdPartyPayerID] = payer
			a.payerOrder = append(a.payerOrder, tpp.ThirdPartyPayerID)
		}
		payer.FundingID = tpp.FundingID
		funded := hours
		if tpp.FundingNature == generic.NatureHourly {
			funded = tpp.Consumed
		}
		payer.add(EventLine{
			EventID:     ev.ID,
			AuxiliaryID: ev.AuxiliaryID,
			Start:       ev.Start,
			End:         ev.End,
			Hours:       funded,
			ExclTax:     tpp.ExclTax,
			InclTax:     tpp.InclTax,
			Surcharges:  priced.Surcharges,
		})
	}

	if priced.Cancelled {
		return
	}
	for _, id := range items {
		group, ok := a.items[id]
		if !ok {
			group = &ItemGroup{BillingItemID: id}
			a.items[id] = group
			a.itemOrder = append(a.itemOrder, id)
		}
		group.EventIDs = append(group.EventIDs, ev.ID)
	}
}

func (a *Aggregator) trackPeriod(ev generic.Event) {
	if a.count == 0 || ev.Start.Before(a.periodStart) {
		a.periodStart = ev.Start
	}
	if a.count == 0 || ev.End.After(a.periodEnd) {
		a.periodEnd = ev.End
	}
}

// PeriodStart is the earliest event start seen, which can precede the
// run's nominal start.
func (a *Aggregator) PeriodStart() time.Time { return a.periodStart }
func (a *Aggregator) PeriodEnd() time.Time   { return a.periodEnd }
func (a *Aggregator) Len() int               { return a.count }

// Payers returns payer totals in order of first appearance.
func (a *Aggregator) Payers() []*PayerTotals {
	out := make([]*PayerTotals, 0, len(a.payerOrder))
	for _, id := range a.payerOrder {
		out = append(out, a.payers[id])
	}
	return out
}

// ItemGroups returns billing-item groups in order of first appearance.
func (a *Aggregator) ItemGroups() []*ItemGroup {
	out := make([]*ItemGroup, 0, len(a.itemOrder))
	for _, id := range a.itemOrder {
		out = append(out, a.items[id])
	}
	return out
}
