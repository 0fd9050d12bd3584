package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
)

func priced(id generic.EventID, customer, tpp string, payer generic.ThirdPartyPayerID) pricing.PricedEvent {
	p := pricing.PricedEvent{
		EventID:  id,
		Minutes:  dec("120"),
		Nature:   generic.NatureHourly,
		Customer: pricing.Portion{ExclTax: dec(customer), InclTax: dec(customer)},
	}
	if tpp != "" {
		p.TPP = &pricing.TPPPortion{
			Portion:           pricing.Portion{ExclTax: dec(tpp), InclTax: dec(tpp)},
			ThirdPartyPayerID: payer,
			FundingID:         "fund-" + generic.FundingID(payer),
			FundingNature:     generic.NatureFixed,
		}
	}
	return p
}

func ev(id generic.EventID, day int) generic.Event {
	start := time.Date(2025, 3, day, 9, 0, 0, 0, time.UTC)
	return generic.Event{ID: id, Start: start, End: start.Add(2 * time.Hour), CustomerID: "cus-1", SubscriptionID: "sub-1"}
}

func TestAggregator_CustomerAndPayerTotals(t *testing.T) {
	// GIVEN: Three events, two partly funded by different payers
	// WHEN: Folded in order
	// THEN: The customer sees all three, each payer only its own events

	agg := billing.NewAggregator("sub-1")
	agg.Add(ev("e1", 3), priced("e1", "10", "30", "tpp-a"), nil)
	agg.Add(ev("e2", 4), priced("e2", "40", "", ""), nil)
	agg.Add(ev("e3", 5), priced("e3", "5", "35", "tpp-b"), nil)

	assert.True(t, agg.Customer.InclTax.Equal(dec("55")))
	assert.True(t, agg.Customer.Hours.Equal(dec("6")))
	assert.Len(t, agg.Customer.Events, 3)

	payers := agg.Payers()
	require.Len(t, payers, 2)
	assert.Equal(t, generic.ThirdPartyPayerID("tpp-a"), payers[0].ThirdPartyPayerID)
	assert.True(t, payers[0].InclTax.Equal(dec("30")))
	assert.Len(t, payers[0].Events, 1)
	assert.Equal(t, generic.ThirdPartyPayerID("tpp-b"), payers[1].ThirdPartyPayerID)
}

func TestAggregator_ZeroPayerPortion_NotTracked(t *testing.T) {
	agg := billing.NewAggregator("sub-1")
	agg.Add(ev("e1", 3), priced("e1", "40", "0", "tpp-a"), nil)

	assert.Empty(t, agg.Payers())
}

func TestAggregator_BillingItemGrouping_Independent(t *testing.T) {
	// GIVEN: One event referencing two billing items
	// WHEN: Folded, and the same event folded without items
	// THEN: It appears in both groups, and the customer totals are identical

	withItems := billing.NewAggregator("sub-1")
	withItems.Add(ev("e1", 3), priced("e1", "40", "", ""), []generic.BillingItemID{"meal", "travel"})

	without := billing.NewAggregator("sub-1")
	without.Add(ev("e1", 3), priced("e1", "40", "", ""), nil)

	groups := withItems.ItemGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, []generic.EventID{"e1"}, groups[0].EventIDs)
	assert.Equal(t, []generic.EventID{"e1"}, groups[1].EventIDs)
	assert.True(t, without.Customer.InclTax.Equal(withItems.Customer.InclTax))
	assert.Empty(t, without.ItemGroups())
}

func TestAggregator_CancelledEvent(t *testing.T) {
	// GIVEN: A cancelled event with a billing item
	// WHEN: Folded
	// THEN: It is listed at zero for the customer, adds no hours, joins no group

	p := priced("e1", "0", "", "")
	p.Cancelled = true

	agg := billing.NewAggregator("sub-1")
	agg.Add(ev("e1", 3), p, []generic.BillingItemID{"meal"})

	assert.Len(t, agg.Customer.Events, 1)
	assert.True(t, agg.Customer.Hours.IsZero())
	assert.Empty(t, agg.ItemGroups())
}

func TestAggregator_PeriodStart_IsEarliestEvent(t *testing.T) {
	// GIVEN: Events folded out of chronological order
	// WHEN: Reading the period
	// THEN: Start is the earliest start, end the latest end

	agg := billing.NewAggregator("sub-1")
	agg.Add(ev("e2", 10), priced("e2", "1", "", ""), nil)
	agg.Add(ev("e1", 2), priced("e1", "1", "", ""), nil)
	agg.Add(ev("e3", 20), priced("e3", "1", "", ""), nil)

	assert.Equal(t, time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC), agg.PeriodStart())
	assert.Equal(t, time.Date(2025, 3, 20, 11, 0, 0, 0, time.UTC), agg.PeriodEnd())
	assert.Equal(t, 3, agg.Len())
}
