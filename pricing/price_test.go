package pricing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
	"github.com/warp/care-billing/surcharge"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) generic.Decimal { return generic.MustDecimal(s) }

var jan1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func hourlyVersion(price string) pricing.ServiceVersion {
	return pricing.ServiceVersion{StartDate: jan1, Nature: generic.NatureHourly, UnitPrice: dec(price), VATRate: dec("5.5")}
}

func fixedVersion(price string) pricing.ServiceVersion {
	return pricing.ServiceVersion{StartDate: jan1, Nature: generic.NatureFixed, UnitPrice: dec(price), VATRate: dec("5.5")}
}

// sundayEvent is 2 hours on Sunday 2 March 2025.
func sundayEvent() generic.Event {
	start := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	return generic.Event{ID: "evt-1", Start: start, End: start.Add(2 * time.Hour), CustomerID: "cus-1", SubscriptionID: "sub-1"}
}

func sundayPolicy() *surcharge.Policy {
	return &surcharge.Policy{ID: "sp-1", Bands: []surcharge.Band{surcharge.SundayBand(dec("30"))}}
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestPriceEvent_SundaySurcharge_NoFunding(t *testing.T) {
	// GIVEN: HOURLY service at 20.00/hr with a 30% Sunday surcharge
	// WHEN: A 2-hour event on a Sunday, no funding
	// THEN: Customer pays 20 × 2 × 1.30 = 52.00, no third-party portion

	priced, updated, err := pricing.PriceEvent(pricing.Input{
		Event:     sundayEvent(),
		Version:   hourlyVersion("20"),
		Surcharge: sundayPolicy(),
	})

	require.NoError(t, err)
	assert.Equal(t, "52.00", priced.Customer.InclTax.StringFixed(2))
	assert.Equal(t, "49.29", priced.Customer.ExclTax.StringFixed(2))
	assert.Nil(t, priced.TPP)
	assert.Nil(t, updated)
	assert.True(t, priced.Multiplier.Equal(dec("1.3")))
	require.Len(t, priced.Surcharges, 1)
	assert.Equal(t, "sunday", priced.Surcharges[0].BandName)
}

func TestPriceEvent_FixedFunding_PartiallyCovers(t *testing.T) {
	// GIVEN: FIXED funding, cap 100, 90 consumed; service base price 20
	// WHEN: The event is priced
	// THEN: Payer 10.00, customer 10.00, ledger 100.00

	f := funding.Funding{
		ID: "fund-1", Nature: generic.NatureFixed, ThirdPartyPayerID: "tpp-1", SubscriptionID: "sub-1",
		Frequency: funding.FrequencyOnce, Amount: dec("100"), StartDate: jan1,
	}
	entry := funding.History{FundingID: "fund-1", Amount: dec("90")}

	priced, updated, err := pricing.PriceEvent(pricing.Input{
		Event:   sundayEvent(),
		Version: fixedVersion("20"),
		Funding: &f,
		Entry:   &entry,
	})

	require.NoError(t, err)
	require.NotNil(t, priced.TPP)
	assert.Equal(t, "10.00", priced.TPP.InclTax.StringFixed(2))
	assert.Equal(t, "10.00", priced.Customer.InclTax.StringFixed(2))
	assert.Equal(t, generic.ThirdPartyPayerID("tpp-1"), priced.TPP.ThirdPartyPayerID)
	assert.True(t, priced.TPP.Exhausted)
	require.NotNil(t, updated)
	assert.Equal(t, "100.00", updated.Amount.StringFixed(2))
	assert.True(t, entry.Amount.Equal(dec("90")), "caller's entry untouched")
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestPriceEvent_Cancelled_BillsZero(t *testing.T) {
	// GIVEN: A cancelled event with a surcharge policy and a funding
	// WHEN: Priced
	// THEN: Both portions are zero and the funding is not consumed

	ev := sundayEvent()
	ev.IsCancelled = true
	f := funding.Funding{
		ID: "fund-1", Nature: generic.NatureHourly, ThirdPartyPayerID: "tpp-1", SubscriptionID: "sub-1",
		Frequency: funding.FrequencyMonthly, CareHours: dec("10"), UnitRate: dec("20"), StartDate: jan1,
	}

	priced, updated, err := pricing.PriceEvent(pricing.Input{
		Event:     ev,
		Version:   hourlyVersion("20"),
		Surcharge: sundayPolicy(),
		Funding:   &f,
		Entry:     nil,
	})

	require.NoError(t, err)
	assert.True(t, priced.Customer.IsZero())
	assert.Nil(t, priced.TPP)
	assert.Nil(t, updated)
	assert.True(t, priced.Cancelled)
}

// =============================================================================
// SURCHARGE / NATURE RULES
// =============================================================================

func TestPriceEvent_FixedService_NeverSurcharged(t *testing.T) {
	priced, _, err := pricing.PriceEvent(pricing.Input{
		Event:     sundayEvent(),
		Version:   fixedVersion("35"),
		Surcharge: sundayPolicy(),
	})

	require.NoError(t, err)
	assert.True(t, priced.Customer.InclTax.Equal(dec("35")))
	assert.Empty(t, priced.Surcharges)
	assert.True(t, priced.Multiplier.Equal(generic.One))
}

func TestPriceEvent_HourlyFunding_WithParticipation(t *testing.T) {
	// GIVEN: 20/hr service, funding 20/hr with 10% participation
	// WHEN: A 2h weekday event
	// THEN: Payer 36, customer 4

	ev := sundayEvent()
	ev.Start = ev.Start.AddDate(0, 0, 1)
	ev.End = ev.End.AddDate(0, 0, 1)
	f := funding.Funding{
		ID: "fund-1", Nature: generic.NatureHourly, ThirdPartyPayerID: "tpp-1", SubscriptionID: "sub-1",
		Frequency: funding.FrequencyMonthly, CareHours: dec("10"), UnitRate: dec("20"),
		CustomerParticipationRate: dec("10"), StartDate: jan1,
	}
	entry := funding.History{FundingID: "fund-1", Month: "2025-03"}

	priced, updated, err := pricing.PriceEvent(pricing.Input{Event: ev, Version: hourlyVersion("20"), Funding: &f, Entry: &entry})

	require.NoError(t, err)
	require.NotNil(t, priced.TPP)
	assert.True(t, priced.TPP.InclTax.Equal(dec("36")))
	assert.True(t, priced.Customer.InclTax.Equal(dec("4")))
	assert.True(t, updated.CareHours.Equal(dec("2")))
	assert.True(t, priced.Total().InclTax.Equal(dec("40")))
}

func TestPriceEvent_HourlyFunding_FullParticipation_StillConsumes(t *testing.T) {
	// GIVEN: A 2h monthly cap where the customer participates at 100%
	// WHEN: A 2h weekday event is priced
	// THEN: The customer pays everything, yet the payer portion is kept at
	//       zero to report the 2h consumed and the exhaustion

	ev := sundayEvent()
	ev.Start = ev.Start.AddDate(0, 0, 1)
	ev.End = ev.End.AddDate(0, 0, 1)
	f := funding.Funding{
		ID: "fund-1", Nature: generic.NatureHourly, ThirdPartyPayerID: "tpp-1", SubscriptionID: "sub-1",
		Frequency: funding.FrequencyMonthly, CareHours: dec("2"), UnitRate: dec("20"),
		CustomerParticipationRate: dec("100"), StartDate: jan1,
	}
	entry := funding.History{FundingID: "fund-1", Month: "2025-03", CareHours: generic.Zero, Amount: generic.Zero}

	priced, updated, err := pricing.PriceEvent(pricing.Input{Event: ev, Version: hourlyVersion("20"), Funding: &f, Entry: &entry})

	require.NoError(t, err)
	assert.True(t, priced.Customer.InclTax.Equal(dec("40")))
	require.NotNil(t, priced.TPP)
	assert.True(t, priced.TPP.InclTax.IsZero())
	assert.True(t, priced.TPP.Consumed.Equal(dec("2")))
	assert.True(t, priced.TPP.Exhausted)
	assert.Equal(t, generic.FundingID("fund-1"), priced.TPP.FundingID)
	require.NotNil(t, updated)
	assert.True(t, updated.CareHours.Equal(dec("2")))
	assert.True(t, priced.Total().InclTax.Equal(dec("40")))
}

func TestPriceEvent_FundingWithoutEntry_Fails(t *testing.T) {
	f := funding.Funding{ID: "fund-1", Nature: generic.NatureFixed, Frequency: funding.FrequencyOnce, Amount: dec("100")}

	_, _, err := pricing.PriceEvent(pricing.Input{Event: sundayEvent(), Version: fixedVersion("20"), Funding: &f})

	assert.ErrorIs(t, err, generic.ErrMissingLedgerEntry)
}

func TestPriceEvent_ZeroDuration_Hourly(t *testing.T) {
	ev := sundayEvent()
	ev.End = ev.Start

	priced, _, err := pricing.PriceEvent(pricing.Input{Event: ev, Version: hourlyVersion("20"), Surcharge: sundayPolicy()})

	require.NoError(t, err)
	assert.True(t, priced.Customer.InclTax.IsZero())
	assert.True(t, priced.Multiplier.Equal(generic.One))
}

func TestExclTax(t *testing.T) {
	excl, err := pricing.ExclTax(dec("105.5"), dec("5.5"))
	require.NoError(t, err)
	assert.True(t, excl.Equal(dec("100")))

	excl, err = pricing.ExclTax(dec("20"), generic.Zero)
	require.NoError(t, err)
	assert.True(t, excl.Equal(dec("20")))
}

// =============================================================================
// VERSION RESOLUTION
// =============================================================================

func TestService_VersionAsOf(t *testing.T) {
	svc := pricing.Service{ID: "svc-1", Versions: []pricing.ServiceVersion{
		hourlyVersion("20"),
		{StartDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), Nature: generic.NatureHourly, UnitPrice: dec("22"), VATRate: dec("5.5")},
	}}

	v, err := svc.VersionAsOf(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, v.UnitPrice.Equal(dec("20")))

	v, err = svc.VersionAsOf(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, v.UnitPrice.Equal(dec("22")))

	_, err = svc.VersionAsOf(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	var unresolvable *generic.UnresolvableServiceVersionError
	require.ErrorAs(t, err, &unresolvable)
	assert.Equal(t, generic.ServiceID("svc-1"), unresolvable.ServiceID)
}
