package funding_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) generic.Decimal { return generic.MustDecimal(s) }

func hourly(capHours, rate, participation string) funding.Funding {
	return funding.Funding{
		ID:                        "fund-h",
		Nature:                    generic.NatureHourly,
		ThirdPartyPayerID:         "tpp-1",
		SubscriptionID:            "sub-1",
		Frequency:                 funding.FrequencyMonthly,
		CareHours:                 dec(capHours),
		UnitRate:                  dec(rate),
		CustomerParticipationRate: dec(participation),
		StartDate:                 time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func fixed(amountCap string) funding.Funding {
	return funding.Funding{
		ID:                "fund-f",
		Nature:            generic.NatureFixed,
		ThirdPartyPayerID: "tpp-1",
		SubscriptionID:    "sub-1",
		Frequency:         funding.FrequencyOnce,
		Amount:            dec(amountCap),
		StartDate:         time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func event(day, hour, hours int) generic.Interval {
	start := time.Date(2025, time.March, day, hour, 0, 0, 0, time.UTC)
	return generic.Interval{Start: start, End: start.Add(time.Duration(hours) * time.Hour)}
}

// =============================================================================
// HOURLY TESTS
// =============================================================================

func TestApply_Hourly_WithinCap(t *testing.T) {
	// GIVEN: 10h cap, 15/hr rate, 10% customer participation
	// WHEN: A 2h event priced 40
	// THEN: The payer covers 2 × 15 × 0.9 = 27, the customer 13

	f := hourly("10", "15", "10")
	ledger := funding.NewLedger().Seed(f, event(3, 9, 2).Start)
	entry, err := ledger.Entry(f, event(3, 9, 2).Start)
	require.NoError(t, err)

	split, updated, err := funding.Apply(event(3, 9, 2), f, entry, dec("40"))

	require.NoError(t, err)
	assert.True(t, split.TPP.Equal(dec("27")))
	assert.True(t, split.Customer.Equal(dec("13")))
	assert.True(t, split.Consumed.Equal(dec("2")))
	assert.True(t, updated.CareHours.Equal(dec("2")))
	assert.False(t, split.Exhausted)
	assert.True(t, entry.CareHours.IsZero(), "input entry is not modified")
}

func TestApply_Hourly_PartialExhaustion(t *testing.T) {
	// GIVEN: 10h cap with 9h already consumed
	// WHEN: A 3h event priced 60
	// THEN: Only 1h is funded, the rest reverts to the customer

	f := hourly("10", "20", "0")
	entry := funding.History{FundingID: f.ID, Month: "2025-03", CareHours: dec("9"), Amount: generic.Zero}

	split, updated, err := funding.Apply(event(3, 9, 3), f, entry, dec("60"))

	require.NoError(t, err)
	assert.True(t, split.TPP.Equal(dec("20")))
	assert.True(t, split.Customer.Equal(dec("40")))
	assert.True(t, split.Consumed.Equal(dec("1")))
	assert.True(t, updated.CareHours.Equal(dec("10")))
	assert.True(t, split.Exhausted)
}

func TestApply_Hourly_ExhaustionMonotonicity(t *testing.T) {
	// GIVEN: 10h cap
	// WHEN: Six 2h events (12h) are processed in chronological order
	// THEN: Consumption never exceeds 10h and later events are unfunded

	f := hourly("10", "20", "0")
	ledger := funding.NewLedger()
	total := generic.Zero
	exhaustedAt := -1

	for i := 0; i < 6; i++ {
		iv := event(3+i, 9, 2)
		ledger = ledger.Seed(f, iv.Start)
		entry, err := ledger.Entry(f, iv.Start)
		require.NoError(t, err)

		split, updated, err := funding.Apply(iv, f, entry, dec("40"))
		require.NoError(t, err)
		ledger = ledger.With(updated)
		total = total.Add(split.Consumed)

		assert.True(t, total.LessThanOrEqual(dec("10")))
		if exhaustedAt >= 0 {
			assert.True(t, split.TPP.IsZero(), "event %d after exhaustion must be unfunded", i)
		}
		if split.Exhausted {
			exhaustedAt = i
		}
	}

	assert.Equal(t, 4, exhaustedAt)
	assert.True(t, total.Equal(dec("10")))
}

func TestApply_Hourly_OrderDependence(t *testing.T) {
	// GIVEN: 3h cap and two events of 2h (A) and 3h (B)
	// WHEN: Processed A then B, and B then A
	// THEN: The first event processed gets full funding

	f := hourly("3", "20", "0")
	a, b := event(3, 9, 2), event(3, 14, 3)
	priceA, priceB := dec("40"), dec("60")

	run := func(first, second generic.Interval, p1, p2 generic.Decimal) (generic.Decimal, generic.Decimal) {
		entry := funding.History{FundingID: f.ID, Month: "2025-03"}
		s1, entry, err := funding.Apply(first, f, entry, p1)
		require.NoError(t, err)
		s2, _, err := funding.Apply(second, f, entry, p2)
		require.NoError(t, err)
		return s1.TPP, s2.TPP
	}

	tppA1, tppB1 := run(a, b, priceA, priceB)
	tppB2, tppA2 := run(b, a, priceB, priceA)

	assert.True(t, tppA1.Equal(dec("40")))
	assert.True(t, tppB1.Equal(dec("20")))
	assert.True(t, tppB2.Equal(dec("60")))
	assert.True(t, tppA2.IsZero())
	assert.False(t, tppA1.Equal(tppA2), "processing order changes the split")
}

func TestApply_Hourly_TPPNeverExceedsPrice(t *testing.T) {
	// GIVEN: A rate above the service price
	// WHEN: A 1h event priced 20 with a 30/hr funding rate
	// THEN: The payer covers 20, the customer nothing

	f := hourly("10", "30", "0")
	entry := funding.History{FundingID: f.ID, Month: "2025-03"}

	split, _, err := funding.Apply(event(3, 9, 1), f, entry, dec("20"))

	require.NoError(t, err)
	assert.True(t, split.TPP.Equal(dec("20")))
	assert.True(t, split.Customer.IsZero())
}

func TestApply_Hourly_ThirdOfAnHour(t *testing.T) {
	f := hourly("10", "20", "0")
	entry := funding.History{FundingID: f.ID, Month: "2025-03"}
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	iv := generic.Interval{Start: start, End: start.Add(20 * time.Minute)}

	split, updated, err := funding.Apply(iv, f, entry, dec("6.67"))

	require.NoError(t, err)
	assert.Equal(t, "6.67", split.TPP.StringFixed(2))
	assert.True(t, updated.CareHours.Equal(dec("0.333333")))
}

// =============================================================================
// FIXED TESTS
// =============================================================================

func TestApply_Fixed_ExhaustsRemainder(t *testing.T) {
	// GIVEN: FIXED funding, cap 100, 90 already consumed
	// WHEN: An event with base price 20
	// THEN: Payer 10.00, customer 10.00, ledger consumed 100.00

	f := fixed("100")
	entry := funding.History{FundingID: f.ID, Month: "", Amount: dec("90")}

	split, updated, err := funding.Apply(event(3, 9, 1), f, entry, dec("20"))

	require.NoError(t, err)
	assert.Equal(t, "10.00", split.TPP.StringFixed(2))
	assert.Equal(t, "10.00", split.Customer.StringFixed(2))
	assert.Equal(t, "100.00", updated.Amount.StringFixed(2))
	assert.True(t, split.Exhausted)
}

func TestApply_Fixed_IgnoresParticipation(t *testing.T) {
	f := fixed("100")
	f.CustomerParticipationRate = dec("50")
	entry := funding.History{FundingID: f.ID}

	split, _, err := funding.Apply(event(3, 9, 1), f, entry, dec("20"))

	require.NoError(t, err)
	assert.True(t, split.TPP.Equal(dec("20")))
}

func TestApply_ExhaustedEntry_CustomerPaysAll(t *testing.T) {
	f := fixed("100")
	entry := funding.History{FundingID: f.ID, Amount: dec("100")}

	split, updated, err := funding.Apply(event(3, 9, 1), f, entry, dec("20"))

	require.NoError(t, err)
	assert.True(t, split.TPP.IsZero())
	assert.True(t, split.Customer.Equal(dec("20")))
	assert.False(t, split.Exhausted, "already exhausted, no transition")
	assert.Equal(t, entry, updated)
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestApply_WrongMonthEntry_MissingLedgerEntry(t *testing.T) {
	// GIVEN: A MONTHLY funding and an entry for February
	// WHEN: Applying it to a March event
	// THEN: MissingLedgerEntryError for March, nothing fabricated

	f := hourly("10", "20", "0")
	entry := funding.History{FundingID: f.ID, Month: "2025-02"}

	_, _, err := funding.Apply(event(3, 9, 1), f, entry, dec("20"))

	var missing *generic.MissingLedgerEntryError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "2025-03", missing.Month)
	assert.ErrorIs(t, err, generic.ErrMissingLedgerEntry)
}

func TestLedger_Entry_Missing(t *testing.T) {
	f := hourly("10", "20", "0")

	_, err := funding.NewLedger().Entry(f, event(3, 9, 1).Start)

	assert.ErrorIs(t, err, generic.ErrMissingLedgerEntry)
}

func TestLedger_MonthlyReset(t *testing.T) {
	// GIVEN: A MONTHLY funding exhausted in March
	// WHEN: An April event is processed
	// THEN: April has a fresh entry and the event is funded

	f := hourly("2", "20", "0")
	march := event(3, 9, 2)
	april := generic.Interval{Start: march.Start.AddDate(0, 1, 0), End: march.End.AddDate(0, 1, 0)}

	ledger := funding.NewLedger(funding.History{FundingID: f.ID, Month: "2025-03", CareHours: dec("2")})
	ledger = ledger.Seed(f, march.Start).Seed(f, april.Start)

	entry, err := ledger.Entry(f, april.Start)
	require.NoError(t, err)
	split, _, err := funding.Apply(april, f, entry, dec("40"))

	require.NoError(t, err)
	assert.True(t, split.TPP.Equal(dec("40")))

	marchEntry, err := ledger.Entry(f, march.Start)
	require.NoError(t, err)
	assert.True(t, marchEntry.CareHours.Equal(dec("2")), "seed keeps an existing entry")
}

func TestLedger_With_IsCopyOnWrite(t *testing.T) {
	f := fixed("100")
	base := funding.NewLedger().Seed(f, time.Now())

	next := base.With(funding.History{FundingID: f.ID, Amount: dec("30")})

	before, err := base.Entry(f, time.Now())
	require.NoError(t, err)
	after, err := next.Entry(f, time.Now())
	require.NoError(t, err)
	assert.True(t, before.Amount.IsZero())
	assert.True(t, after.Amount.Equal(dec("30")))
}

func TestLedger_Histories_Sorted(t *testing.T) {
	l := funding.NewLedger(
		funding.History{FundingID: "b", Month: "2025-01"},
		funding.History{FundingID: "a", Month: "2025-02"},
		funding.History{FundingID: "a", Month: "2025-01"},
	)

	hs := l.Histories()

	require.Len(t, hs, 3)
	assert.Equal(t, generic.FundingID("a"), hs[0].FundingID)
	assert.Equal(t, "2025-01", hs[0].Month)
	assert.Equal(t, "2025-02", hs[1].Month)
	assert.Equal(t, generic.FundingID("b"), hs[2].FundingID)
}

// =============================================================================
// MATCH TESTS
// =============================================================================

func TestMatch(t *testing.T) {
	old := hourly("10", "20", "0")
	old.ID = "old"
	recent := hourly("10", "22", "0")
	recent.ID = "recent"
	recent.StartDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	recent.CareDays = []time.Weekday{time.Monday, time.Tuesday}
	other := hourly("10", "20", "0")
	other.ID = "other"
	other.SubscriptionID = "sub-2"

	fundings := []funding.Funding{old, recent, other}

	f, ok := funding.Match(fundings, "sub-1", time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)) // Monday
	require.True(t, ok)
	assert.Equal(t, generic.FundingID("recent"), f.ID)

	f, ok = funding.Match(fundings, "sub-1", time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)) // Wednesday
	require.True(t, ok)
	assert.Equal(t, generic.FundingID("old"), f.ID)

	_, ok = funding.Match(fundings, "sub-3", time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestFunding_Validate(t *testing.T) {
	assert.NoError(t, hourly("10", "20", "10").Validate())

	bad := hourly("10", "20", "120")
	assert.Error(t, bad.Validate())

	bad = fixed("100")
	bad.Frequency = "weekly"
	assert.Error(t, bad.Validate())
}
