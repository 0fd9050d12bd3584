package funding

import (
	"github.com/warp/care-billing/generic"
)

// hourPrecision bounds the digits kept when converting minutes to hours.
const hourPrecision = 6

// Split is how one event's price is shared.
type Split struct {
	Customer generic.Decimal
	TPP      generic.Decimal
	// Consumed is what this event took from the budget: hours for HOURLY
	// fundings, money for FIXED ones.
	Consumed generic.Decimal
	// Exhausted is true when this event moved the entry from Open to Exhausted.
	Exhausted bool
}

// Apply splits price (tax included) between the customer and the funding's
// third-party payer and returns the updated ledger entry. The entry must
// belong to the funding and to the month of the event; the caller creates
// zero entries beforehand.
//
// HOURLY: the payer covers unitRate per hour net of the customer's
// participation, for as many minutes as the cap still allows. An event that
// crosses the cap is clipped: only the minutes up to the cap are funded.
//
// FIXED: the payer absorbs up to the remaining amount of the base price.
func Apply(iv generic.Interval, f Funding, entry History, price generic.Decimal) (Split, History, error) {
	key := f.PeriodKey(iv.Start)
	if entry.FundingID != f.ID || entry.Month != key {
		return Split{}, entry, &generic.MissingLedgerEntryError{FundingID: f.ID, Month: key}
	}

	if f.IsExhausted(entry) || price.IsZero() {
		return Split{Customer: price, TPP: generic.Zero, Consumed: generic.Zero}, entry, nil
	}

	switch f.Nature {
	case generic.NatureHourly:
		return applyHourly(iv, f, entry, price)
	default:
		return applyFixed(f, entry, price)
	}
}

func applyHourly(iv generic.Interval, f Funding, entry History, price generic.Decimal) (Split, History, error) {
	remainingMinutes := f.Remaining(entry).Mul(generic.Sixty)
	eventMinutes := iv.Minutes()
	chargeable := eventMinutes.Min(remainingMinutes)

	// unitRate × minutes/60 × (100 - participation)/100, multiplied out first.
	net := generic.Hundred.Sub(f.CustomerParticipationRate)
	tpp, err := f.UnitRate.Mul(chargeable).Mul(net).Div(generic.Sixty.Mul(generic.Hundred))
	if err != nil {
		return Split{}, entry, err
	}
	tpp = tpp.Min(price)

	hours, err := chargeable.Div(generic.Sixty)
	if err != nil {
		return Split{}, entry, err
	}
	hours = hours.Round(hourPrecision)

	updated := entry
	if chargeable.Equal(remainingMinutes) {
		hours = f.Remaining(entry)
		updated.CareHours = f.CareHours
	} else {
		updated.CareHours = entry.CareHours.Add(hours).Min(f.CareHours)
	}

	return Split{
		Customer:  price.Sub(tpp),
		TPP:       tpp,
		Consumed:  hours,
		Exhausted: f.IsExhausted(updated),
	}, updated, nil
}

func applyFixed(f Funding, entry History, price generic.Decimal) (Split, History, error) {
	tpp := price.Min(f.Remaining(entry))

	updated := entry
	updated.Amount = entry.Amount.Add(tpp)

	return Split{
		Customer:  price.Sub(tpp),
		TPP:       tpp,
		Consumed:  tpp,
		Exhausted: f.IsExhausted(updated),
	}, updated, nil
}
