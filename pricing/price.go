package pricing

import (
	"fmt"

	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/surcharge"
)

// =============================================================================
// OUTPUT
// =============================================================================

type Portion struct {
	ExclTax generic.Decimal `json:"excl_tax"`
	InclTax generic.Decimal `json:"incl_tax"`
}

var zeroPortion = Portion{ExclTax: generic.Zero, InclTax: generic.Zero}

func (p Portion) IsZero() bool { return p.InclTax.IsZero() && p.ExclTax.IsZero() }

func (p Portion) Add(o Portion) Portion {
	return Portion{ExclTax: p.ExclTax.Add(o.ExclTax), InclTax: p.InclTax.Add(o.InclTax)}
}

// TPPPortion is the third-party payer's share of an event.
type TPPPortion struct {
	Portion
	ThirdPartyPayerID generic.ThirdPartyPayerID `json:"third_party_payer_id"`
	FundingID         generic.FundingID         `json:"funding_id"`
	FundingNature     generic.Nature            `json:"funding_nature"`
	// Consumed is hours for HOURLY fundings, money for FIXED ones. It can be
	// non-zero with a zero amount when the customer participation is 100%.
	Consumed generic.Decimal `json:"consumed"`
	// Exhausted is true when this event used up the funding's budget.
	Exhausted bool `json:"exhausted"`
}

type PricedEvent struct {
	EventID    generic.EventID     `json:"event_id"`
	Minutes    generic.Decimal     `json:"minutes"`
	Cancelled  bool                `json:"cancelled"`
	Nature     generic.Nature      `json:"nature"`
	VATRate    generic.Decimal     `json:"vat_rate"`
	Customer   Portion             `json:"customer"`
	TPP        *TPPPortion         `json:"tpp,omitempty"`
	Surcharges []surcharge.Overlap `json:"surcharges,omitempty"`
	Multiplier generic.Decimal     `json:"multiplier"`
}

// Total is the full price of the event, both shares together.
func (p PricedEvent) Total() Portion {
	if p.TPP == nil {
		return p.Customer
	}
	return p.Customer.Add(p.TPP.Portion)
}

// =============================================================================
// INPUT
// =============================================================================

// Input is everything needed to price one event. Surcharge, Funding and
// Entry are optional; Entry is required whenever Funding is set.
type Input struct {
	Event     generic.Event
	Version   ServiceVersion
	Surcharge *surcharge.Policy
	Funding   *funding.Funding
	Entry     *funding.History
	Calendar  generic.HolidayCalendar
}

// =============================================================================
// PRICE EVENT
// =============================================================================

// PriceEvent prices one event. When a funding is applied, the updated
// ledger entry is returned; it is nil otherwise.
func PriceEvent(in Input) (PricedEvent, *funding.History, error) {
	ev := in.Event
	iv := ev.Interval()
	out := PricedEvent{
		EventID:    ev.ID,
		Minutes:    iv.Minutes(),
		Cancelled:  ev.IsCancelled,
		Nature:     in.Version.Nature,
		VATRate:    in.Version.VATRate,
		Customer:   zeroPortion,
		Multiplier: generic.One,
	}

	if ev.IsCancelled {
		return out, nil, nil
	}

	price, err := basePrice(in.Version, out.Minutes)
	if err != nil {
		return PricedEvent{}, nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	if in.Surcharge != nil && in.Version.Nature == generic.NatureHourly {
		out.Surcharges = surcharge.Resolve(iv, *in.Surcharge, in.Calendar)
		out.Multiplier, err = surcharge.Multiplier(out.Surcharges, out.Minutes)
		if err != nil {
			return PricedEvent{}, nil, fmt.Errorf("event %s: surcharge: %w", ev.ID, err)
		}
		price = price.Mul(out.Multiplier)
	}

	if in.Funding == nil {
		out.Customer, err = portion(price, in.Version.VATRate)
		if err != nil {
			return PricedEvent{}, nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		return out, nil, nil
	}

	if in.Entry == nil {
		return PricedEvent{}, nil, fmt.Errorf("event %s: %w", ev.ID,
			&generic.MissingLedgerEntryError{FundingID: in.Funding.ID, Month: in.Funding.PeriodKey(ev.Start)})
	}
	split, updated, err := funding.Apply(iv, *in.Funding, *in.Entry, price)
	if err != nil {
		return PricedEvent{}, nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	if out.Customer, err = portion(split.Customer, in.Version.VATRate); err != nil {
		return PricedEvent{}, nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	// A zero share can still consume budget (100% participation), so the
	// portion is kept whenever the ledger moved.
	if !split.TPP.IsZero() || !split.Consumed.IsZero() {
		tpp, err := portion(split.TPP, in.Version.VATRate)
		if err != nil {
			return PricedEvent{}, nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		out.TPP = &TPPPortion{
			Portion:           tpp,
			ThirdPartyPayerID: in.Funding.ThirdPartyPayerID,
			FundingID:         in.Funding.ID,
			FundingNature:     in.Funding.Nature,
			Consumed:          split.Consumed,
			Exhausted:         split.Exhausted,
		}
	}
	return out, &updated, nil
}

func basePrice(v ServiceVersion, minutes generic.Decimal) (generic.Decimal, error) {
	if v.Nature == generic.NatureFixed {
		return v.UnitPrice, nil
	}
	return v.UnitPrice.Mul(minutes).Div(generic.Sixty)
}

// ExclTax converts a tax-included amount: incl / (1 + vat/100).
func ExclTax(incl, vatRate generic.Decimal) (generic.Decimal, error) {
	return incl.Mul(generic.Hundred).Div(generic.Hundred.Add(vatRate))
}

func portion(incl, vatRate generic.Decimal) (Portion, error) {
	excl, err := ExclTax(incl, vatRate)
	if err != nil {
		return Portion{}, err
	}
	return Portion{ExclTax: excl, InclTax: incl}, nil
}
