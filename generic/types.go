/*
Package generic provides the building blocks shared by every billing component.

PURPOSE:
  This package contains the domain-agnostic types the draft billing engine is
  built from: exact decimals, typed identifiers, the calendar event being
  billed, time intervals and month keys, temporal "as-of" lookup and the
  error taxonomy. It has no knowledge of surcharges, fundings or bills.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: Type-safe IDs so a funding ID is never passed as a customer ID
  - Nature: HOURLY (priced per hour) or FIXED (flat price per event)
  - Event: One care intervention, read-only input to the engine
  - Interval: A half-open [Start, End) time range

DESIGN PRINCIPLES:
  1. Precision: Money and quantities are Decimal, never float64
  2. Immutability: Events are values; the engine never mutates its input
  3. Type Safety: Strong typing for IDs prevents mixing entities

USAGE:
  ev := generic.Event{
      ID:             "evt-1",
      Start:          time.Date(2025, 3, 2, 9, 0, 0, 0, paris),
      End:            time.Date(2025, 3, 2, 11, 0, 0, 0, paris),
      CustomerID:     "cus-1",
      SubscriptionID: "sub-1",
  }
  minutes := ev.Interval().Minutes() // 120

SEE ALSO:
  - decimal.go: Exact arithmetic
  - time.go: Month keys and holiday calendars
  - version.go: As-of lookup over versioned records
  - errors.go: Sentinel and structured errors
*/
package generic

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type SubscriptionID string
type ServiceID string
type FundingID string
type ThirdPartyPayerID string
type EventID string
type AuxiliaryID string
type BillingItemID string
type SurchargePolicyID string

// =============================================================================
// NATURE - How a service or a funding is priced
// =============================================================================

type Nature string

const (
	NatureHourly Nature = "hourly" // Priced per hour of care
	NatureFixed  Nature = "fixed"  // Flat price per event, regardless of duration
)

func (n Nature) Valid() bool { return n == NatureHourly || n == NatureFixed }

// =============================================================================
// EVENT - One care intervention to bill
// =============================================================================

// Event is a calendar intervention supplied by the event repository.
// The engine reads it and never modifies it.
type Event struct {
	ID             EventID
	Start          time.Time
	End            time.Time
	CustomerID     CustomerID
	SubscriptionID SubscriptionID
	AuxiliaryID    AuxiliaryID
	IsCancelled    bool
}

func (e Event) Interval() Interval { return Interval{Start: e.Start, End: e.End} }

// In returns a copy of the event with its instants expressed in loc.
// Surcharge rules are evaluated on local wall-clock time.
func (e Event) In(loc *time.Location) Event {
	if loc == nil {
		return e
	}
	e.Start = e.Start.In(loc)
	e.End = e.End.In(loc)
	return e
}

// =============================================================================
// INTERVAL - Half-open time range
// =============================================================================

type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }
func (i Interval) IsEmpty() bool           { return !i.End.After(i.Start) }

// Minutes returns the length in minutes, or Zero for an empty interval.
func (i Interval) Minutes() Decimal {
	if i.IsEmpty() {
		return Zero
	}
	return MinutesOf(i.Duration())
}

// Intersect returns the overlap of two intervals (possibly empty).
func (i Interval) Intersect(o Interval) Interval {
	start := i.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := i.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return Interval{Start: start, End: start}
	}
	return Interval{Start: start, End: end}
}
