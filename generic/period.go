package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The scope of a billing run
// =============================================================================

// Period is the nominal billing window [Start, End]. An event is in scope
// when it starts inside the window. The period start reported on a draft
// line is the earliest event start, which can precede Start for events
// billed retroactively.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidPeriod)
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s is before %s", ErrInvalidPeriod,
			p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t lies in [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Months returns the month keys the period touches, in order.
func (p Period) Months() []string {
	var keys []string
	end := StartOfMonth(p.End)
	for m := StartOfMonth(p.Start); !m.After(end); m = m.AddDate(0, 1, 0) {
		keys = append(keys, MonthKey(m))
	}
	return keys
}

func (p Period) In(loc *time.Location) Period {
	if loc == nil {
		return p
	}
	return Period{Start: p.Start.In(loc), End: p.End.In(loc)}
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + "]"
}

// MonthPeriod returns the calendar month containing t, in t's location,
// up to its last nanosecond.
func MonthPeriod(t time.Time) Period {
	start := StartOfMonth(t)
	return Period{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)}
}

// DatePeriod covers the calendar days from first to last, both inclusive.
func DatePeriod(first, last time.Time) Period {
	return Period{Start: StartOfDay(first), End: NextDay(last).Add(-time.Nanosecond)}
}
