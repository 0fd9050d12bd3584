/*
Package surcharge resolves which surcharge bands apply to a care event.

PURPOSE:
  Care delivered on Sundays, public holidays or late in the evening costs
  more. A surcharge policy is a list of bands; each band names a
  percentage and the part of the calendar it covers. This package works out
  how many minutes of an event fall in each band and blends them into one
  price multiplier.

KEY CONCEPTS:
  - Band: a percentage plus an optional day rule and an optional clock window
  - DayRule: which calendar days match (a weekday, a month/day, public holidays)
  - ClockWindow: local wall-clock range, possibly crossing midnight (20:00-08:00)
  - Overlap: minutes of an event inside one band

BAND SHAPES:
  Day rule only      -> the part of the event on matching days
  Window only        -> the part of the event inside the window, every day
  Day rule + window  -> minutes inside the window on matching days only
  Neither            -> the whole event

SEE ALSO:
  - resolve.go: Resolve and Multiplier
  - presets.go: Common bands (Sunday, evening, Christmas...)
  - generic/time.go: HolidayCalendar
*/
package surcharge

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/care-billing/generic"
)

// =============================================================================
// POLICY
// =============================================================================

type Policy struct {
	ID    generic.SurchargePolicyID `json:"id"`
	Name  string                    `json:"name"`
	Bands []Band                    `json:"bands"`
}

func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("surcharge policy: id is required")
	}
	for i, b := range p.Bands {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("surcharge policy %s: band %d: %w", p.ID, i, err)
		}
	}
	return nil
}

// =============================================================================
// BAND
// =============================================================================

type Band struct {
	Name       string          `json:"name"`
	Percentage generic.Decimal `json:"percentage"`
	Day        *DayRule        `json:"day,omitempty"`
	Window     *ClockWindow    `json:"window,omitempty"`
}

func (b Band) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if b.Percentage.IsNegative() {
		return fmt.Errorf("%s: percentage must not be negative", b.Name)
	}
	if b.Day != nil {
		if err := b.Day.Validate(); err != nil {
			return fmt.Errorf("%s: %w", b.Name, err)
		}
	}
	if b.Window != nil {
		if err := b.Window.Validate(); err != nil {
			return fmt.Errorf("%s: %w", b.Name, err)
		}
	}
	return nil
}

// =============================================================================
// DAY RULE
// =============================================================================

type DayKind string

const (
	DayWeekday       DayKind = "weekday"        // every given weekday
	DayDate          DayKind = "date"           // a month/day, every year
	DayPublicHoliday DayKind = "public_holiday" // per the holiday calendar
)

type DayRule struct {
	Kind    DayKind      `json:"kind"`
	Weekday time.Weekday `json:"weekday,omitempty"`
	Month   time.Month   `json:"month,omitempty"`
	Day     int          `json:"day,omitempty"`
}

func (r DayRule) Validate() error {
	switch r.Kind {
	case DayWeekday:
		if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
			return fmt.Errorf("invalid weekday %d", r.Weekday)
		}
	case DayDate:
		if r.Month < time.January || r.Month > time.December || r.Day < 1 || r.Day > 31 {
			return fmt.Errorf("invalid date %d/%d", r.Day, r.Month)
		}
	case DayPublicHoliday:
	default:
		return fmt.Errorf("unknown day rule kind %q", r.Kind)
	}
	return nil
}

// Matches reports whether the calendar day containing day satisfies the rule.
func (r DayRule) Matches(day time.Time, cal generic.HolidayCalendar) bool {
	switch r.Kind {
	case DayWeekday:
		return day.Weekday() == r.Weekday
	case DayDate:
		return day.Month() == r.Month && day.Day() == r.Day
	case DayPublicHoliday:
		return cal != nil && cal.IsHoliday(day)
	}
	return false
}

// =============================================================================
// CLOCK WINDOW
// =============================================================================

// ClockWindow is a local wall-clock range in minutes after midnight.
// Start > End means the window crosses midnight.
type ClockWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

const minutesPerDay = 24 * 60

// ParseClockWindow builds a window from "HH:MM" bounds.
func ParseClockWindow(start, end string) (ClockWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return ClockWindow{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return ClockWindow{}, err
	}
	w := ClockWindow{Start: s, End: e}
	return w, w.Validate()
}

func (w ClockWindow) Validate() error {
	if w.Start < 0 || w.Start >= minutesPerDay || w.End < 0 || w.End > minutesPerDay {
		return fmt.Errorf("clock window out of range: %d-%d", w.Start, w.End)
	}
	if w.Start == w.End {
		return fmt.Errorf("clock window is empty: %s", w)
	}
	return nil
}

func (w ClockWindow) CrossesMidnight() bool { return w.Start > w.End }

func (w ClockWindow) String() string {
	return formatClock(w.Start) + "-" + formatClock(w.End)
}

// ranges returns the window's intervals on the given local day.
// A window crossing midnight yields [00:00, End) and [Start, 24:00).
func (w ClockWindow) ranges(day time.Time) []generic.Interval {
	at := func(minutes int) time.Time {
		if minutes >= minutesPerDay {
			return generic.NextDay(day)
		}
		return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
	}
	if !w.CrossesMidnight() {
		return []generic.Interval{{Start: at(w.Start), End: at(w.End)}}
	}
	return []generic.Interval{
		{Start: at(0), End: at(w.End)},
		{Start: at(w.Start), End: at(minutesPerDay)},
	}
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid clock time %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock time %q: bad minute", s)
	}
	return h*60 + m, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
