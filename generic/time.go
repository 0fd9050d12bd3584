package generic

import (
	"time"
)

// =============================================================================
// MONTH KEYS - Ledger scope for monthly fundings
// =============================================================================

const monthLayout = "2006-01"

// MonthKey returns the "YYYY-MM" key of the calendar month containing t,
// evaluated in t's own location.
func MonthKey(t time.Time) string { return t.Format(monthLayout) }

// ParseMonthKey parses a "YYYY-MM" key in loc.
func ParseMonthKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(monthLayout, key, loc)
}

func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// StartOfDay returns local midnight of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextDay returns local midnight of the following day. On DST transitions
// the day is 23 or 25 hours long, which is why this is not t.Add(24h).
func NextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

func IsSameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// =============================================================================
// HOLIDAY CALENDAR - Public holidays for surcharge rules
// =============================================================================

// Holiday is a public holiday. Recurring holidays match the same month/day
// every year.
type Holiday struct {
	Date      time.Time
	Name      string
	Recurring bool
}

// HolidayCalendar answers whether a calendar day is a public holiday.
type HolidayCalendar interface {
	IsHoliday(day time.Time) bool
}

// NoHolidays is the calendar used when holiday surcharges are disabled.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(time.Time) bool { return false }

// StaticCalendar is a fixed list of holidays.
type StaticCalendar struct {
	Holidays []Holiday
}

func (c StaticCalendar) IsHoliday(day time.Time) bool {
	for _, h := range c.Holidays {
		if h.Recurring {
			if h.Date.Month() == day.Month() && h.Date.Day() == day.Day() {
				return true
			}
			continue
		}
		if IsSameDay(h.Date, day) {
			return true
		}
	}
	return false
}

// FrenchCalendar knows the eleven French public holidays, including the
// movable feasts derived from Easter.
type FrenchCalendar struct{}

func (FrenchCalendar) IsHoliday(day time.Time) bool {
	switch {
	case day.Month() == time.January && day.Day() == 1,
		day.Month() == time.May && day.Day() == 1,
		day.Month() == time.May && day.Day() == 8,
		day.Month() == time.July && day.Day() == 14,
		day.Month() == time.August && day.Day() == 15,
		day.Month() == time.November && day.Day() == 1,
		day.Month() == time.November && day.Day() == 11,
		day.Month() == time.December && day.Day() == 25:
		return true
	}

	easter := EasterSunday(day.Year(), day.Location())
	for _, offset := range []int{1, 39, 50} { // Easter Monday, Ascension, Whit Monday
		if IsSameDay(day, easter.AddDate(0, 0, offset)) {
			return true
		}
	}
	return false
}

// EasterSunday computes Gregorian Easter (anonymous Gregorian algorithm).
func EasterSunday(year int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	dayOfMonth := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), dayOfMonth, 0, 0, 0, 0, loc)
}
