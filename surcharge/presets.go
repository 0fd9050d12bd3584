package surcharge

import (
	"time"

	"github.com/warp/care-billing/generic"
)

// =============================================================================
// PRESET BANDS - The surcharges home-care providers usually configure
// =============================================================================

func WeekdayBand(name string, wd time.Weekday, pct generic.Decimal) Band {
	return Band{Name: name, Percentage: pct, Day: &DayRule{Kind: DayWeekday, Weekday: wd}}
}

func SaturdayBand(pct generic.Decimal) Band { return WeekdayBand("saturday", time.Saturday, pct) }
func SundayBand(pct generic.Decimal) Band   { return WeekdayBand("sunday", time.Sunday, pct) }

func DateBand(name string, month time.Month, day int, pct generic.Decimal) Band {
	return Band{Name: name, Percentage: pct, Day: &DayRule{Kind: DayDate, Month: month, Day: day}}
}

func ChristmasBand(pct generic.Decimal) Band {
	return DateBand("twenty_fifth_of_december", time.December, 25, pct)
}

func FirstOfMayBand(pct generic.Decimal) Band {
	return DateBand("first_of_may", time.May, 1, pct)
}

func PublicHolidayBand(pct generic.Decimal) Band {
	return Band{Name: "public_holiday", Percentage: pct, Day: &DayRule{Kind: DayPublicHoliday}}
}

// EveningBand surcharges the minutes between start and end every day,
// e.g. EveningBand(pct, "20:00", "08:00").
func EveningBand(pct generic.Decimal, start, end string) (Band, error) {
	w, err := ParseClockWindow(start, end)
	if err != nil {
		return Band{}, err
	}
	return Band{Name: "evening", Percentage: pct, Window: &w}, nil
}
