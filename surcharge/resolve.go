package surcharge

import (
	"github.com/warp/care-billing/generic"
)

// Overlap is the number of minutes of an event covered by one band.
type Overlap struct {
	BandName   string          `json:"band_name"`
	Percentage generic.Decimal `json:"percentage"`
	Minutes    generic.Decimal `json:"minutes"`
}

// Resolve returns, for each band of the policy with a positive overlap, how
// many minutes of the interval it covers. Days and clock windows are read
// in the interval's own location. An empty interval yields no overlaps.
func Resolve(iv generic.Interval, policy Policy, cal generic.HolidayCalendar) []Overlap {
	if iv.IsEmpty() {
		return nil
	}
	if cal == nil {
		cal = generic.NoHolidays{}
	}

	var overlaps []Overlap
	for _, band := range policy.Bands {
		minutes := bandMinutes(iv, band, cal)
		if !minutes.IsPositive() {
			continue
		}
		overlaps = append(overlaps, Overlap{
			BandName:   band.Name,
			Percentage: band.Percentage,
			Minutes:    minutes,
		})
	}
	return overlaps
}

func bandMinutes(iv generic.Interval, band Band, cal generic.HolidayCalendar) generic.Decimal {
	total := generic.Zero
	for day := generic.StartOfDay(iv.Start); day.Before(iv.End); day = generic.NextDay(day) {
		if band.Day != nil && !band.Day.Matches(day, cal) {
			continue
		}
		portion := iv.Intersect(generic.Interval{Start: day, End: generic.NextDay(day)})
		if portion.IsEmpty() {
			continue
		}
		if band.Window == nil {
			total = total.Add(portion.Minutes())
			continue
		}
		for _, r := range band.Window.ranges(day) {
			total = total.Add(portion.Intersect(r).Minutes())
		}
	}
	return total
}

// Multiplier blends the overlaps into one price factor:
//
//	1 + Σ(percentage/100 × minutes/totalMinutes)
//
// A band covering the whole event contributes its full percentage. With no
// overlaps the multiplier is 1.
func Multiplier(overlaps []Overlap, totalMinutes generic.Decimal) (generic.Decimal, error) {
	m := generic.One
	for _, o := range overlaps {
		weighted, err := o.Percentage.Mul(o.Minutes).Div(generic.Hundred.Mul(totalMinutes))
		if err != nil {
			return generic.Decimal{}, err
		}
		m = m.Add(weighted)
	}
	return m, nil
}
