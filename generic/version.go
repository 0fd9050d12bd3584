/*
version.go - Temporal "as-of" lookup over versioned records

PURPOSE:
  Services change price over time. A service keeps an ordered list of
  versions, each effective from a start date, and an event is priced with
  the version in force when it starts. Versions are never mutated; a price
  change appends a new version.

RULE:
  AsOf returns the version with the latest EffectiveFrom that is not after
  the given instant. When two versions share the same start date, the one
  that appears last in the slice wins. When no version qualifies the second
  return value is false and callers surface an error; nothing is defaulted.

SEE ALSO:
  - pricing/service.go: Service.VersionAsOf
  - funding/match.go: the same rule applied to fundings
*/
package generic

import "time"

// Versioned is anything effective from a point in time.
type Versioned interface {
	EffectiveFrom() time.Time
}

// AsOf returns the version in force at the given instant.
func AsOf[T Versioned](at time.Time, versions []T) (T, bool) {
	var (
		best  T
		found bool
	)
	for _, v := range versions {
		from := v.EffectiveFrom()
		if from.After(at) {
			continue
		}
		if !found || !from.Before(best.EffectiveFrom()) {
			best = v
			found = true
		}
	}
	return best, found
}
