package funding

import (
	"time"

	"github.com/warp/care-billing/generic"
)

// Match returns the funding covering an event of the subscription that
// starts at the given instant. When several fundings are active the most
// recently started one wins, like service versions.
func Match(fundings []Funding, sub generic.SubscriptionID, at time.Time) (Funding, bool) {
	var candidates []Funding
	for _, f := range fundings {
		if f.SubscriptionID == sub && f.IsActive(at) {
			candidates = append(candidates, f)
		}
	}
	return generic.AsOf(at, candidates)
}
