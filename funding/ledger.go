package funding

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/warp/care-billing/generic"
)

type entryKey struct {
	funding generic.FundingID
	month   string
}

// Ledger is the set of funding entries visible to a billing run. It is a
// value: With and Seed return a new ledger and leave the receiver intact,
// so the order in which events consume a budget is explicit in the code
// that threads the ledger through them.
type Ledger struct {
	entries map[entryKey]History
}

func NewLedger(histories ...History) Ledger {
	entries := make(map[entryKey]History, len(histories))
	for _, h := range histories {
		entries[entryKey{h.FundingID, h.Month}] = h
	}
	return Ledger{entries: entries}
}

// Entry returns the entry an event at the given instant consumes from.
func (l Ledger) Entry(f Funding, at time.Time) (History, error) {
	key := entryKey{f.ID, f.PeriodKey(at)}
	h, ok := l.entries[key]
	if !ok {
		return History{}, &generic.MissingLedgerEntryError{FundingID: f.ID, Month: key.month}
	}
	return h, nil
}

func (l Ledger) Has(f Funding, at time.Time) bool {
	_, ok := l.entries[entryKey{f.ID, f.PeriodKey(at)}]
	return ok
}

// Seed returns a ledger holding a zero entry for the funding's period at
// the given instant, unless one already exists.
func (l Ledger) Seed(f Funding, at time.Time) Ledger {
	if l.Has(f, at) {
		return l
	}
	return l.With(History{
		FundingID: f.ID,
		Month:     f.PeriodKey(at),
		CareHours: generic.Zero,
		Amount:    generic.Zero,
	})
}

// With returns a ledger where h replaces the entry with the same key.
func (l Ledger) With(h History) Ledger {
	entries := maps.Clone(l.entries)
	if entries == nil {
		entries = make(map[entryKey]History, 1)
	}
	entries[entryKey{h.FundingID, h.Month}] = h
	return Ledger{entries: entries}
}

func (l Ledger) Len() int { return len(l.entries) }

// Histories returns every entry sorted by funding then month.
func (l Ledger) Histories() []History {
	out := slices.Collect(maps.Values(l.entries))
	SortHistories(out)
	return out
}

func SortHistories(hs []History) {
	slices.SortFunc(hs, func(a, b History) int {
		return cmp.Or(cmp.Compare(a.FundingID, b.FundingID), cmp.Compare(a.Month, b.Month))
	})
}
