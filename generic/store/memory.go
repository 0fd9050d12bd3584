// Package store provides an in-memory implementation of the billing sources.
package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
	"github.com/warp/care-billing/surcharge"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	customers     map[generic.CustomerID]billing.Customer
	subscriptions map[generic.SubscriptionID]billing.Subscription
	services      map[generic.ServiceID]pricing.Service
	policies      map[generic.SurchargePolicyID]surcharge.Policy
	items         map[generic.BillingItemID]billing.BillingItem
	fundings      map[generic.FundingID]funding.Funding
	histories     map[historyKey]funding.History
	events        map[generic.CustomerID][]generic.Event
	billed        map[generic.EventID]string // event id -> run id
}

type historyKey struct {
	FundingID generic.FundingID
	Month     string
}

func NewMemory() *Memory {
	return &Memory{
		customers:     make(map[generic.CustomerID]billing.Customer),
		subscriptions: make(map[generic.SubscriptionID]billing.Subscription),
		services:      make(map[generic.ServiceID]pricing.Service),
		policies:      make(map[generic.SurchargePolicyID]surcharge.Policy),
		items:         make(map[generic.BillingItemID]billing.BillingItem),
		fundings:      make(map[generic.FundingID]funding.Funding),
		histories:     make(map[historyKey]funding.History),
		events:        make(map[generic.CustomerID][]generic.Event),
		billed:        make(map[generic.EventID]string),
	}
}

// =============================================================================
// WRITES
// =============================================================================

// Import upserts every record of the catalog.
func (m *Memory) Import(_ context.Context, c billing.Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, x := range c.Customers {
		m.customers[x.ID] = x
	}
	for _, x := range c.Subscriptions {
		m.subscriptions[x.ID] = x
	}
	for _, x := range c.Services {
		m.services[x.ID] = x
	}
	for _, x := range c.SurchargePolicies {
		m.policies[x.ID] = x
	}
	for _, x := range c.BillingItems {
		m.items[x.ID] = x
	}
	for _, x := range c.Fundings {
		m.fundings[x.ID] = x
	}
	for _, h := range c.Histories {
		m.histories[historyKey{h.FundingID, h.Month}] = h
	}
	return nil
}

// AddEvents stores events, replacing any with the same id.
func (m *Memory) AddEvents(_ context.Context, events []generic.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range events {
		list := slices.DeleteFunc(m.events[ev.CustomerID], func(e generic.Event) bool { return e.ID == ev.ID })
		m.events[ev.CustomerID] = append(list, ev)
	}
	return nil
}

// SaveHistories upserts funding ledger entries by (funding, month).
func (m *Memory) SaveHistories(_ context.Context, histories []funding.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range histories {
		m.histories[historyKey{h.FundingID, h.Month}] = h
	}
	return nil
}

// MarkBilled records that a confirmed run billed the events. Nothing is
// marked if any of them was already billed.
func (m *Memory) MarkBilled(_ context.Context, runID string, ids []generic.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if prev, ok := m.billed[id]; ok {
			return fmt.Errorf("event %s billed by run %s: %w", id, prev, generic.ErrAlreadyBilled)
		}
	}
	for _, id := range ids {
		m.billed[id] = runID
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Events returns the customer's unbilled events starting on or before the
// period end.
func (m *Memory) Events(_ context.Context, customer generic.CustomerID, period generic.Period) ([]generic.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []generic.Event
	for _, ev := range m.events[customer] {
		if _, done := m.billed[ev.ID]; done || ev.Start.After(period.End) {
			continue
		}
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b generic.Event) int {
		return cmp.Or(a.Start.Compare(b.Start), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) Customers(_ context.Context, ids []generic.CustomerID) ([]billing.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(ids) == 0 {
		out := make([]billing.Customer, 0, len(m.customers))
		for _, c := range m.customers {
			out = append(out, c)
		}
		slices.SortFunc(out, func(a, b billing.Customer) int { return cmp.Compare(a.ID, b.ID) })
		return out, nil
	}

	out := make([]billing.Customer, 0, len(ids))
	for _, id := range ids {
		c, ok := m.customers[id]
		if !ok {
			return nil, fmt.Errorf("customer %s: %w", id, generic.ErrNotFound)
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) Subscriptions(_ context.Context, customer generic.CustomerID) ([]billing.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.Subscription
	for _, s := range m.subscriptions {
		if s.CustomerID == customer {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b billing.Subscription) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) Service(_ context.Context, id generic.ServiceID) (pricing.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.services[id]
	if !ok {
		return pricing.Service{}, fmt.Errorf("service %s: %w", id, generic.ErrNotFound)
	}
	return s, nil
}

func (m *Memory) SurchargePolicy(_ context.Context, id generic.SurchargePolicyID) (surcharge.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[id]
	if !ok {
		return surcharge.Policy{}, fmt.Errorf("surcharge policy %s: %w", id, generic.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) BillingItems(_ context.Context, ids []generic.BillingItemID) ([]billing.BillingItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]billing.BillingItem, 0, len(ids))
	for _, id := range ids {
		it, ok := m.items[id]
		if !ok {
			return nil, fmt.Errorf("billing item %s: %w", id, generic.ErrNotFound)
		}
		out = append(out, it)
	}
	return out, nil
}

func (m *Memory) Fundings(_ context.Context, sub generic.SubscriptionID) ([]funding.Funding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []funding.Funding
	for _, f := range m.fundings {
		if f.SubscriptionID == sub {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b funding.Funding) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) Histories(_ context.Context, fundings []generic.FundingID) ([]funding.History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []funding.History
	for _, h := range m.histories {
		if slices.Contains(fundings, h.FundingID) {
			out = append(out, h)
		}
	}
	funding.SortHistories(out)
	return out, nil
}

// FundingHistories returns every ledger entry of one funding.
func (m *Memory) FundingHistories(ctx context.Context, id generic.FundingID) ([]funding.History, error) {
	return m.Histories(ctx, []generic.FundingID{id})
}
