package billing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
	"github.com/warp/care-billing/surcharge"
)

// =============================================================================
// SOURCES - What the run reads and writes
// =============================================================================

// EventSource supplies the events to bill. Implementations return the
// customer's events not yet billed by a confirmed run that start on or
// before the period end. Earlier unbilled events are billed retroactively.
type EventSource interface {
	Events(ctx context.Context, customer generic.CustomerID, period generic.Period) ([]generic.Event, error)
}

// CatalogSource supplies reference data. Lookups by id of a missing record
// fail with an error wrapping generic.ErrNotFound.
type CatalogSource interface {
	// Customers returns the given customers, or all of them when ids is empty.
	Customers(ctx context.Context, ids []generic.CustomerID) ([]Customer, error)
	Subscriptions(ctx context.Context, customer generic.CustomerID) ([]Subscription, error)
	Service(ctx context.Context, id generic.ServiceID) (pricing.Service, error)
	SurchargePolicy(ctx context.Context, id generic.SurchargePolicyID) (surcharge.Policy, error)
	BillingItems(ctx context.Context, ids []generic.BillingItemID) ([]BillingItem, error)
	Fundings(ctx context.Context, sub generic.SubscriptionID) ([]funding.Funding, error)
	Histories(ctx context.Context, fundings []generic.FundingID) ([]funding.History, error)
}

// HistoryWriter persists funding ledger entries updated by a run.
type HistoryWriter interface {
	SaveHistories(ctx context.Context, histories []funding.History) error
}

// Observer is notified of run activity. metrics.Collector implements it.
type Observer interface {
	EventPriced(nature generic.Nature)
	FundingExhausted(nature generic.Nature)
	CustomerFailed()
	RunFinished(result string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) EventPriced(generic.Nature)        {}
func (noopObserver) FundingExhausted(generic.Nature)   {}
func (noopObserver) CustomerFailed()                   {}
func (noopObserver) RunFinished(string, time.Duration) {}

// =============================================================================
// OPTIONS
// =============================================================================

// FailurePolicy decides what a customer failure does to the run.
type FailurePolicy string

const (
	// SkipCustomer records the failure and keeps billing other customers.
	SkipCustomer FailurePolicy = "skip"
	// AbortRun fails the whole run on the first customer error.
	AbortRun FailurePolicy = "abort"
)

func (p FailurePolicy) Valid() bool { return p == SkipCustomer || p == AbortRun }

// Run results reported to the Observer.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultError   = "error"
)

type Option func(*Assembler)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assembler) { a.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(a *Assembler) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithWorkers bounds how many customers are billed concurrently.
func WithWorkers(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.workers = n
		}
	}
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(a *Assembler) {
		if p.Valid() {
			a.onError = p
		}
	}
}

// WithLocation sets the time zone surcharge days and windows are read in.
func WithLocation(loc *time.Location) Option {
	return func(a *Assembler) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func WithCalendar(cal generic.HolidayCalendar) Option {
	return func(a *Assembler) {
		if cal != nil {
			a.calendar = cal
		}
	}
}

// WithIDGenerator overrides how draft line ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(a *Assembler) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler runs draft billing for a set of customers over a period.
type Assembler struct {
	events   EventSource
	catalog  CatalogSource
	logger   zerolog.Logger
	observer Observer
	workers  int
	onError  FailurePolicy
	loc      *time.Location
	calendar generic.HolidayCalendar
	newID    func() string
}

func NewAssembler(events EventSource, catalog CatalogSource, opts ...Option) *Assembler {
	a := &Assembler{
		events:   events,
		catalog:  catalog,
		logger:   zerolog.Nop(),
		observer: noopObserver{},
		workers:  4,
		onError:  SkipCustomer,
		loc:      time.UTC,
		calendar: generic.NoHolidays{},
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Request scopes a run. An empty CustomerIDs bills every customer.
type Request struct {
	Period      generic.Period
	CustomerIDs []generic.CustomerID
}

type customerResult struct {
	bill      CustomerDraftBill
	histories []funding.History
	events    []generic.EventID
	failure   *Failure
}

// Run computes the draft bills of every customer in scope. Customers are
// billed concurrently; the subscriptions of one customer are billed one
// after the other, each funding's events in start order.
func (a *Assembler) Run(ctx context.Context, req Request) (DraftBills, error) {
	started := time.Now()
	if err := req.Period.Validate(); err != nil {
		return DraftBills{}, err
	}
	period := req.Period.In(a.loc)

	customers, err := a.catalog.Customers(ctx, req.CustomerIDs)
	if err != nil {
		a.observer.RunFinished(ResultError, time.Since(started))
		return DraftBills{}, fmt.Errorf("load customers: %w", err)
	}

	a.logger.Info().
		Time("start", period.Start).
		Time("end", period.End).
		Int("customers", len(customers)).
		Msg("draft bill run started")

	results := make([]customerResult, len(customers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, c := range customers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := a.billCustomer(gctx, c, period)
			if err == nil {
				results[i] = res
				return nil
			}
			if a.onError == AbortRun || errors.Is(err, context.Canceled) {
				return fmt.Errorf("customer %s: %w", c.ID, err)
			}
			a.observer.CustomerFailed()
			a.logger.Warn().Err(err).Str("customer_id", string(c.ID)).Msg("customer skipped")
			results[i] = customerResult{failure: &Failure{CustomerID: c.ID, Error: err.Error()}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.observer.RunFinished(ResultError, time.Since(started))
		a.logger.Error().Err(err).Msg("draft bill run aborted")
		return DraftBills{}, err
	}

	out := DraftBills{Period: period, Bills: []CustomerDraftBill{}, Histories: []funding.History{}, EventIDs: []generic.EventID{}}
	for _, r := range results {
		if r.failure != nil {
			out.Failures = append(out.Failures, *r.failure)
			continue
		}
		if !r.bill.IsEmpty() {
			out.Bills = append(out.Bills, r.bill)
		}
		out.Histories = append(out.Histories, r.histories...)
		out.EventIDs = append(out.EventIDs, r.events...)
	}
	funding.SortHistories(out.Histories)
	slices.Sort(out.EventIDs)

	result := ResultOK
	if len(out.Failures) > 0 {
		result = ResultPartial
	}
	elapsed := time.Since(started)
	a.observer.RunFinished(result, elapsed)
	a.logger.Info().
		Int("bills", len(out.Bills)).
		Int("failures", len(out.Failures)).
		Int("histories", len(out.Histories)).
		Int("events", len(out.EventIDs)).
		Dur("elapsed", elapsed).
		Msg("draft bill run finished")

	return out, nil
}

// =============================================================================
// PER CUSTOMER
// =============================================================================

func (a *Assembler) billCustomer(ctx context.Context, c Customer, period generic.Period) (customerResult, error) {
	res := customerResult{bill: CustomerDraftBill{CustomerID: c.ID}}
	bill := &res.bill

	events, err := a.events.Events(ctx, c.ID, period)
	if err != nil {
		return customerResult{}, fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		return res, nil
	}
	subs, err := a.catalog.Subscriptions(ctx, c.ID)
	if err != nil {
		return customerResult{}, fmt.Errorf("load subscriptions: %w", err)
	}

	bySub := make(map[generic.SubscriptionID][]generic.Event)
	for _, ev := range events {
		bySub[ev.SubscriptionID] = append(bySub[ev.SubscriptionID], ev.In(a.loc))
	}
	for id := range bySub {
		if !slices.ContainsFunc(subs, func(s Subscription) bool { return s.ID == id }) {
			return customerResult{}, fmt.Errorf("subscription %s of customer %s: %w", id, c.ID, generic.ErrNotFound)
		}
	}

	payerIndex := make(map[generic.ThirdPartyPayerID]int)
	for _, sub := range subs {
		evs := bySub[sub.ID]
		if len(evs) == 0 {
			continue
		}
		lines, err := a.billSubscription(ctx, sub, evs)
		if err != nil {
			return customerResult{}, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		for _, ev := range evs {
			res.events = append(res.events, ev.ID)
		}

		if lines.customer != nil {
			bill.CustomerLines = append(bill.CustomerLines, *lines.customer)
		}
		for _, pl := range lines.payers {
			i, ok := payerIndex[pl.ThirdPartyPayerID]
			if !ok {
				i = len(bill.ThirdPartyPayers)
				payerIndex[pl.ThirdPartyPayerID] = i
				bill.ThirdPartyPayers = append(bill.ThirdPartyPayers, PayerDraftBill{ThirdPartyPayerID: pl.ThirdPartyPayerID})
			}
			bill.ThirdPartyPayers[i].Lines = append(bill.ThirdPartyPayers[i].Lines, pl)
		}
		bill.BillingItems = append(bill.BillingItems, lines.items...)
		res.histories = append(res.histories, lines.histories...)
	}
	return res, nil
}

// =============================================================================
// PER SUBSCRIPTION
// =============================================================================

type subscriptionLines struct {
	customer  *DraftBillLine
	payers    []DraftBillLine
	items     []BillingItemLine
	histories []funding.History
}

func (a *Assembler) billSubscription(ctx context.Context, sub Subscription, events []generic.Event) (subscriptionLines, error) {
	slices.SortFunc(events, func(x, y generic.Event) int {
		return cmp.Or(x.Start.Compare(y.Start), cmp.Compare(x.ID, y.ID))
	})

	service, err := a.catalog.Service(ctx, sub.ServiceID)
	if err != nil {
		return subscriptionLines{}, fmt.Errorf("load service: %w", err)
	}
	fundings, err := a.catalog.Fundings(ctx, sub.ID)
	if err != nil {
		return subscriptionLines{}, fmt.Errorf("load fundings: %w", err)
	}
	fundingIDs := make([]generic.FundingID, 0, len(fundings))
	for _, f := range fundings {
		fundingIDs = append(fundingIDs, f.ID)
	}
	prior, err := a.catalog.Histories(ctx, fundingIDs)
	if err != nil {
		return subscriptionLines{}, fmt.Errorf("load funding histories: %w", err)
	}

	ledger := funding.NewLedger(prior...)
	updated := funding.NewLedger()
	policies := make(map[generic.SurchargePolicyID]*surcharge.Policy)
	agg := NewAggregator(sub.ID)
	var last pricing.ServiceVersion

	for _, ev := range events {
		version, err := service.VersionAsOf(ev.Start)
		if err != nil {
			return subscriptionLines{}, err
		}

		in := pricing.Input{Event: ev, Version: version, Calendar: a.calendar}
		if id := version.SurchargePolicyID; id != nil {
			if in.Surcharge, err = a.policy(ctx, policies, *id); err != nil {
				return subscriptionLines{}, err
			}
		}
		if f, ok := funding.Match(fundings, sub.ID, ev.Start); ok && !ev.IsCancelled {
			ledger = ledger.Seed(f, ev.Start)
			entry, err := ledger.Entry(f, ev.Start)
			if err != nil {
				return subscriptionLines{}, err
			}
			in.Funding, in.Entry = &f, &entry
		}

		priced, next, err := pricing.PriceEvent(in)
		if err != nil {
			return subscriptionLines{}, err
		}
		if next != nil {
			ledger = ledger.With(*next)
			updated = updated.With(*next)
		}

		a.observer.EventPriced(version.Nature)
		if priced.TPP != nil && priced.TPP.Exhausted {
			a.observer.FundingExhausted(priced.TPP.FundingNature)
			a.logger.Debug().
				Str("funding_id", string(priced.TPP.FundingID)).
				Str("event_id", string(ev.ID)).
				Msg("funding exhausted")
		}

		agg.Add(ev, priced, version.BillingItemIDs)
		last = version
	}

	lines, err := a.finalize(ctx, sub, service, last, fundings, agg)
	if err != nil {
		return subscriptionLines{}, err
	}
	lines.histories = updated.Histories()
	return lines, nil
}

func (a *Assembler) policy(ctx context.Context, cache map[generic.SurchargePolicyID]*surcharge.Policy, id generic.SurchargePolicyID) (*surcharge.Policy, error) {
	if p, ok := cache[id]; ok {
		return p, nil
	}
	p, err := a.catalog.SurchargePolicy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load surcharge policy: %w", err)
	}
	cache[id] = &p
	return &p, nil
}

// finalize turns the fold into draft lines. Unit prices and VAT come from
// the version of the latest event.
func (a *Assembler) finalize(
	ctx context.Context,
	sub Subscription,
	service pricing.Service,
	version pricing.ServiceVersion,
	fundings []funding.Funding,
	agg *Aggregator,
) (subscriptionLines, error) {
	var out subscriptionLines

	newLine := func(unit generic.Decimal, t Totals) (DraftBillLine, error) {
		unitExcl, err := pricing.ExclTax(unit, version.VATRate)
		if err != nil {
			return DraftBillLine{}, err
		}
		return DraftBillLine{
			ID:             a.newID(),
			SubscriptionID: sub.ID,
			ServiceID:      service.ID,
			ServiceName:    service.Name,
			UnitExclTax:    unitExcl,
			UnitInclTax:    unit,
			VATRate:        version.VATRate,
			Discount:       generic.Zero,
			PeriodStart:    agg.PeriodStart(),
			PeriodEnd:      agg.PeriodEnd(),
			TotalHours:     t.Hours,
			TotalExclTax:   t.ExclTax,
			TotalInclTax:   t.InclTax,
			Events:         t.Events,
		}, nil
	}

	if !agg.Customer.ExclTax.IsZero() {
		line, err := newLine(version.UnitPrice, agg.Customer)
		if err != nil {
			return out, err
		}
		out.customer = &line
	}

	for _, p := range agg.Payers() {
		if p.InclTax.IsZero() {
			continue
		}
		unit := version.UnitPrice
		if i := slices.IndexFunc(fundings, func(f funding.Funding) bool { return f.ID == p.FundingID }); i >= 0 &&
			fundings[i].Nature == generic.NatureHourly {
			unit = fundings[i].UnitRate
		}
		line, err := newLine(unit, p.Totals)
		if err != nil {
			return out, err
		}
		line.ThirdPartyPayerID = p.ThirdPartyPayerID
		line.FundingID = p.FundingID
		out.payers = append(out.payers, line)
	}

	groups := agg.ItemGroups()
	if len(groups) == 0 {
		return out, nil
	}
	ids := make([]generic.BillingItemID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.BillingItemID)
	}
	items, err := a.catalog.BillingItems(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("load billing items: %w", err)
	}
	for _, g := range groups {
		i := slices.IndexFunc(items, func(it BillingItem) bool { return it.ID == g.BillingItemID })
		if i < 0 {
			return out, fmt.Errorf("billing item %s: %w", g.BillingItemID, generic.ErrNotFound)
		}
		line, err := itemLine(items[i], g)
		if err != nil {
			return out, err
		}
		line.ID = a.newID()
		line.SubscriptionID = sub.ID
		out.items = append(out.items, line)
	}
	return out, nil
}

func itemLine(item BillingItem, g *ItemGroup) (BillingItemLine, error) {
	qty := generic.NewDecimalFromInt(int64(len(g.EventIDs)))
	unitExcl, err := pricing.ExclTax(item.UnitInclTax, item.VATRate)
	if err != nil {
		return BillingItemLine{}, err
	}
	return BillingItemLine{
		BillingItemID: item.ID,
		Name:          item.Name,
		Quantity:      len(g.EventIDs),
		UnitExclTax:   unitExcl,
		UnitInclTax:   item.UnitInclTax,
		VATRate:       item.VATRate,
		TotalExclTax:  unitExcl.Mul(qty),
		TotalInclTax:  item.UnitInclTax.Mul(qty),
		EventIDs:      slices.Clone(g.EventIDs),
	}, nil
}
