/*
Package sqlite provides a SQLite-backed implementation of the billing sources.

PURPOSE:
  Persists the catalog (customers, subscriptions, services and their
  versions, surcharge policies, billing items, fundings), the events to
  bill and the funding ledger. Implements billing.EventSource,
  billing.CatalogSource and billing.HistoryWriter, so the assembler runs
  unchanged against SQLite or the in-memory store.

KEY TABLES:
  customers, subscriptions:  Who is billed, for which service
  services, service_versions: Price lists, versioned by start date
  surcharge_policies:        Bands stored as JSON
  billing_items:             Flat fees
  fundings:                  Third-party payer budgets
  funding_histories:         Ledger entries, one per (funding, month)
  events:                    Calendar events, marked with the run that billed them
  draft_bill_runs:           Confirmed runs and their totals

NUMBERS AND TIMES:
  Decimals are stored as TEXT so SQLite never coerces them to REAL.
  Instants are stored in UTC with a fixed-width layout so that string
  comparison in SQL orders them chronologically.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. An in-memory database is pinned to
  a single connection, since every new connection to ":memory:" opens a
  fresh, empty database.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  assembler := billing.NewAssembler(store, store)

SEE ALSO:
  - billing/assembler.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
	"github.com/warp/care-billing/surcharge"
)

// timeLayout is fixed width so that TEXT comparison is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements the billing sources using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	-- Versions are never updated in place; a price change adds a row.
	CREATE TABLE IF NOT EXISTS service_versions (
		service_id TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		nature TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		vat_rate TEXT NOT NULL,
		surcharge_policy_id TEXT,
		billing_item_ids_json TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (service_id, seq)
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		service_id TEXT NOT NULL REFERENCES services(id)
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_customer
		ON subscriptions(customer_id);

	CREATE TABLE IF NOT EXISTS surcharge_policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		bands_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS billing_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		unit_incl_tax TEXT NOT NULL,
		vat_rate TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fundings (
		id TEXT PRIMARY KEY,
		nature TEXT NOT NULL,
		frequency TEXT NOT NULL,
		third_party_payer_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		care_hours TEXT NOT NULL,
		amount TEXT NOT NULL,
		unit_rate TEXT NOT NULL,
		customer_participation_rate TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		care_days_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_fundings_subscription
		ON fundings(subscription_id);

	-- One ledger entry per funding and month ('' for ONCE fundings)
	CREATE TABLE IF NOT EXISTS funding_histories (
		funding_id TEXT NOT NULL,
		month TEXT NOT NULL DEFAULT '',
		care_hours TEXT NOT NULL,
		amount TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (funding_id, month)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		auxiliary_id TEXT,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		is_cancelled INTEGER NOT NULL DEFAULT 0,
		billed_run_id TEXT
	);

	-- Hot path: events of a customer in a period
	CREATE INDEX IF NOT EXISTS idx_events_customer_start
		ON events(customer_id, start_at);

	CREATE TABLE IF NOT EXISTS draft_bill_runs (
		id TEXT PRIMARY KEY,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		bills INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		customer_total TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before events carried their billing run.
	if err := s.addColumn("events", "billed_run_id", "TEXT"); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_unbilled
		ON events(customer_id, billed_run_id, start_at)`)
	return err
}

// addColumn adds a column unless the table already has it.
func (s *Store) addColumn(table, column, decl string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn in a database transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// CATALOG IMPORT
// =============================================================================

// Import upserts every record of the catalog in one transaction. A
// service's versions are replaced by the imported list.
func (s *Store) Import(ctx context.Context, c billing.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, x := range c.Customers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO customers (id, name) VALUES (?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
				x.ID, x.Name); err != nil {
				return fmt.Errorf("failed to save customer %s: %w", x.ID, err)
			}
		}
		for _, x := range c.Services {
			if err := saveService(ctx, tx, x); err != nil {
				return err
			}
		}
		for _, x := range c.Subscriptions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO subscriptions (id, customer_id, service_id) VALUES (?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET customer_id = excluded.customer_id, service_id = excluded.service_id`,
				x.ID, x.CustomerID, x.ServiceID); err != nil {
				return fmt.Errorf("failed to save subscription %s: %w", x.ID, err)
			}
		}
		for _, x := range c.SurchargePolicies {
			bands, err := json.Marshal(x.Bands)
			if err != nil {
				return fmt.Errorf("failed to encode surcharge policy %s: %w", x.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO surcharge_policies (id, name, bands_json) VALUES (?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name, bands_json = excluded.bands_json`,
				x.ID, x.Name, string(bands)); err != nil {
				return fmt.Errorf("failed to save surcharge policy %s: %w", x.ID, err)
			}
		}
		for _, x := range c.BillingItems {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO billing_items (id, name, unit_incl_tax, vat_rate) VALUES (?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				   unit_incl_tax = excluded.unit_incl_tax, vat_rate = excluded.vat_rate`,
				x.ID, x.Name, x.UnitInclTax, x.VATRate); err != nil {
				return fmt.Errorf("failed to save billing item %s: %w", x.ID, err)
			}
		}
		for _, x := range c.Fundings {
			if err := saveFunding(ctx, tx, x); err != nil {
				return err
			}
		}
		return saveHistories(ctx, tx, c.Histories)
	})
}

func saveService(ctx context.Context, tx *sql.Tx, svc pricing.Service) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO services (id, name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		svc.ID, svc.Name); err != nil {
		return fmt.Errorf("failed to save service %s: %w", svc.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM service_versions WHERE service_id = ?`, svc.ID); err != nil {
		return fmt.Errorf("failed to replace versions of service %s: %w", svc.ID, err)
	}
	for i, v := range svc.Versions {
		items, err := json.Marshal(v.BillingItemIDs)
		if err != nil {
			return fmt.Errorf("failed to encode billing items of service %s: %w", svc.ID, err)
		}
		var policyID sql.NullString
		if v.SurchargePolicyID != nil {
			policyID = nullString(string(*v.SurchargePolicyID))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO service_versions
			 (service_id, seq, start_date, nature, unit_price, vat_rate, surcharge_policy_id, billing_item_ids_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			svc.ID, i, formatTime(v.StartDate), v.Nature, v.UnitPrice, v.VATRate, policyID, string(items)); err != nil {
			return fmt.Errorf("failed to save version %d of service %s: %w", i, svc.ID, err)
		}
	}
	return nil
}

func saveFunding(ctx context.Context, tx *sql.Tx, f funding.Funding) error {
	days, err := json.Marshal(f.CareDays)
	if err != nil {
		return fmt.Errorf("failed to encode care days of funding %s: %w", f.ID, err)
	}
	var end sql.NullString
	if f.EndDate != nil {
		end = nullString(formatTime(*f.EndDate))
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fundings
		(id, nature, frequency, third_party_payer_id, subscription_id, care_hours, amount,
		 unit_rate, customer_participation_rate, start_date, end_date, care_days_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nature = excluded.nature, frequency = excluded.frequency,
			third_party_payer_id = excluded.third_party_payer_id, subscription_id = excluded.subscription_id,
			care_hours = excluded.care_hours, amount = excluded.amount, unit_rate = excluded.unit_rate,
			customer_participation_rate = excluded.customer_participation_rate,
			start_date = excluded.start_date, end_date = excluded.end_date, care_days_json = excluded.care_days_json`,
		f.ID, f.Nature, f.Frequency, f.ThirdPartyPayerID, f.SubscriptionID, f.CareHours, f.Amount,
		f.UnitRate, f.CustomerParticipationRate, formatTime(f.StartDate), end, string(days))
	if err != nil {
		return fmt.Errorf("failed to save funding %s: %w", f.ID, err)
	}
	return nil
}

// =============================================================================
// EVENTS (billing.EventSource)
// =============================================================================

// AddEvents stores events, replacing any with the same id. Replacing an
// event keeps the run that billed it.
func (s *Store) AddEvents(ctx context.Context, events []generic.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ev := range events {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO events (id, customer_id, subscription_id, auxiliary_id, start_at, end_at, is_cancelled)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					customer_id = excluded.customer_id, subscription_id = excluded.subscription_id,
					auxiliary_id = excluded.auxiliary_id, start_at = excluded.start_at,
					end_at = excluded.end_at, is_cancelled = excluded.is_cancelled`,
				ev.ID, ev.CustomerID, ev.SubscriptionID, nullString(string(ev.AuxiliaryID)),
				formatTime(ev.Start), formatTime(ev.End), ev.IsCancelled); err != nil {
				return fmt.Errorf("failed to save event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// Events returns the customer's unbilled events starting on or before the
// period end. Unbilled events before the period start are included so they
// are billed retroactively.
func (s *Store) Events(ctx context.Context, customer generic.CustomerID, period generic.Period) ([]generic.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, subscription_id, auxiliary_id, start_at, end_at, is_cancelled
		FROM events
		WHERE customer_id = ? AND billed_run_id IS NULL AND start_at <= ?
		ORDER BY start_at, id`,
		customer, formatTime(period.End))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []generic.Event
	for rows.Next() {
		var (
			ev         generic.Event
			aux        sql.NullString
			start, end string
		)
		if err := rows.Scan(&ev.ID, &ev.CustomerID, &ev.SubscriptionID, &aux, &start, &end, &ev.IsCancelled); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.AuxiliaryID = generic.AuxiliaryID(aux.String)
		if ev.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if ev.End, err = parseTime(end); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// =============================================================================
// CATALOG (billing.CatalogSource)
// =============================================================================

func (s *Store) Customers(ctx context.Context, ids []generic.CustomerID) ([]billing.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name FROM customers`
	args := make([]any, 0, len(ids))
	if len(ids) > 0 {
		query += ` WHERE id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	byID := make(map[generic.CustomerID]billing.Customer)
	var all []billing.Customer
	for rows.Next() {
		var c billing.Customer
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		byID[c.ID] = c
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return all, nil
	}

	out := make([]billing.Customer, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("customer %s: %w", id, generic.ErrNotFound)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) Subscriptions(ctx context.Context, customer generic.CustomerID) ([]billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, service_id FROM subscriptions WHERE customer_id = ? ORDER BY id`, customer)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []billing.Subscription
	for rows.Next() {
		var sub billing.Subscription
		if err := rows.Scan(&sub.ID, &sub.CustomerID, &sub.ServiceID); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) Service(ctx context.Context, id generic.ServiceID) (pricing.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc := pricing.Service{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM services WHERE id = ?`, id).Scan(&svc.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return svc, fmt.Errorf("service %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return svc, fmt.Errorf("failed to get service: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT start_date, nature, unit_price, vat_rate, surcharge_policy_id, billing_item_ids_json
		FROM service_versions WHERE service_id = ? ORDER BY seq`, id)
	if err != nil {
		return svc, fmt.Errorf("failed to query service versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v            pricing.ServiceVersion
			start, items string
			policyID     sql.NullString
		)
		if err := rows.Scan(&start, &v.Nature, &v.UnitPrice, &v.VATRate, &policyID, &items); err != nil {
			return svc, fmt.Errorf("failed to scan service version: %w", err)
		}
		if v.StartDate, err = parseTime(start); err != nil {
			return svc, err
		}
		if policyID.Valid {
			pid := generic.SurchargePolicyID(policyID.String)
			v.SurchargePolicyID = &pid
		}
		if err := json.Unmarshal([]byte(items), &v.BillingItemIDs); err != nil {
			return svc, fmt.Errorf("failed to decode billing items: %w", err)
		}
		svc.Versions = append(svc.Versions, v)
	}
	return svc, rows.Err()
}

func (s *Store) SurchargePolicy(ctx context.Context, id generic.SurchargePolicyID) (surcharge.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := surcharge.Policy{ID: id}
	var bands string
	err := s.db.QueryRowContext(ctx, `SELECT name, bands_json FROM surcharge_policies WHERE id = ?`, id).Scan(&p.Name, &bands)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("surcharge policy %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("failed to get surcharge policy: %w", err)
	}
	if err := json.Unmarshal([]byte(bands), &p.Bands); err != nil {
		return p, fmt.Errorf("failed to decode surcharge bands: %w", err)
	}
	return p, nil
}

func (s *Store) BillingItems(ctx context.Context, ids []generic.BillingItemID) ([]billing.BillingItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, unit_incl_tax, vat_rate FROM billing_items WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing items: %w", err)
	}
	defer rows.Close()

	byID := make(map[generic.BillingItemID]billing.BillingItem)
	for rows.Next() {
		var it billing.BillingItem
		if err := rows.Scan(&it.ID, &it.Name, &it.UnitInclTax, &it.VATRate); err != nil {
			return nil, fmt.Errorf("failed to scan billing item: %w", err)
		}
		byID[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]billing.BillingItem, 0, len(ids))
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("billing item %s: %w", id, generic.ErrNotFound)
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Store) Fundings(ctx context.Context, sub generic.SubscriptionID) ([]funding.Funding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nature, frequency, third_party_payer_id, subscription_id, care_hours, amount,
		       unit_rate, customer_participation_rate, start_date, end_date, care_days_json
		FROM fundings WHERE subscription_id = ? ORDER BY id`, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to query fundings: %w", err)
	}
	defer rows.Close()

	var out []funding.Funding
	for rows.Next() {
		var (
			f           funding.Funding
			start, days string
			end         sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Nature, &f.Frequency, &f.ThirdPartyPayerID, &f.SubscriptionID,
			&f.CareHours, &f.Amount, &f.UnitRate, &f.CustomerParticipationRate, &start, &end, &days); err != nil {
			return nil, fmt.Errorf("failed to scan funding: %w", err)
		}
		if f.StartDate, err = parseTime(start); err != nil {
			return nil, err
		}
		if end.Valid {
			t, err := parseTime(end.String)
			if err != nil {
				return nil, err
			}
			f.EndDate = &t
		}
		if err := json.Unmarshal([]byte(days), &f.CareDays); err != nil {
			return nil, fmt.Errorf("failed to decode care days: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// FUNDING LEDGER (billing.HistoryWriter)
// =============================================================================

func (s *Store) Histories(ctx context.Context, fundings []generic.FundingID) ([]funding.History, error) {
	if len(fundings) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, 0, len(fundings))
	for _, id := range fundings {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT funding_id, month, care_hours, amount FROM funding_histories
		WHERE funding_id IN (`+placeholders(len(fundings))+`)
		ORDER BY funding_id, month`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding histories: %w", err)
	}
	defer rows.Close()

	var out []funding.History
	for rows.Next() {
		var h funding.History
		if err := rows.Scan(&h.FundingID, &h.Month, &h.CareHours, &h.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan funding history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// FundingHistories returns every ledger entry of one funding.
func (s *Store) FundingHistories(ctx context.Context, id generic.FundingID) ([]funding.History, error) {
	return s.Histories(ctx, []generic.FundingID{id})
}

// SaveHistories upserts ledger entries by (funding, month) in one transaction.
func (s *Store) SaveHistories(ctx context.Context, histories []funding.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveHistories(ctx, tx, histories)
	})
}

func saveHistories(ctx context.Context, db execer, histories []funding.History) error {
	now := formatTime(time.Now())
	for _, h := range histories {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO funding_histories (funding_id, month, care_hours, amount, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(funding_id, month) DO UPDATE SET
				care_hours = excluded.care_hours, amount = excluded.amount, updated_at = excluded.updated_at`,
			h.FundingID, h.Month, h.CareHours, h.Amount, now); err != nil {
			return fmt.Errorf("failed to save funding history %s/%s: %w", h.FundingID, h.Month, err)
		}
	}
	return nil
}

// =============================================================================
// CONFIRMED RUNS
// =============================================================================

// RunRecord summarizes a confirmed draft bill run.
type RunRecord struct {
	ID            string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Bills         int
	Failures      int
	CustomerTotal generic.Decimal
	CreatedAt     time.Time
}

// ConfirmRun marks the run's events as billed, persists its updated funding
// histories and records the run, atomically. It fails with
// generic.ErrAlreadyBilled, and changes nothing, when another run billed any
// of the events first.
func (s *Store) ConfirmRun(ctx context.Context, id string, out billing.DraftBills) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := generic.Zero
	for _, b := range out.Bills {
		total = total.Add(b.CustomerTotal())
	}
	rec := RunRecord{
		ID:            id,
		PeriodStart:   out.Period.Start,
		PeriodEnd:     out.Period.End,
		Bills:         len(out.Bills),
		Failures:      len(out.Failures),
		CustomerTotal: total,
		CreatedAt:     time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := markBilled(ctx, tx, id, out.EventIDs); err != nil {
			return err
		}
		if err := saveHistories(ctx, tx, out.Histories); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO draft_bill_runs (id, period_start, period_end, bills, failures, customer_total, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, formatTime(rec.PeriodStart), formatTime(rec.PeriodEnd), rec.Bills, rec.Failures,
			rec.CustomerTotal, formatTime(rec.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		return nil
	})
	return rec, err
}

// markBilled sets the billing run of unbilled events. An event that is
// unknown or already billed fails the whole confirmation.
func markBilled(ctx context.Context, tx *sql.Tx, runID string, ids []generic.EventID) error {
	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET billed_run_id = ? WHERE id = ? AND billed_run_id IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to prepare billing mark: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, runID, id)
		if err != nil {
			return fmt.Errorf("failed to mark event %s billed: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to mark event %s billed: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("event %s: %w", id, generic.ErrAlreadyBilled)
		}
	}
	return nil
}

// BilledBy returns the ids of the events a confirmed run billed.
func (s *Store) BilledBy(ctx context.Context, runID string) ([]generic.EventID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM events WHERE billed_run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query billed events: %w", err)
	}
	defer rows.Close()

	var out []generic.EventID
	for rows.Next() {
		var id generic.EventID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Runs lists confirmed runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period_start, period_end, bills, failures, customer_total, created_at
		FROM draft_bill_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                     RunRecord
			start, end, createdAt string
		)
		if err := rows.Scan(&r.ID, &start, &end, &r.Bills, &r.Failures, &r.CustomerTotal, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.PeriodStart, err = parseTime(start); err != nil {
			return nil, err
		}
		if r.PeriodEnd, err = parseTime(end); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
