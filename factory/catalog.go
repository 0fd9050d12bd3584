/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON catalog documents (customers, services and their price
  versions, surcharge policies, billing items, fundings and their prior
  consumption) into the typed values the billing engine works with. The
  back office maintains this reference data outside the engine; the
  factory is the single place where it is validated.

JSON SCHEMA:
  {
    "customers":     [{"id": "cus-1", "name": "Jeanne Martin"}],
    "subscriptions": [{"id": "sub-1", "customer_id": "cus-1", "service_id": "svc-1"}],
    "services": [{
      "id": "svc-1", "name": "Home help",
      "versions": [{
        "start_date": "2025-01-01", "nature": "hourly",
        "unit_price": "20.00", "vat_rate": "5.5",
        "surcharge_policy_id": "sp-1", "billing_item_ids": ["travel"]
      }]
    }],
    "surcharge_policies": [{
      "id": "sp-1", "name": "Standard",
      "bands": [
        {"name": "sunday",  "percentage": "30", "day": {"weekday": "sunday"}},
        {"name": "xmas",    "percentage": "50", "day": {"date": "12-25"}},
        {"name": "holiday", "percentage": "25", "day": {"public_holiday": true}},
        {"name": "evening", "percentage": "25", "window": {"start": "20:00", "end": "08:00"}}
      ]
    }],
    "billing_items": [{"id": "travel", "name": "Travel", "unit_incl_tax": "5", "vat_rate": "20"}],
    "fundings": [{
      "id": "fund-1", "nature": "hourly", "frequency": "monthly",
      "third_party_payer_id": "tpp-1", "subscription_id": "sub-1",
      "care_hours": "10", "unit_rate": "20", "customer_participation_rate": "10",
      "start_date": "2025-01-01", "care_days": ["monday", "tuesday"]
    }],
    "histories": [{"funding_id": "fund-1", "month": "2025-02", "care_hours": "4"}]
  }

  Amounts are strings so no value ever goes through a float. Dates accept
  "2006-01-02" (midnight in the factory's location) or RFC 3339.

USAGE:
  f := factory.NewCatalogFactory(paris)
  catalog, err := f.ParseCatalog(data)
  if errors.Is(err, generic.ErrInvalidCatalog) { ... }

SEE ALSO:
  - billing/types.go: Catalog
  - generic/store/memory.go, store/sqlite/sqlite.go: Import
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/pricing"
	"github.com/warp/care-billing/surcharge"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog document.
type CatalogJSON struct {
	Customers         []CustomerJSON        `json:"customers,omitempty"`
	Subscriptions     []SubscriptionJSON    `json:"subscriptions,omitempty"`
	Services          []ServiceJSON         `json:"services,omitempty"`
	SurchargePolicies []SurchargePolicyJSON `json:"surcharge_policies,omitempty"`
	BillingItems      []BillingItemJSON     `json:"billing_items,omitempty"`
	Fundings          []FundingJSON         `json:"fundings,omitempty"`
	Histories         []HistoryJSON         `json:"histories,omitempty"`
}

type CustomerJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SubscriptionJSON struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	ServiceID  string `json:"service_id"`
}

type ServiceJSON struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Versions []VersionJSON `json:"versions"`
}

type VersionJSON struct {
	StartDate         string   `json:"start_date"`
	Nature            string   `json:"nature"` // hourly, fixed
	UnitPrice         string   `json:"unit_price"`
	VATRate           string   `json:"vat_rate,omitempty"`
	SurchargePolicyID string   `json:"surcharge_policy_id,omitempty"`
	BillingItemIDs    []string `json:"billing_item_ids,omitempty"`
}

type SurchargePolicyJSON struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Bands []BandJSON `json:"bands"`
}

type BandJSON struct {
	Name       string      `json:"name"`
	Percentage string      `json:"percentage"`
	Day        *DayJSON    `json:"day,omitempty"`
	Window     *WindowJSON `json:"window,omitempty"`
}

// DayJSON sets exactly one of its fields.
type DayJSON struct {
	Weekday       string `json:"weekday,omitempty"` // sunday..saturday
	Date          string `json:"date,omitempty"`    // MM-DD, every year
	PublicHoliday bool   `json:"public_holiday,omitempty"`
}

type WindowJSON struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM, before Start when crossing midnight
}

type BillingItemJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UnitInclTax string `json:"unit_incl_tax"`
	VATRate     string `json:"vat_rate,omitempty"`
}

type FundingJSON struct {
	ID                        string   `json:"id"`
	Nature                    string   `json:"nature"`
	Frequency                 string   `json:"frequency"`
	ThirdPartyPayerID         string   `json:"third_party_payer_id"`
	SubscriptionID            string   `json:"subscription_id"`
	CareHours                 string   `json:"care_hours,omitempty"`
	Amount                    string   `json:"amount,omitempty"`
	UnitRate                  string   `json:"unit_rate,omitempty"`
	CustomerParticipationRate string   `json:"customer_participation_rate,omitempty"`
	StartDate                 string   `json:"start_date"`
	EndDate                   string   `json:"end_date,omitempty"`
	CareDays                  []string `json:"care_days,omitempty"`
}

type HistoryJSON struct {
	FundingID string `json:"funding_id"`
	Month     string `json:"month,omitempty"` // YYYY-MM, empty for ONCE fundings
	CareHours string `json:"care_hours,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalog documents to typed values.
type CatalogFactory struct {
	loc *time.Location
}

// NewCatalogFactory creates a factory reading bare dates in loc.
func NewCatalogFactory(loc *time.Location) *CatalogFactory {
	if loc == nil {
		loc = time.UTC
	}
	return &CatalogFactory{loc: loc}
}

// ParseCatalog parses and validates a JSON catalog document.
func (f *CatalogFactory) ParseCatalog(data []byte) (billing.Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return billing.Catalog{}, fmt.Errorf("%w: failed to parse catalog JSON: %v", generic.ErrInvalidCatalog, err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts a CatalogJSON. Every error wraps generic.ErrInvalidCatalog.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (billing.Catalog, error) {
	c, err := f.fromJSON(cj)
	if err != nil {
		return billing.Catalog{}, fmt.Errorf("%w: %v", generic.ErrInvalidCatalog, err)
	}
	return c, nil
}

func (f *CatalogFactory) fromJSON(cj CatalogJSON) (billing.Catalog, error) {
	var c billing.Catalog

	for _, x := range cj.Customers {
		if x.ID == "" {
			return c, fmt.Errorf("customer: id is required")
		}
		c.Customers = append(c.Customers, billing.Customer{ID: generic.CustomerID(x.ID), Name: x.Name})
	}

	for _, x := range cj.Subscriptions {
		if x.ID == "" || x.CustomerID == "" || x.ServiceID == "" {
			return c, fmt.Errorf("subscription %q: id, customer_id and service_id are required", x.ID)
		}
		c.Subscriptions = append(c.Subscriptions, billing.Subscription{
			ID:         generic.SubscriptionID(x.ID),
			CustomerID: generic.CustomerID(x.CustomerID),
			ServiceID:  generic.ServiceID(x.ServiceID),
		})
	}

	for _, x := range cj.Services {
		svc, err := f.parseService(x)
		if err != nil {
			return c, err
		}
		c.Services = append(c.Services, svc)
	}

	for _, x := range cj.SurchargePolicies {
		p, err := parseSurchargePolicy(x)
		if err != nil {
			return c, err
		}
		c.SurchargePolicies = append(c.SurchargePolicies, p)
	}

	for _, x := range cj.BillingItems {
		it, err := parseBillingItem(x)
		if err != nil {
			return c, err
		}
		c.BillingItems = append(c.BillingItems, it)
	}

	for _, x := range cj.Fundings {
		fd, err := f.parseFunding(x)
		if err != nil {
			return c, err
		}
		c.Fundings = append(c.Fundings, fd)
	}

	for _, x := range cj.Histories {
		h, err := parseHistory(x)
		if err != nil {
			return c, err
		}
		c.Histories = append(c.Histories, h)
	}

	return c, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func (f *CatalogFactory) parseService(sj ServiceJSON) (pricing.Service, error) {
	svc := pricing.Service{ID: generic.ServiceID(sj.ID), Name: sj.Name}
	for i, vj := range sj.Versions {
		start, err := f.parseDate(vj.StartDate)
		if err != nil {
			return svc, fmt.Errorf("service %s: version %d: start_date: %w", sj.ID, i, err)
		}
		price, err := parseDecimal(vj.UnitPrice)
		if err != nil {
			return svc, fmt.Errorf("service %s: version %d: unit_price: %w", sj.ID, i, err)
		}
		vat, err := parseDecimal(vj.VATRate)
		if err != nil {
			return svc, fmt.Errorf("service %s: version %d: vat_rate: %w", sj.ID, i, err)
		}
		v := pricing.ServiceVersion{
			StartDate: start,
			Nature:    generic.Nature(strings.ToLower(vj.Nature)),
			UnitPrice: price,
			VATRate:   vat,
		}
		if vj.SurchargePolicyID != "" {
			id := generic.SurchargePolicyID(vj.SurchargePolicyID)
			v.SurchargePolicyID = &id
		}
		for _, id := range vj.BillingItemIDs {
			v.BillingItemIDs = append(v.BillingItemIDs, generic.BillingItemID(id))
		}
		svc.Versions = append(svc.Versions, v)
	}
	return svc, svc.Validate()
}

func parseSurchargePolicy(pj SurchargePolicyJSON) (surcharge.Policy, error) {
	p := surcharge.Policy{ID: generic.SurchargePolicyID(pj.ID), Name: pj.Name}
	for _, bj := range pj.Bands {
		pct, err := parseDecimal(bj.Percentage)
		if err != nil {
			return p, fmt.Errorf("surcharge policy %s: band %s: percentage: %w", pj.ID, bj.Name, err)
		}
		band := surcharge.Band{Name: bj.Name, Percentage: pct}
		if bj.Day != nil {
			rule, err := parseDayRule(*bj.Day)
			if err != nil {
				return p, fmt.Errorf("surcharge policy %s: band %s: %w", pj.ID, bj.Name, err)
			}
			band.Day = &rule
		}
		if bj.Window != nil {
			w, err := surcharge.ParseClockWindow(bj.Window.Start, bj.Window.End)
			if err != nil {
				return p, fmt.Errorf("surcharge policy %s: band %s: %w", pj.ID, bj.Name, err)
			}
			band.Window = &w
		}
		p.Bands = append(p.Bands, band)
	}
	return p, p.Validate()
}

func parseDayRule(dj DayJSON) (surcharge.DayRule, error) {
	switch {
	case dj.Weekday != "":
		wd, err := parseWeekday(dj.Weekday)
		if err != nil {
			return surcharge.DayRule{}, err
		}
		return surcharge.DayRule{Kind: surcharge.DayWeekday, Weekday: wd}, nil
	case dj.Date != "":
		d, err := time.Parse("01-02", dj.Date)
		if err != nil {
			return surcharge.DayRule{}, fmt.Errorf("invalid date %q: expected MM-DD", dj.Date)
		}
		return surcharge.DayRule{Kind: surcharge.DayDate, Month: d.Month(), Day: d.Day()}, nil
	case dj.PublicHoliday:
		return surcharge.DayRule{Kind: surcharge.DayPublicHoliday}, nil
	default:
		return surcharge.DayRule{}, fmt.Errorf("day rule needs weekday, date or public_holiday")
	}
}

func parseBillingItem(ij BillingItemJSON) (billing.BillingItem, error) {
	if ij.ID == "" {
		return billing.BillingItem{}, fmt.Errorf("billing item: id is required")
	}
	unit, err := parseDecimal(ij.UnitInclTax)
	if err != nil {
		return billing.BillingItem{}, fmt.Errorf("billing item %s: unit_incl_tax: %w", ij.ID, err)
	}
	vat, err := parseDecimal(ij.VATRate)
	if err != nil {
		return billing.BillingItem{}, fmt.Errorf("billing item %s: vat_rate: %w", ij.ID, err)
	}
	return billing.BillingItem{ID: generic.BillingItemID(ij.ID), Name: ij.Name, UnitInclTax: unit, VATRate: vat}, nil
}

func (f *CatalogFactory) parseFunding(fj FundingJSON) (funding.Funding, error) {
	fd := funding.Funding{
		ID:                generic.FundingID(fj.ID),
		Nature:            generic.Nature(strings.ToLower(fj.Nature)),
		Frequency:         funding.Frequency(strings.ToLower(fj.Frequency)),
		ThirdPartyPayerID: generic.ThirdPartyPayerID(fj.ThirdPartyPayerID),
		SubscriptionID:    generic.SubscriptionID(fj.SubscriptionID),
	}

	decimals := []struct {
		name string
		raw  string
		dst  *generic.Decimal
	}{
		{"care_hours", fj.CareHours, &fd.CareHours},
		{"amount", fj.Amount, &fd.Amount},
		{"unit_rate", fj.UnitRate, &fd.UnitRate},
		{"customer_participation_rate", fj.CustomerParticipationRate, &fd.CustomerParticipationRate},
	}
	for _, d := range decimals {
		v, err := parseDecimal(d.raw)
		if err != nil {
			return fd, fmt.Errorf("funding %s: %s: %w", fj.ID, d.name, err)
		}
		*d.dst = v
	}

	var err error
	if fd.StartDate, err = f.parseDate(fj.StartDate); err != nil {
		return fd, fmt.Errorf("funding %s: start_date: %w", fj.ID, err)
	}
	if fj.EndDate != "" {
		end, err := f.parseDate(fj.EndDate)
		if err != nil {
			return fd, fmt.Errorf("funding %s: end_date: %w", fj.ID, err)
		}
		fd.EndDate = &end
	}
	for _, s := range fj.CareDays {
		wd, err := parseWeekday(s)
		if err != nil {
			return fd, fmt.Errorf("funding %s: care_days: %w", fj.ID, err)
		}
		fd.CareDays = append(fd.CareDays, wd)
	}
	return fd, fd.Validate()
}

func parseHistory(hj HistoryJSON) (funding.History, error) {
	if hj.FundingID == "" {
		return funding.History{}, fmt.Errorf("history: funding_id is required")
	}
	if hj.Month != "" {
		if _, err := generic.ParseMonthKey(hj.Month, time.UTC); err != nil {
			return funding.History{}, fmt.Errorf("history %s: month %q: expected YYYY-MM", hj.FundingID, hj.Month)
		}
	}
	hours, err := parseDecimal(hj.CareHours)
	if err != nil {
		return funding.History{}, fmt.Errorf("history %s: care_hours: %w", hj.FundingID, err)
	}
	amount, err := parseDecimal(hj.Amount)
	if err != nil {
		return funding.History{}, fmt.Errorf("history %s: amount: %w", hj.FundingID, err)
	}
	return funding.History{FundingID: generic.FundingID(hj.FundingID), Month: hj.Month, CareHours: hours, Amount: amount}, nil
}

// parseDecimal treats an empty string as zero.
func parseDecimal(s string) (generic.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return generic.Zero, nil
	}
	return generic.NewDecimal(strings.TrimSpace(s))
}

func (f *CatalogFactory) parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.ParseInLocation("2006-01-02", s, f.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
