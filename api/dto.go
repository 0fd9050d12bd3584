/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Catalog and event
  payloads reuse the factory's JSON types; draft bills reuse the billing
  types and add per-bill totals.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are exact decimals serialized as JSON strings ("52", "49.2891").
  Totals added here are rounded to the cent.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: CatalogJSON, EventJSON
*/
package api

import (
	"time"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/store/sqlite"
)

// =============================================================================
// CATALOG
// =============================================================================

// ImportResponse counts what a catalog document loaded.
type ImportResponse struct {
	Customers         int `json:"customers"`
	Subscriptions     int `json:"subscriptions"`
	Services          int `json:"services"`
	SurchargePolicies int `json:"surcharge_policies"`
	BillingItems      int `json:"billing_items"`
	Fundings          int `json:"fundings"`
	Histories         int `json:"histories"`
}

func newImportResponse(c billing.Catalog) ImportResponse {
	return ImportResponse{
		Customers:         len(c.Customers),
		Subscriptions:     len(c.Subscriptions),
		Services:          len(c.Services),
		SurchargePolicies: len(c.SurchargePolicies),
		BillingItems:      len(c.BillingItems),
		Fundings:          len(c.Fundings),
		Histories:         len(c.Histories),
	}
}

// CountResponse reports how many records were written.
type CountResponse struct {
	Count int `json:"count"`
}

// =============================================================================
// DRAFT BILLS
// =============================================================================

// DraftBillsRequest selects the billing period and, optionally, customers.
//
// Either Month ("2025-03") or Start and End are given. Start and End are
// dates ("2025-03-01", End inclusive) in the billing time zone, or RFC 3339
// instants.
type DraftBillsRequest struct {
	Month       string   `json:"month,omitempty"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	CustomerIDs []string `json:"customer_ids,omitempty"`
}

// BillDTO is a customer's draft bill with its totals.
type BillDTO struct {
	billing.CustomerDraftBill
	CustomerTotal string            `json:"customer_total"`
	PayerTotals   map[string]string `json:"third_party_payer_totals,omitempty"`
}

// DraftBillsResponse is the outcome of a run.
type DraftBillsResponse struct {
	RunID     string            `json:"run_id,omitempty"`
	Period    generic.Period    `json:"period"`
	Bills     []BillDTO         `json:"bills"`
	Histories []funding.History `json:"histories"`
	EventIDs  []generic.EventID `json:"event_ids"`
	Failures  []billing.Failure `json:"failures"`
}

func newDraftBillsResponse(out billing.DraftBills) DraftBillsResponse {
	resp := DraftBillsResponse{
		Period:    out.Period,
		Bills:     make([]BillDTO, 0, len(out.Bills)),
		Histories: out.Histories,
		EventIDs:  out.EventIDs,
		Failures:  out.Failures,
	}
	if resp.Failures == nil {
		resp.Failures = []billing.Failure{}
	}
	for _, b := range out.Bills {
		dto := BillDTO{CustomerDraftBill: b, CustomerTotal: b.CustomerTotal().StringFixed(2)}
		for _, p := range b.ThirdPartyPayers {
			total := generic.Zero
			for _, l := range p.Lines {
				total = total.Add(l.TotalInclTax)
			}
			if dto.PayerTotals == nil {
				dto.PayerTotals = make(map[string]string)
			}
			dto.PayerTotals[string(p.ThirdPartyPayerID)] = total.StringFixed(2)
		}
		resp.Bills = append(resp.Bills, dto)
	}
	return resp
}

// RunDTO is a confirmed run.
type RunDTO struct {
	ID            string    `json:"id"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	Bills         int       `json:"bills"`
	Failures      int       `json:"failures"`
	CustomerTotal string    `json:"customer_total"`
	CreatedAt     time.Time `json:"created_at"`
}

func newRunDTO(r sqlite.RunRecord) RunDTO {
	return RunDTO{
		ID:            r.ID,
		PeriodStart:   r.PeriodStart,
		PeriodEnd:     r.PeriodEnd,
		Bills:         r.Bills,
		Failures:      r.Failures,
		CustomerTotal: r.CustomerTotal.StringFixed(2),
		CreatedAt:     r.CreatedAt,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Month       string `json:"month"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
