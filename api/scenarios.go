/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a small
	catalog and the events of March 2025. Each scenario exercises one
	billing rule and states the totals a draft bill run should produce.

AVAILABLE SCENARIOS:

	sunday-surcharge: 2h on a Sunday at 20/h with a 30% Sunday band
	fixed-funding:    FIXED service with a 100 budget, 90 already used
	hourly-funding:   3h/month funding consumed by three 2h visits
	night-shift:      22:00-02:00 visit inside a 20:00-08:00 band
	billing-items:    Travel fee added to every visit

HOW SCENARIOS WORK:
 1. Parse the catalog document via the factory
 2. Import it (upsert, ids are prefixed by the scenario id)
 3. Parse and add the events

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "hourly-funding"}

	POST /api/draft-bills
	{"month": "2025-03", "customer_ids": ["hourly-funding-cus"]}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' with its id, catalog and events
 2. Write the expected totals in the description

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/catalog.go: Catalog JSON schema
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/care-billing/factory"
	"github.com/warp/care-billing/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	catalog string
	events  string
}

const scenarioMonth = "2025-03"

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "sunday-surcharge",
			Name:        "Sunday Surcharge",
			Description: "2h visit on Sunday 2 March at 20/h, 30% Sunday band: customer pays 52.00",
		},
		catalog: `{
		  "customers": [{"id": "sunday-surcharge-cus", "name": "Jeanne Martin"}],
		  "subscriptions": [{"id": "sunday-surcharge-sub", "customer_id": "sunday-surcharge-cus", "service_id": "sunday-surcharge-svc"}],
		  "services": [{"id": "sunday-surcharge-svc", "name": "Home help", "versions": [
		    {"start_date": "2025-01-01", "nature": "hourly", "unit_price": "20", "vat_rate": "5.5",
		     "surcharge_policy_id": "sunday-surcharge-sp"}]}],
		  "surcharge_policies": [{"id": "sunday-surcharge-sp", "name": "Weekend", "bands": [
		    {"name": "sunday", "percentage": "30", "day": {"weekday": "sunday"}}]}]
		}`,
		events: `[
		  {"id": "sunday-surcharge-e1", "start": "2025-03-02T09:00:00Z", "end": "2025-03-02T11:00:00Z",
		   "customer_id": "sunday-surcharge-cus", "subscription_id": "sunday-surcharge-sub", "auxiliary_id": "aux-1"}
		]`,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "fixed-funding",
			Name:        "Fixed Funding",
			Description: "FIXED visit at 20 with a 100 budget of which 90 is used: payer 10.00, customer 10.00, budget exhausted",
		},
		catalog: `{
		  "customers": [{"id": "fixed-funding-cus", "name": "Paul Durand"}],
		  "subscriptions": [{"id": "fixed-funding-sub", "customer_id": "fixed-funding-cus", "service_id": "fixed-funding-svc"}],
		  "services": [{"id": "fixed-funding-svc", "name": "Bathing", "versions": [
		    {"start_date": "2025-01-01", "nature": "fixed", "unit_price": "20", "vat_rate": "0"}]}],
		  "fundings": [{"id": "fixed-funding-f", "nature": "fixed", "frequency": "once",
		    "third_party_payer_id": "county", "subscription_id": "fixed-funding-sub",
		    "amount": "100", "start_date": "2025-01-01"}],
		  "histories": [{"funding_id": "fixed-funding-f", "amount": "90"}]
		}`,
		events: `[
		  {"id": "fixed-funding-e1", "start": "2025-03-04T10:00:00Z", "end": "2025-03-04T11:00:00Z",
		   "customer_id": "fixed-funding-cus", "subscription_id": "fixed-funding-sub"}
		]`,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "hourly-funding",
			Name:        "Hourly Funding",
			Description: "3h/month at 20/h, 10% participation, three 2h visits: payer 54.00, customer 66.00",
		},
		catalog: `{
		  "customers": [{"id": "hourly-funding-cus", "name": "Marie Petit"}],
		  "subscriptions": [{"id": "hourly-funding-sub", "customer_id": "hourly-funding-cus", "service_id": "hourly-funding-svc"}],
		  "services": [{"id": "hourly-funding-svc", "name": "Home help", "versions": [
		    {"start_date": "2025-01-01", "nature": "hourly", "unit_price": "20", "vat_rate": "5.5"}]}],
		  "fundings": [{"id": "hourly-funding-f", "nature": "hourly", "frequency": "monthly",
		    "third_party_payer_id": "county", "subscription_id": "hourly-funding-sub",
		    "care_hours": "3", "unit_rate": "20", "customer_participation_rate": "10",
		    "start_date": "2025-01-01", "care_days": ["monday", "tuesday", "wednesday", "thursday", "friday"]}]
		}`,
		events: `[
		  {"id": "hourly-funding-e1", "start": "2025-03-03T09:00:00Z", "end": "2025-03-03T11:00:00Z",
		   "customer_id": "hourly-funding-cus", "subscription_id": "hourly-funding-sub"},
		  {"id": "hourly-funding-e2", "start": "2025-03-04T09:00:00Z", "end": "2025-03-04T11:00:00Z",
		   "customer_id": "hourly-funding-cus", "subscription_id": "hourly-funding-sub"},
		  {"id": "hourly-funding-e3", "start": "2025-03-05T09:00:00Z", "end": "2025-03-05T11:00:00Z",
		   "customer_id": "hourly-funding-cus", "subscription_id": "hourly-funding-sub"}
		]`,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "night-shift",
			Name:        "Night Shift",
			Description: "4h night visit inside a 25% 20:00-08:00 band at 20/h: customer pays 100.00",
		},
		catalog: `{
		  "customers": [{"id": "night-shift-cus", "name": "Louis Bernard"}],
		  "subscriptions": [{"id": "night-shift-sub", "customer_id": "night-shift-cus", "service_id": "night-shift-svc"}],
		  "services": [{"id": "night-shift-svc", "name": "Night watch", "versions": [
		    {"start_date": "2025-01-01", "nature": "hourly", "unit_price": "20", "vat_rate": "5.5",
		     "surcharge_policy_id": "night-shift-sp"}]}],
		  "surcharge_policies": [{"id": "night-shift-sp", "name": "Nights", "bands": [
		    {"name": "evening", "percentage": "25", "window": {"start": "20:00", "end": "08:00"}}]}]
		}`,
		events: `[
		  {"id": "night-shift-e1", "start": "2025-03-11T22:00:00Z", "end": "2025-03-12T02:00:00Z",
		   "customer_id": "night-shift-cus", "subscription_id": "night-shift-sub"}
		]`,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "billing-items",
			Name:        "Billing Items",
			Description: "Two 1h visits at 20/h, each with a 5.00 travel fee: hours 40.00, travel 10.00, customer 50.00",
		},
		catalog: `{
		  "customers": [{"id": "billing-items-cus", "name": "Claire Moreau"}],
		  "subscriptions": [{"id": "billing-items-sub", "customer_id": "billing-items-cus", "service_id": "billing-items-svc"}],
		  "services": [{"id": "billing-items-svc", "name": "Home help", "versions": [
		    {"start_date": "2025-01-01", "nature": "hourly", "unit_price": "20", "vat_rate": "5.5",
		     "billing_item_ids": ["billing-items-travel"]}]}],
		  "billing_items": [{"id": "billing-items-travel", "name": "Travel", "unit_incl_tax": "5", "vat_rate": "20"}]
		}`,
		events: `[
		  {"id": "billing-items-e1", "start": "2025-03-06T14:00:00Z", "end": "2025-03-06T15:00:00Z",
		   "customer_id": "billing-items-cus", "subscription_id": "billing-items-sub"},
		  {"id": "billing-items-e2", "start": "2025-03-13T14:00:00Z", "end": "2025-03-13T15:00:00Z",
		   "customer_id": "billing-items-cus", "subscription_id": "billing-items-sub"}
		]`,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns all available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
		dtos[i].Month = scenarioMonth
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a scenario's catalog and events.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("%w: scenario %q", generic.ErrNotFound, req.ScenarioID))
		return
	}
	if err := h.loadScenario(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.Logger.Info().Str("scenario", s.ID).Msg("scenario loaded")
	dto := s.ScenarioDTO
	dto.Month = scenarioMonth
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	c, err := h.Catalogs.ParseCatalog([]byte(s.catalog))
	if err != nil {
		return fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	if err := h.Store.Import(ctx, c); err != nil {
		return fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	events, err := factory.ParseEvents([]byte(s.events))
	if err != nil {
		return fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	return h.Store.AddEvents(ctx, events)
}
