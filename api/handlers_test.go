/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full router against an in-memory SQLite store:
- Catalog import, listing and validation errors
- Event intake
- Draft bill computation, confirmation and error mapping
- Metrics exposure
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/metrics"
	"github.com/warp/care-billing/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T, opts ...billing.Option) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	collector := metrics.NewWithRegistry(reg)
	opts = append([]billing.Option{billing.WithObserver(collector)}, opts...)

	h := NewHandler(store, billing.NewAssembler(store, store, opts...), nil, zerolog.Nop())
	router := NewRouter(h, RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		Metrics:        collector,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &testServer{handler: h, router: router}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&out), rec.Body.String())
	return out
}

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", `{"scenario_id": "`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

const minimalCatalog = `{
  "customers": [{"id": "cus-1", "name": "Jeanne"}, {"id": "cus-2", "name": "Paul"}],
  "subscriptions": [{"id": "sub-1", "customer_id": "cus-1", "service_id": "svc-1"}],
  "services": [{"id": "svc-1", "name": "Home help", "versions": [
    {"start_date": "2025-01-01", "nature": "hourly", "unit_price": "20", "vat_rate": "0"}]}]
}`

// =============================================================================
// CATALOG
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestImportCatalog_ThenList(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: A catalog is posted
	// THEN: Counts are returned and customers and subscriptions are listed

	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/catalog", minimalCatalog)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	counts := decode[ImportResponse](t, rec)
	assert.Equal(t, 2, counts.Customers)
	assert.Equal(t, 1, counts.Services)

	rec = s.do(t, http.MethodGet, "/api/customers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	customers := decode[[]billing.Customer](t, rec)
	require.Len(t, customers, 2)
	assert.Equal(t, "Jeanne", customers[0].Name)

	rec = s.do(t, http.MethodGet, "/api/customers/cus-1/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	subs := decode[[]billing.Subscription](t, rec)
	require.Len(t, subs, 1)
	assert.Equal(t, "svc-1", string(subs[0].ServiceID))

	rec = s.do(t, http.MethodGet, "/api/customers/cus-2/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestImportCatalog_Invalid(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/catalog", `{"billing_items": [{"id": "x", "unit_incl_tax": "abc"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid catalog", decode[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/catalog", `{"customers": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSubscriptions_UnknownCustomer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/customers/nobody/subscriptions", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestAddEvents(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/events", `[
	  {"id": "e1", "start": "2025-03-03T09:00:00Z", "end": "2025-03-03T10:00:00Z", "customer_id": "cus-1", "subscription_id": "sub-1"},
	  {"id": "e2", "start": "2025-03-04T09:00:00Z", "end": "2025-03-04T10:00:00Z", "customer_id": "cus-1", "subscription_id": "sub-1"}
	]`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[CountResponse](t, rec).Count)
}

func TestAddEvents_EndBeforeStart(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/events", `[
	  {"id": "e1", "start": "2025-03-03T10:00:00Z", "end": "2025-03-03T09:00:00Z", "customer_id": "cus-1", "subscription_id": "sub-1"}
	]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// DRAFT BILLS
// =============================================================================

func TestComputeDraftBills_SundaySurcharge(t *testing.T) {
	// GIVEN: The Sunday surcharge scenario
	// WHEN: March is computed
	// THEN: One bill with a customer total of 52.00 and nothing persisted

	s := newTestServer(t)
	s.loadScenario(t, "sunday-surcharge")

	rec := s.do(t, http.MethodPost, "/api/draft-bills", `{"month": "2025-03", "customer_ids": ["sunday-surcharge-cus"]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DraftBillsResponse](t, rec)
	assert.Empty(t, resp.RunID)
	require.Len(t, resp.Bills, 1)
	bill := resp.Bills[0]
	assert.Equal(t, "52.00", bill.CustomerTotal)
	require.Len(t, bill.CustomerLines, 1)
	line := bill.CustomerLines[0]
	assert.Equal(t, "52.00", line.TotalInclTax.StringFixed(2))
	assert.Equal(t, "49.29", line.TotalExclTax.StringFixed(2))
	require.Len(t, line.Events, 1)
	require.Len(t, line.Events[0].Surcharges, 1)
	assert.Equal(t, "sunday", line.Events[0].Surcharges[0].BandName)
	assert.Empty(t, resp.Failures)

	rec = s.do(t, http.MethodGet, "/api/draft-bills/runs", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestComputeDraftBills_DateRange(t *testing.T) {
	// GIVEN: Three hourly-funded visits on 3, 4 and 5 March
	// WHEN: Only 3 and 4 March are billed, end date inclusive
	// THEN: The third visit is out of scope

	s := newTestServer(t)
	s.loadScenario(t, "hourly-funding")

	rec := s.do(t, http.MethodPost, "/api/draft-bills", `{"start": "2025-03-03", "end": "2025-03-04", "customer_ids": ["hourly-funding-cus"]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[DraftBillsResponse](t, rec)
	require.Len(t, resp.Bills, 1)
	assert.Equal(t, "26.00", resp.Bills[0].CustomerTotal)
	assert.Equal(t, "54.00", resp.Bills[0].PayerTotals["county"])
}

func TestComputeDraftBills_InvalidRequests(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]string{
		"malformed":       `{`,
		"no period":       `{}`,
		"bad month":       `{"month": "March"}`,
		"month and dates": `{"month": "2025-03", "start": "2025-03-01", "end": "2025-03-31"}`,
		"end before":      `{"start": "2025-03-31", "end": "2025-03-01"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/draft-bills", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestComputeDraftBills_UnknownCustomer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/draft-bills", `{"month": "2025-03", "customer_ids": ["nobody"]}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComputeDraftBills_AbortOnUnbillableCustomer(t *testing.T) {
	// GIVEN: An abort policy and an event dated before any service version
	// WHEN: The month is computed
	// THEN: The run fails with 422

	s := newTestServer(t, billing.WithFailurePolicy(billing.AbortRun))
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/catalog", strings.Replace(minimalCatalog, "2025-01-01", "2025-06-01", 1)).Code)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/events", `[
	  {"id": "e1", "start": "2025-03-03T09:00:00Z", "end": "2025-03-03T10:00:00Z", "customer_id": "cus-1", "subscription_id": "sub-1"}
	]`).Code)

	rec := s.do(t, http.MethodPost, "/api/draft-bills", `{"month": "2025-03"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestConfirmDraftBills_PersistsLedger(t *testing.T) {
	// GIVEN: The fixed funding scenario, 90 of 100 already used
	// WHEN: March is confirmed
	// THEN: The ledger shows 100 used, the run is listed, and the
	//       confirmed event is not billed again

	s := newTestServer(t)
	s.loadScenario(t, "fixed-funding")

	rec := s.do(t, http.MethodPost, "/api/draft-bills/confirm", `{"month": "2025-03", "customer_ids": ["fixed-funding-cus"]}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[DraftBillsResponse](t, rec)
	assert.NotEmpty(t, resp.RunID)
	require.Len(t, resp.Bills, 1)
	assert.Equal(t, "10.00", resp.Bills[0].CustomerTotal)
	assert.Equal(t, "10.00", resp.Bills[0].PayerTotals["county"])

	rec = s.do(t, http.MethodGet, "/api/fundings/fixed-funding-f/histories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	histories := decode[[]funding.History](t, rec)
	require.Len(t, histories, 1)
	assert.Equal(t, "100.00", histories[0].Amount.StringFixed(2))

	rec = s.do(t, http.MethodGet, "/api/draft-bills/runs", "")
	runs := decode[[]RunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, resp.RunID, runs[0].ID)
	assert.Equal(t, "10.00", runs[0].CustomerTotal)

	assert.Equal(t, []generic.EventID{"fixed-funding-e1"}, resp.EventIDs)

	rec = s.do(t, http.MethodPost, "/api/draft-bills", `{"month": "2025-03", "customer_ids": ["fixed-funding-cus"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[DraftBillsResponse](t, rec)
	assert.Empty(t, again.Bills)
	assert.Empty(t, again.Histories)
	assert.Empty(t, again.EventIDs)

	rec = s.do(t, http.MethodPost, "/api/draft-bills/confirm", `{"month": "2025-03"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[DraftBillsResponse](t, rec).RunID)
	runs = decode[[]RunDTO](t, s.do(t, http.MethodGet, "/api/draft-bills/runs", ""))
	assert.Len(t, runs, 1, "a run that priced nothing is not recorded")
}

func TestConfirmDraftBills_OneDayThenMonth_ConsumesFundingOnce(t *testing.T) {
	// GIVEN: 3h of monthly funding and three 2h visits on 3, 4 and 5 March
	// WHEN: 3 March is confirmed alone, then the whole of March
	// THEN: The second run bills only the two remaining visits against the
	//       hour left, and both runs add up to the month billed at once

	s := newTestServer(t)
	s.loadScenario(t, "hourly-funding")

	rec := s.do(t, http.MethodPost, "/api/draft-bills/confirm", `{"start": "2025-03-03", "end": "2025-03-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[DraftBillsResponse](t, rec)
	require.Len(t, first.Bills, 1)
	assert.Equal(t, "4.00", first.Bills[0].CustomerTotal)
	assert.Equal(t, "36.00", first.Bills[0].PayerTotals["county"])

	rec = s.do(t, http.MethodPost, "/api/draft-bills/confirm", `{"month": "2025-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[DraftBillsResponse](t, rec)
	require.Len(t, second.Bills, 1)
	assert.Equal(t, "62.00", second.Bills[0].CustomerTotal)
	assert.Equal(t, "18.00", second.Bills[0].PayerTotals["county"])
	assert.Equal(t, []generic.EventID{"hourly-funding-e2", "hourly-funding-e3"}, second.EventIDs)

	histories := decode[[]funding.History](t, s.do(t, http.MethodGet, "/api/fundings/hourly-funding-f/histories", ""))
	require.Len(t, histories, 1)
	assert.Equal(t, "3.00", histories[0].CareHours.StringFixed(2))
}

func TestFundingHistories_Unknown_IsEmpty(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/fundings/none/histories", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario(t, "billing-items")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/draft-bills", `{"month": "2025-03"}`).Code)

	rec := s.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `care_billing_priced_events_total{nature="hourly"} 2`)
	assert.Contains(t, body, `care_billing_draft_bill_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `care_billing_http_requests_total{method="POST",route="/api/scenarios/load",status="2xx"} 1`)
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/draft-bills", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
