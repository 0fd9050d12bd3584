/*
handlers.go - HTTP API handlers for the draft billing engine

PURPOSE:
  Exposes catalog loading, event intake and draft bill runs via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  factory (parsing), the store (persistence) and the assembler (billing).

ENDPOINTS:
  Health:
    GET    /api/health                       Liveness and database ping

  Catalog:
    POST   /api/catalog                      Load a catalog document
    GET    /api/customers                    List customers
    GET    /api/customers/{id}/subscriptions List a customer's subscriptions
    GET    /api/fundings/{id}/histories      Funding ledger entries

  Events:
    POST   /api/events                       Add or replace events to bill

  Draft bills:
    POST   /api/draft-bills                  Compute draft bills (read-only)
    POST   /api/draft-bills/confirm          Compute, mark events billed, persist the ledger
    GET    /api/draft-bills/runs             Confirmed runs

  Scenarios:
    GET    /api/scenarios                    List demo scenarios
    POST   /api/scenarios/load               Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Assembler: Draft bill computation over the store
  - Catalogs: JSON to catalog conversion in the billing time zone

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON, invalid period, interval or catalog
  - 404: Unknown customer, funding or scenario
  - 409: Events confirmed by another run in the meantime
  - 422: Run aborted on an unbillable customer
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/care-billing/billing"
	"github.com/warp/care-billing/factory"
	"github.com/warp/care-billing/funding"
	"github.com/warp/care-billing/generic"
	"github.com/warp/care-billing/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Assembler *billing.Assembler
	Catalogs  *factory.CatalogFactory
	Location  *time.Location
	Logger    zerolog.Logger

	// NewRunID names confirmed runs.
	NewRunID func() string
}

// NewHandler creates a handler billing in loc.
func NewHandler(store *sqlite.Store, assembler *billing.Assembler, loc *time.Location, logger zerolog.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		Store:     store,
		Assembler: assembler,
		Catalogs:  factory.NewCatalogFactory(loc),
		Location:  loc,
		Logger:    logger,
		NewRunID:  uuid.NewString,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health pings the database.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ImportCatalog loads a catalog document. Records are upserted.
// POST /api/catalog
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	var req factory.CatalogJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	c, err := h.Catalogs.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}
	if err := h.Store.Import(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save catalog", err)
		return
	}

	writeJSON(w, http.StatusCreated, newImportResponse(c))
}

// ListCustomers returns all customers.
// GET /api/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.Customers(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}
	if customers == nil {
		customers = []billing.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

// ListSubscriptions returns a customer's subscriptions.
// GET /api/customers/{id}/subscriptions
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.CustomerID(chi.URLParam(r, "id"))

	if _, err := h.Store.Customers(ctx, []generic.CustomerID{id}); err != nil {
		writeDomainError(w, "Failed to get customer", err)
		return
	}
	subs, err := h.Store.Subscriptions(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []billing.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetFundingHistories returns a funding's ledger entries.
// GET /api/fundings/{id}/histories
func (h *Handler) GetFundingHistories(w http.ResponseWriter, r *http.Request) {
	id := generic.FundingID(chi.URLParam(r, "id"))

	histories, err := h.Store.FundingHistories(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get funding histories", err)
		return
	}
	if histories == nil {
		histories = []funding.History{}
	}
	writeJSON(w, http.StatusOK, histories)
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// AddEvents stores events to bill, replacing any with the same id.
// POST /api/events
func (h *Handler) AddEvents(w http.ResponseWriter, r *http.Request) {
	var req []factory.EventJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	events, err := factory.EventsFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid events", err)
		return
	}
	if err := h.Store.AddEvents(r.Context(), events); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save events", err)
		return
	}

	writeJSON(w, http.StatusCreated, CountResponse{Count: len(events)})
}

// =============================================================================
// DRAFT BILL HANDLERS
// =============================================================================

// ComputeDraftBills runs the assembler without persisting anything.
// POST /api/draft-bills
func (h *Handler) ComputeDraftBills(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDraftBillsRequest(w, r)
	if !ok {
		return
	}

	out, err := h.Assembler.Run(r.Context(), req)
	if err != nil {
		writeDomainError(w, "Failed to compute draft bills", err)
		return
	}
	writeJSON(w, http.StatusOK, newDraftBillsResponse(out))
}

// ConfirmDraftBills runs the assembler, then marks the priced events billed,
// persists the updated funding histories and records the run in one
// transaction. A run that priced nothing is not recorded.
// POST /api/draft-bills/confirm
func (h *Handler) ConfirmDraftBills(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeDraftBillsRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	out, err := h.Assembler.Run(ctx, req)
	if err != nil {
		writeDomainError(w, "Failed to compute draft bills", err)
		return
	}

	if len(out.EventIDs) == 0 {
		writeJSON(w, http.StatusOK, newDraftBillsResponse(out))
		return
	}

	rec, err := h.Store.ConfirmRun(ctx, h.NewRunID(), out)
	if err != nil {
		writeDomainError(w, "Failed to confirm run", err)
		return
	}
	h.Logger.Info().
		Str("run_id", rec.ID).
		Int("bills", rec.Bills).
		Int("histories", len(out.Histories)).
		Int("events", len(out.EventIDs)).
		Str("customer_total", rec.CustomerTotal.StringFixed(2)).
		Msg("draft bill run confirmed")

	resp := newDraftBillsResponse(out)
	resp.RunID = rec.ID
	writeJSON(w, http.StatusCreated, resp)
}

// ListRuns returns confirmed runs, newest first.
// GET /api/draft-bills/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.Runs(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = newRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) decodeDraftBillsRequest(w http.ResponseWriter, r *http.Request) (billing.Request, bool) {
	var req DraftBillsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return billing.Request{}, false
	}
	period, err := h.parsePeriod(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return billing.Request{}, false
	}

	out := billing.Request{Period: period}
	for _, id := range req.CustomerIDs {
		out.CustomerIDs = append(out.CustomerIDs, generic.CustomerID(id))
	}
	return out, true
}

func (h *Handler) parsePeriod(req DraftBillsRequest) (generic.Period, error) {
	if req.Month != "" {
		if req.Start != "" || req.End != "" {
			return generic.Period{}, fmt.Errorf("%w: give either month or start/end", generic.ErrInvalidPeriod)
		}
		m, err := generic.ParseMonthKey(req.Month, h.Location)
		if err != nil {
			return generic.Period{}, fmt.Errorf("%w: month: %v", generic.ErrInvalidPeriod, err)
		}
		return generic.MonthPeriod(m), nil
	}

	start, startIsDate, err := h.parseBound(req.Start)
	if err != nil {
		return generic.Period{}, fmt.Errorf("%w: start: %v", generic.ErrInvalidPeriod, err)
	}
	end, endIsDate, err := h.parseBound(req.End)
	if err != nil {
		return generic.Period{}, fmt.Errorf("%w: end: %v", generic.ErrInvalidPeriod, err)
	}
	if startIsDate {
		start = generic.StartOfDay(start)
	}
	if endIsDate {
		end = generic.NextDay(end).Add(-time.Nanosecond)
	}
	return generic.NewPeriod(start, end)
}

// parseBound accepts a date in the billing zone or an RFC 3339 instant.
func (h *Handler) parseBound(s string) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, errors.New("required")
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, h.Location); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, false, err
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to a status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsUnbillable(err), errors.Is(err, generic.ErrDivisionByZero):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
