/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Component packages return these (or wrap them with context) so callers
  can branch with errors.Is / errors.As regardless of where the failure
  happened.

ERROR CATEGORIES:
  1. Computation errors - Division by zero, malformed intervals
  2. Precondition errors - Missing ledger entry for a funding month
  3. Resolution errors - No service version in force at an event's start
  4. Input errors - Malformed catalog documents, unknown entities
  5. Conflicts - Confirming events another run already billed

USAGE:
  The assembler decides per customer whether an error is skipped or aborts
  the run:

    if errors.Is(err, generic.ErrUnresolvableServiceVersion) {
        // isolate the customer, keep billing the others
    }

SEE ALSO:
  - funding/ledger.go: Returns MissingLedgerEntryError
  - pricing/service.go: Returns UnresolvableServiceVersionError
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDivisionByZero is returned by Decimal.Div. It signals a logic error
	// upstream, such as a zero-duration event reaching a per-hour computation.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrMissingLedgerEntry is returned when a funding is applied without a
	// ledger entry for the event's month. The ledger never fabricates one.
	ErrMissingLedgerEntry = errors.New("missing funding ledger entry")

	// ErrUnresolvableServiceVersion is returned when no service version
	// starts on or before the event.
	ErrUnresolvableServiceVersion = errors.New("no service version applicable")

	// ErrInvalidInterval is returned for an interval whose end is before its start.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidPeriod is returned when a billing period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidCatalog is returned when a catalog document fails validation.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyBilled is returned when confirming a run whose events were
	// confirmed by another run in the meantime.
	ErrAlreadyBilled = errors.New("event already billed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MissingLedgerEntryError identifies the (funding, month) pair that had no entry.
type MissingLedgerEntryError struct {
	FundingID FundingID
	Month     string // "" for ONCE fundings
}

func (e *MissingLedgerEntryError) Error() string {
	if e.Month == "" {
		return fmt.Sprintf("missing funding ledger entry: funding %s", e.FundingID)
	}
	return fmt.Sprintf("missing funding ledger entry: funding %s, month %s", e.FundingID, e.Month)
}

func (e *MissingLedgerEntryError) Unwrap() error {
	return ErrMissingLedgerEntry
}

// UnresolvableServiceVersionError identifies the service and instant that
// had no version in force.
type UnresolvableServiceVersionError struct {
	ServiceID ServiceID
	At        time.Time
}

func (e *UnresolvableServiceVersionError) Error() string {
	return fmt.Sprintf("no version of service %s applicable at %s",
		e.ServiceID, e.At.Format(time.RFC3339))
}

func (e *UnresolvableServiceVersionError) Unwrap() error {
	return ErrUnresolvableServiceVersion
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidCatalog)
}

// IsConflict returns true if the error indicates a concurrent confirmation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyBilled)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnbillable returns true for errors that make a customer's events
// impossible to price with the data at hand.
func IsUnbillable(err error) bool {
	return errors.Is(err, ErrUnresolvableServiceVersion) ||
		errors.Is(err, ErrMissingLedgerEntry)
}
