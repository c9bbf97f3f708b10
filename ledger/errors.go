/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All domain error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes; the core never returns raw
  store errors for conditions it can classify.

ERROR CATEGORIES:
  1. Validation errors  - bad input shape/range, rejected before the store
  2. State errors       - illegal lifecycle transitions
  3. Eligibility errors - withdrawal gate failures, with concrete shortfalls
  4. Store errors       - not-found, duplicate identity, opaque failures

USAGE:
  Callers classify with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrInvalidStateTransition) { ... }

    var shortfall *ledger.InsufficientBalanceError
    if errors.As(err, &shortfall) {
        // shortfall.Requested, shortfall.Available
    }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidStateTransition is returned when an entity is not in a
	// state that permits the requested transition. A second approval
	// attempt fails with this error; it never silently succeeds.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrEligibilityDenied wraps every withdrawal-gate failure.
	ErrEligibilityDenied = errors.New("withdrawal eligibility denied")

	// ErrDuplicateIdentity is returned when a signup collides with an
	// existing email or username.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrConflict is returned when a conditional update lost a race and
	// the record was already past the expected state.
	ErrConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry the numbers user-facing messages are built from
// =============================================================================

// ValidationError reports bad input, rejected before touching the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// StateTransitionError reports the current state so the caller can
// explain to the end user why an action was refused.
type StateTransitionError struct {
	Entity  string // "transaction", "withdrawal", "stake", "user"
	ID      string
	Current string
	Wanted  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s %s is %s, cannot move to %s", e.Entity, e.ID, e.Current, e.Wanted)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// StakeNotMaturedError refuses a stake withdrawal before end of term.
type StakeNotMaturedError struct {
	StakeID  StakeID
	MaturesAt string // formatted end date
}

func (e *StakeNotMaturedError) Error() string {
	return fmt.Sprintf("stake %s has not matured (matures %s)", e.StakeID, e.MaturesAt)
}

func (e *StakeNotMaturedError) Unwrap() error { return ErrInvalidStateTransition }

// AccountTooYoungError reports how long the account has existed so the
// product can surface "registered N of 3 required months".
type AccountTooYoungError struct {
	MonthsRegistered int
	RequiredMonths   int
}

func (e *AccountTooYoungError) Error() string {
	return fmt.Sprintf("account too young: registered %d of %d required months",
		e.MonthsRegistered, e.RequiredMonths)
}

func (e *AccountTooYoungError) Unwrap() error { return ErrEligibilityDenied }

// InsufficientMonthlySavingsError reports how many of the required
// preceding months met the monthly minimum.
type InsufficientMonthlySavingsError struct {
	EligibleMonths int
	RequiredMonths int
	MonthlyMinimum decimal.Decimal
}

func (e *InsufficientMonthlySavingsError) Error() string {
	return fmt.Sprintf("insufficient monthly savings: %d of %d months met the %s minimum",
		e.EligibleMonths, e.RequiredMonths, e.MonthlyMinimum)
}

func (e *InsufficientMonthlySavingsError) Unwrap() error { return ErrEligibilityDenied }

// InsufficientBalanceError reports the concrete shortfall.
type InsufficientBalanceError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %s, available %s",
		e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrEligibilityDenied }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError reports whether err is the caller's fault (4xx territory)
// rather than a store failure.
func IsClientError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrEligibilityDenied) ||
		errors.Is(err, ErrDuplicateIdentity) ||
		errors.Is(err, ErrConflict)
}
