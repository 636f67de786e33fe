/*
errors.go - Centralized error types for the points ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  The engine, the stores and the API classify failures with errors.Is/As
  against these values.

ERROR CATEGORIES:
  1. Client errors - insufficient balance, forbidden self-reaction, bad input
  2. Lookup errors - unknown account or target
  3. Store errors - concurrency conflicts, datastore failures

USAGE:
  res, err := engine.ApplyReaction(ctx, actor, ref, reaction.Like)
  var insufficient *generic.InsufficientBalanceError
  if errors.As(err, &insufficient) {
      // insufficient.Required, insufficient.Available
  }

SEE ALSO:
  - reaction/engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrTargetNotFound is returned when a reacted-to entity doesn't exist.
	ErrTargetNotFound = errors.New("target not found")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConcurrencyConflict is returned when the datastore aborts a transaction
	// because of a competing writer (serialization failure, busy database).
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrSelfReaction is returned when a policy forbids reacting to one's own content.
	ErrSelfReaction = errors.New("self reaction not allowed")

	// ErrInvalidReaction is returned for an unknown reaction or state value.
	ErrInvalidReaction = errors.New("invalid reaction")

	// ErrUnknownTargetType is returned when a target type isn't registered.
	ErrUnknownTargetType = errors.New("unknown target type")

	// ErrDuplicateAccount is returned when opening an account that already exists.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrDuplicateTarget is returned when registering a target twice.
	ErrDuplicateTarget = errors.New("target already exists")

	// ErrNegativeAmount is returned when a debit or credit is given a negative amount.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID AccountID
	Required  Amount
	Available Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for account %s: required %s, available %s",
		e.AccountID, e.Required, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// TargetNotFoundError names the missing target.
type TargetNotFoundError struct {
	Ref TargetRef
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target not found: %s", e.Ref)
}

func (e *TargetNotFoundError) Unwrap() error {
	return ErrTargetNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrSelfReaction) ||
		errors.Is(err, ErrInvalidReaction) ||
		errors.Is(err, ErrUnknownTargetType) ||
		errors.Is(err, ErrNegativeAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}

// IsConflict returns true if the error indicates a clash with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateAccount) ||
		errors.Is(err, ErrDuplicateTarget) ||
		errors.Is(err, ErrConcurrencyConflict)
}
